package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/transport"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

// Driver issues module commands over a transport and correlates responses.
// Commands are half-duplex: one outstanding exchange at a time. Multi-poll
// notices are the exception; the dispatch loop routes them to the active
// notice stream while ordinary exchanges (including Stop Multi Poll) keep
// working.
type Driver struct {
	transport transport.Transport
	logger    *zap.Logger
	timeout   time.Duration

	// cmdMu serializes command exchanges on the wire.
	cmdMu sync.Mutex

	mu      sync.Mutex
	pending chan protocol.Frame
	notices chan protocol.TagRead
	fatal   error

	done chan struct{}
	wg   sync.WaitGroup
}

func New(t transport.Transport, timeout time.Duration, logger *zap.Logger) *Driver {
	d := &Driver{
		transport: t,
		logger:    logger,
		timeout:   timeout,
		done:      make(chan struct{}),
	}
	d.wg.Add(1)
	go d.dispatchLoop()
	return d
}

// Close stops the dispatch loop. The transport is closed by its owner.
func (d *Driver) Close() {
	d.mu.Lock()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// dispatchLoop routes inbound frames: notices to the multi-poll stream,
// responses to the waiting exchange. Checksum errors were already handled by
// the transport; anything else coming off the error channel is fatal.
func (d *Driver) dispatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case frame, ok := <-d.transport.Frames():
			if !ok {
				d.setFatal(fmt.Errorf("frame stream closed: %w", types.ErrTransport))
				return
			}
			d.routeFrame(frame)
		case err, ok := <-d.transport.Errors():
			if !ok {
				continue
			}
			if errors.Is(err, types.ErrChecksum) {
				continue
			}
			d.setFatal(err)
		}
	}
}

func (d *Driver) routeFrame(frame protocol.Frame) {
	if frame.Type == protocol.FrameTypeNotice {
		tag, err := protocol.ParseTagRead(frame.Payload)
		if err != nil {
			d.logger.Warn("Unparseable notice frame", zap.Error(err))
			return
		}
		d.mu.Lock()
		notices := d.notices
		d.mu.Unlock()
		if notices == nil {
			return
		}
		select {
		case notices <- *tag:
		default:
			d.logger.Warn("Notice stream full, dropping tag read", zap.String("epc", tag.EPC))
		}
		return
	}

	d.mu.Lock()
	pending := d.pending
	d.mu.Unlock()
	if pending == nil {
		d.logger.Debug("Unsolicited response frame dropped",
			zap.Uint8("command", frame.Command))
		return
	}
	select {
	case pending <- frame:
	default:
	}
}

func (d *Driver) setFatal(err error) {
	d.mu.Lock()
	if d.fatal == nil {
		d.fatal = err
	}
	// Detach before closing so a second failure cannot close the same
	// channel twice.
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	if pending != nil {
		close(pending)
	}
	d.logger.Error("Transport failure", zap.Error(err))
}

// exchange sends one command frame and waits for the response with the same
// command code. No response within the timeout window is a CommandTimeout;
// retrying is the caller's decision.
func (d *Driver) exchange(ctx context.Context, command byte, payload []byte) (*protocol.Frame, error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	if d.fatal != nil {
		err := d.fatal
		d.mu.Unlock()
		return nil, err
	}
	pending := make(chan protocol.Frame, 4)
	d.pending = pending
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
	}()

	if err := d.transport.Write(protocol.Encode(command, payload)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("command 0x%02X: %w", command, types.ErrCommandTimeout)
		case frame, ok := <-pending:
			if !ok {
				d.mu.Lock()
				err := d.fatal
				d.mu.Unlock()
				if err == nil {
					err = types.ErrTransport
				}
				return nil, err
			}
			if frame.Command != command {
				d.logger.Debug("Stale response discarded",
					zap.Uint8("want", command),
					zap.Uint8("got", frame.Command))
				continue
			}
			return &frame, nil
		}
	}
}

// ack runs an exchange and checks the single status byte reply.
func (d *Driver) ack(ctx context.Context, command byte, payload []byte) error {
	frame, err := d.exchange(ctx, command, payload)
	if err != nil {
		return err
	}
	return protocol.CheckStatus(frame.Payload)
}

// FirmwareVersion reads the module's firmware version string.
func (d *Driver) FirmwareVersion(ctx context.Context) (string, error) {
	frame, err := d.exchange(ctx, protocol.CmdGetFirmwareVersion, nil)
	if err != nil {
		return "", err
	}
	if protocol.IsErrorPayload(frame.Payload) {
		return "", &types.ModuleError{Code: frame.Payload[0]}
	}
	return protocol.ParseVersion(frame.Payload), nil
}

// SinglePoll asks for one tag observation. A module "tag not found" comes
// back as a *types.ModuleError; the poll loops treat that as an empty field,
// not a failure.
func (d *Driver) SinglePoll(ctx context.Context) (*protocol.TagRead, error) {
	frame, err := d.exchange(ctx, protocol.CmdSinglePoll, nil)
	if err != nil {
		return nil, err
	}
	if protocol.IsErrorPayload(frame.Payload) {
		return nil, &types.ModuleError{Code: frame.Payload[0]}
	}
	return protocol.ParseTagRead(frame.Payload)
}

// ReadData reads words from a tag memory bank.
func (d *Driver) ReadData(ctx context.Context, bank byte, addr, words uint16, password [4]byte) ([]byte, error) {
	frame, err := d.exchange(ctx, protocol.CmdReadData, protocol.ReadDataPayload(bank, addr, words, password))
	if err != nil {
		return nil, err
	}
	if protocol.IsErrorPayload(frame.Payload) {
		return nil, &types.ModuleError{Code: frame.Payload[0]}
	}
	return frame.Payload, nil
}

// WriteEPC writes a 96-bit EPC into the EPC bank of the tag in field.
func (d *Driver) WriteEPC(ctx context.Context, epc string, password [4]byte) error {
	payload, err := protocol.WriteEPCPayload(epc, password)
	if err != nil {
		return err
	}
	return d.ack(ctx, protocol.CmdWriteEPC, payload)
}

// Lock applies the given lock block to the tag in field.
func (d *Driver) Lock(ctx context.Context, lock [3]byte, password [4]byte) error {
	return d.ack(ctx, protocol.CmdLockTag, protocol.LockPayload(lock, password))
}

// SetRFPower sets the output power in dBm.
func (d *Driver) SetRFPower(ctx context.Context, dbm int) error {
	return d.ack(ctx, protocol.CmdSetRFPower, protocol.SetRFPowerPayload(dbm))
}

// RFPower reads back the configured output power in dBm.
func (d *Driver) RFPower(ctx context.Context) (int, error) {
	frame, err := d.exchange(ctx, protocol.CmdGetRFPower, nil)
	if err != nil {
		return 0, err
	}
	if protocol.IsErrorPayload(frame.Payload) {
		return 0, &types.ModuleError{Code: frame.Payload[0]}
	}
	return protocol.ParseRFPower(frame.Payload)
}

// StartMultiPoll switches the module into streaming inventory mode. Tag
// reads arrive on the returned channel until StopMultiPoll.
func (d *Driver) StartMultiPoll(ctx context.Context, rounds uint16) (<-chan protocol.TagRead, error) {
	d.mu.Lock()
	if d.notices != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("multi poll already active: %w", types.ErrDeviceBusy)
	}
	notices := make(chan protocol.TagRead, 256)
	d.notices = notices
	d.mu.Unlock()

	// The module replies with the notice stream itself, not an ack.
	d.cmdMu.Lock()
	err := d.transport.Write(protocol.Encode(protocol.CmdMultiPoll, protocol.MultiPollPayload(rounds)))
	d.cmdMu.Unlock()
	if err != nil {
		d.mu.Lock()
		d.notices = nil
		d.mu.Unlock()
		return nil, err
	}
	return notices, nil
}

// StopMultiPoll sends the stop command, waits for its ack and closes the
// notice stream. In-flight notices already routed stay readable until the
// channel is drained by the consumer.
func (d *Driver) StopMultiPoll(ctx context.Context) error {
	err := d.ack(ctx, protocol.CmdStopMultiPoll, nil)

	d.mu.Lock()
	notices := d.notices
	d.notices = nil
	d.mu.Unlock()
	if notices != nil {
		close(notices)
	}
	return err
}
