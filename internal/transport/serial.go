package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/types"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Transport delivers decoded frames from the reader module and accepts raw
// command bytes. Exactly one consumer reads Frames at a time.
type Transport interface {
	Write(data []byte) error
	Frames() <-chan protocol.Frame
	Errors() <-chan error
	Close() error
}

// Options are the physical link parameters. Values come from config and the
// selected reader profile, never from package-level state.
type Options struct {
	Port        string
	BaudRate    int
	SettleDelay time.Duration
}

// SerialTransport owns the serial port and runs the read/reassembly loop.
type SerialTransport struct {
	port   serial.Port
	logger *zap.Logger

	frames chan protocol.Frame
	errs   chan error

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

const readChunkSize = 256

// Open claims the port, raises DTR to enable the module and waits out the
// settle delay before returning. The module ignores bytes sent during the
// settle window, so sending earlier just looks like a dead reader.
func Open(opts Options, logger *zap.Logger) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", opts.Port, err, types.ErrConnection)
	}

	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("enable module on %s: %v: %w", opts.Port, err, types.ErrConnection)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure %s: %v: %w", opts.Port, err, types.ErrConnection)
	}

	time.Sleep(opts.SettleDelay)

	t := &SerialTransport{
		port:   port,
		logger: logger,
		frames: make(chan protocol.Frame, 64),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}

	t.wg.Add(1)
	go t.readLoop()

	logger.Info("Serial transport opened",
		zap.String("port", opts.Port),
		zap.Int("baud_rate", opts.BaudRate),
		zap.Duration("settle_delay", opts.SettleDelay))

	return t, nil
}

func (t *SerialTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("write on closed port: %w", types.ErrTransport)
	}
	if _, err := t.port.Write(data); err != nil {
		return fmt.Errorf("serial write: %v: %w", err, types.ErrTransport)
	}
	return nil
}

func (t *SerialTransport) Frames() <-chan protocol.Frame {
	return t.frames
}

func (t *SerialTransport) Errors() <-chan error {
	return t.errs
}

// Close releases the port on every path so a later Open can reclaim it.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	err := t.port.Close()
	t.wg.Wait()
	close(t.frames)

	if err != nil {
		return fmt.Errorf("close port: %w", err)
	}
	return nil
}

// readLoop pulls raw bytes off the wire and feeds them through the frame
// decoder, emitting complete frames and reporting checksum errors without
// tearing the stream down.
func (t *SerialTransport) readLoop() {
	defer t.wg.Done()

	chunk := make([]byte, readChunkSize)
	var buffer []byte

	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.port.Read(chunk)
		if err != nil {
			select {
			case <-t.done:
				// Close() pulled the port out from under us.
			default:
				t.reportError(fmt.Errorf("serial read: %v: %w", err, types.ErrTransport))
			}
			return
		}
		if n == 0 {
			continue
		}

		buffer = append(buffer, chunk[:n]...)
		for {
			frame, rest, decodeErr := protocol.Decode(buffer)
			buffer = rest
			if decodeErr != nil {
				t.logger.Warn("Discarded malformed frame", zap.Error(decodeErr))
				t.reportError(decodeErr)
				continue
			}
			if frame == nil {
				break
			}
			select {
			case t.frames <- *frame:
			case <-t.done:
				return
			}
		}
	}
}

func (t *SerialTransport) reportError(err error) {
	select {
	case t.errs <- err:
	default:
		t.logger.Warn("Transport error channel full, dropping", zap.Error(err))
	}
}
