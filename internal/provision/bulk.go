package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

const bulkHolder = "bulk-write"

// BulkStatus is the live session state exposed to the UI.
type BulkStatus struct {
	Running   bool       `json:"running"`
	SessionID uuid.UUID  `json:"session_id,omitempty"`
	Count     int        `json:"count"`
	Epcs      []string   `json:"epcs"`
	LastError string     `json:"last_error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// BulkOrchestrator runs the tag writer continuously against whatever tag is
// physically present. At most one tag write is in flight at any time; the
// serial link is never pipelined.
type BulkOrchestrator struct {
	driver ReaderDriver
	repo   TagRepository
	writer *TagWriter
	guard  *TransportGuard
	events EventSink
	cfg    config.ProvisionConfig
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	sessionID uuid.UUID
	count     int
	epcs      []string
	lastError string
	startedAt time.Time
}

func NewBulkOrchestrator(
	driver ReaderDriver,
	repo TagRepository,
	writer *TagWriter,
	guard *TransportGuard,
	events EventSink,
	cfg config.ProvisionConfig,
	logger *zap.Logger,
) *BulkOrchestrator {
	return &BulkOrchestrator{
		driver: driver,
		repo:   repo,
		writer: writer,
		guard:  guard,
		events: events,
		cfg:    cfg,
		logger: logger,
	}
}

// Start claims the transport and begins polling for blank tags. A second
// session on the same transport fails fast with DeviceBusy instead of
// interleaving commands on the wire.
func (o *BulkOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("bulk write: %w", types.ErrDeviceBusy)
	}
	if err := o.guard.TryAcquire(bulkHolder); err != nil {
		o.lastError = err.Error()
		return err
	}

	avoid, err := o.repo.ListAllEpcs(ctx)
	if err != nil {
		o.guard.Release(bulkHolder)
		o.lastError = err.Error()
		return fmt.Errorf("seed avoidance set: %w", err)
	}

	// The session outlives the Start caller (typically an HTTP request
	// whose context dies when the handler returns). Only Stop, the idle
	// timeout or a transport failure end it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.sessionID = uuid.New()
	o.count = 0
	o.epcs = nil
	o.lastError = ""
	o.startedAt = time.Now()

	o.logger.Info("Bulk write session started",
		zap.String("session_id", o.sessionID.String()),
		zap.Int("known_epcs", len(avoid)))
	o.publish("bulk_started", o.statusLocked())

	go o.run(runCtx, avoid)
	return nil
}

// Stop ends the session. An in-progress single-tag write finishes to a
// terminal state before the transport is released.
func (o *BulkOrchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return types.ErrSessionNotRunning
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Status returns a copy of the live session state.
func (o *BulkOrchestrator) Status() BulkStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *BulkOrchestrator) statusLocked() BulkStatus {
	status := BulkStatus{
		Running:   o.running,
		SessionID: o.sessionID,
		Count:     o.count,
		Epcs:      append([]string(nil), o.epcs...),
		LastError: o.lastError,
	}
	if o.running {
		started := o.startedAt
		status.StartedAt = &started
	}
	return status
}

func (o *BulkOrchestrator) run(ctx context.Context, avoid map[string]struct{}) {
	defer o.finish()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	idleSince := time.Now()
	lastEpc := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		read, err := o.driver.SinglePoll(ctx)
		if err != nil {
			if isNoTag(err) {
				if time.Since(idleSince) >= o.cfg.IdleTimeout {
					// Operator walked away or ran out of blanks. Normal
					// termination, no error recorded.
					o.logger.Info("Bulk write idle timeout, auto-stopping",
						zap.Duration("idle_timeout", o.cfg.IdleTimeout))
					return
				}
				continue
			}
			if errors.Is(err, types.ErrTransport) || errors.Is(err, types.ErrConnection) {
				o.setLastError(err)
				o.logger.Error("Bulk write session aborted", zap.Error(err))
				return
			}
			o.logger.Warn("Poll failed", zap.Error(err))
			continue
		}

		idleSince = time.Now()
		if read.EPC == lastEpc && lastEpc != "" {
			continue
		}

		// The write must reach a terminal tag status even if the session is
		// being cancelled, so the record is never left mid-transition.
		result, err := o.writer.Provision(context.WithoutCancel(ctx), read, avoid)
		if err != nil {
			// One bad tag does not abort the run.
			o.setLastError(err)
			o.publish("tag_failed", map[string]any{"error": err.Error()})
			lastEpc = read.EPC
			continue
		}

		lastEpc = result.Record.Epc
		if result.AlreadyWritten {
			continue
		}

		o.mu.Lock()
		o.count++
		o.epcs = append(o.epcs, result.Record.Epc)
		o.mu.Unlock()

		o.logger.Info("Tag provisioned",
			zap.String("epc", result.Record.Epc),
			zap.Bool("locked", result.Locked),
			zap.Int("session_count", o.Status().Count))
		o.publish("tag_written", result.Record)
	}
}

func (o *BulkOrchestrator) finish() {
	o.mu.Lock()
	o.running = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	done := o.done
	status := o.statusLocked()
	o.mu.Unlock()

	o.guard.Release(bulkHolder)
	o.publish("bulk_stopped", status)
	o.logger.Info("Bulk write session stopped",
		zap.Int("tags_written", status.Count),
		zap.String("last_error", status.LastError))
	close(done)
}

func (o *BulkOrchestrator) setLastError(err error) {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()
}

func (o *BulkOrchestrator) publish(eventType string, data any) {
	if o.events != nil {
		o.events.Publish(eventType, data)
	}
}

// isNoTag reports whether the poll error just means an empty field.
func isNoTag(err error) bool {
	var moduleErr *types.ModuleError
	if errors.As(err, &moduleErr) {
		return moduleErr.Code == types.ModuleCodeTagNotFound
	}
	// A timed-out poll counts towards idle as well.
	return errors.Is(err, types.ErrCommandTimeout)
}
