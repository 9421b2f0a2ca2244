package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

const scanHolder = "scan"

// Sighting is one deduplicated tag observation classified against the
// repository. Unknown sightings may be read noise or a foreign tag.
type Sighting struct {
	Epc    string             `json:"epc"`
	RSSI   int8               `json:"rssi"`
	Known  bool               `json:"known"`
	Status *storage.TagStatus `json:"status,omitempty"`
	SeenAt time.Time          `json:"seen_at"`
}

// ScanStatus is the live reconciliation state exposed to the UI.
type ScanStatus struct {
	Running   bool       `json:"running"`
	Known     int        `json:"known"`
	Unknown   int        `json:"unknown"`
	Sightings []Sighting `json:"sightings"`
	LastError string     `json:"last_error,omitempty"`
}

// ScanReconciler runs the module in multi-poll mode and classifies every
// distinct EPC seen as known or unknown. It never mutates a TagRecord.
type ScanReconciler struct {
	driver ReaderDriver
	repo   TagRepository
	guard  *TransportGuard
	events EventSink
	cfg    config.ProvisionConfig
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	seen      map[string]struct{}
	sightings []Sighting
	known     int
	unknown   int
	lastError string
}

func NewScanReconciler(
	driver ReaderDriver,
	repo TagRepository,
	guard *TransportGuard,
	events EventSink,
	cfg config.ProvisionConfig,
	logger *zap.Logger,
) *ScanReconciler {
	return &ScanReconciler{
		driver: driver,
		repo:   repo,
		guard:  guard,
		events: events,
		cfg:    cfg,
		logger: logger,
	}
}

// Start claims the transport and switches the module into streaming
// inventory mode.
func (r *ScanReconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("scan: %w", types.ErrDeviceBusy)
	}
	if err := r.guard.TryAcquire(scanHolder); err != nil {
		r.lastError = err.Error()
		return err
	}

	reads, err := r.driver.StartMultiPoll(ctx, uint16(r.cfg.MultiPollRounds))
	if err != nil {
		r.guard.Release(scanHolder)
		r.lastError = err.Error()
		return fmt.Errorf("start multi poll: %w", err)
	}

	// The session outlives the Start caller; it runs until Stop or a
	// stream failure regardless of what happens to the caller's context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.seen = make(map[string]struct{})
	r.sightings = nil
	r.known = 0
	r.unknown = 0
	r.lastError = ""

	r.logger.Info("Scan session started")
	go r.run(runCtx, reads)
	return nil
}

// Stop cancels the stream. The stop command is sent and acknowledged, and
// in-flight notices are drained, before the transport is released.
func (r *ScanReconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return types.ErrSessionNotRunning
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Status returns a copy of the live session state.
func (r *ScanReconciler) Status() ScanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ScanStatus{
		Running:   r.running,
		Known:     r.known,
		Unknown:   r.unknown,
		Sightings: append([]Sighting(nil), r.sightings...),
		LastError: r.lastError,
	}
}

func (r *ScanReconciler) run(ctx context.Context, reads <-chan protocol.TagRead) {
	defer r.finish()

	for {
		select {
		case <-ctx.Done():
			// Leave streaming mode before freeing the transport: send the
			// stop command, await its ack, then drain what already arrived.
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.driver.StopMultiPoll(stopCtx); err != nil {
				r.setLastError(err)
				r.logger.Warn("Stop multi poll failed", zap.Error(err))
			}
			cancel()
			for read := range reads {
				r.observe(ctx, read)
			}
			return
		case read, ok := <-reads:
			if !ok {
				return
			}
			r.observe(ctx, read)
		}
	}
}

func (r *ScanReconciler) observe(ctx context.Context, read protocol.TagRead) {
	r.mu.Lock()
	if _, dup := r.seen[read.EPC]; dup {
		r.mu.Unlock()
		return
	}
	r.seen[read.EPC] = struct{}{}
	r.mu.Unlock()

	sighting := Sighting{
		Epc:    read.EPC,
		RSSI:   read.RSSI,
		SeenAt: time.Now(),
	}

	record, err := r.repo.FindTagByEpc(ctx, read.EPC)
	if err != nil {
		r.setLastError(err)
		r.logger.Warn("Sighting lookup failed", zap.String("epc", read.EPC), zap.Error(err))
	} else if record != nil {
		sighting.Known = true
		status := record.Status
		sighting.Status = &status
	}

	r.mu.Lock()
	r.sightings = append(r.sightings, sighting)
	if sighting.Known {
		r.known++
	} else {
		r.unknown++
	}
	r.mu.Unlock()

	if r.events != nil {
		r.events.Publish("scan_sighting", sighting)
	}
}

func (r *ScanReconciler) finish() {
	r.mu.Lock()
	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	done := r.done
	known, unknown := r.known, r.unknown
	r.mu.Unlock()

	r.guard.Release(scanHolder)
	if r.events != nil {
		r.events.Publish("scan_stopped", r.Status())
	}
	r.logger.Info("Scan session stopped",
		zap.Int("known", known),
		zap.Int("unknown", unknown))
	close(done)
}

func (r *ScanReconciler) setLastError(err error) {
	r.mu.Lock()
	r.lastError = err.Error()
	r.mu.Unlock()
}
