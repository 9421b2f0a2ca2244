package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/epc"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/types"
	"go.uber.org/zap"
)

// WriteState is the phase of one tag-provisioning run.
type WriteState string

const (
	StateIdle       WriteState = "idle"
	StateGenerating WriteState = "generating"
	StateWriting    WriteState = "writing"
	StateVerifying  WriteState = "verifying"
	StateLocking    WriteState = "locking"
	StateDone       WriteState = "done"
	StateFailed     WriteState = "failed"
)

// lockBlockEPC locks the EPC bank with the access password (Gen2 action
// field, pwd-write on EPC memory).
var lockBlockEPC = [3]byte{0x02, 0x00, 0x80}

// WriteResult reports the terminal state of one provisioning run.
type WriteResult struct {
	Record         *storage.TagRecord
	State          WriteState
	AlreadyWritten bool
	Locked         bool
	// LockError is set when the write succeeded but the optional lock step
	// failed. The tag stays usable in status written.
	LockError error
}

// TagWriter drives a single physical tag through
// generating → writing → verifying → locking → done. The TagRecord is
// persisted in status generated before the first hardware write, so a crash
// mid-write never loses the fact that the EPC was claimed.
type TagWriter struct {
	driver    ReaderDriver
	repo      TagRepository
	generator *epc.Generator
	cfg       config.ProvisionConfig
	password  [4]byte
	logger    *zap.Logger
}

func NewTagWriter(
	driver ReaderDriver,
	repo TagRepository,
	generator *epc.Generator,
	cfg config.ProvisionConfig,
	password [4]byte,
	logger *zap.Logger,
) *TagWriter {
	return &TagWriter{
		driver:    driver,
		repo:      repo,
		generator: generator,
		cfg:       cfg,
		password:  password,
		logger:    logger,
	}
}

// Provision writes a fresh EPC to the tag currently in field. current is the
// tag's present read (for the idempotence check); avoid is the session's
// EPC avoidance set and is extended with every claimed EPC.
//
// Re-running against a tag that already carries one of our written EPCs is a
// no-op success, since transient disconnects make the orchestrator reattempt
// tags it already handled.
func (w *TagWriter) Provision(ctx context.Context, current *protocol.TagRead, avoid map[string]struct{}) (*WriteResult, error) {
	if current != nil {
		if done, err := w.checkAlreadyWritten(ctx, current.EPC); err != nil {
			return nil, err
		} else if done != nil {
			return done, nil
		}
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.WriteRetries; attempt++ {
		record, err := w.claimEpc(ctx, avoid)
		if err != nil {
			return nil, err
		}

		writeErr := w.driver.WriteEPC(ctx, record.Epc, w.password)
		if writeErr != nil {
			// The claimed EPC is never recycled, even though the physical
			// write did not land.
			w.markFailed(ctx, record)
			lastErr = writeErr
			if retryableWriteError(writeErr) && attempt < w.cfg.WriteRetries {
				w.logger.Warn("Tag write failed, retrying with fresh EPC",
					zap.String("epc", record.Epc),
					zap.Int("attempt", attempt),
					zap.Error(writeErr))
				continue
			}
			return nil, fmt.Errorf("write epc %s: %w", record.Epc, writeErr)
		}

		if err := w.verify(ctx, record.Epc); err != nil {
			w.markFailed(ctx, record)
			return nil, err
		}

		written, err := w.repo.UpdateTagStatus(ctx, record.ID, storage.TagStatusWritten)
		if err != nil {
			return nil, fmt.Errorf("persist written status: %w", err)
		}

		result := &WriteResult{Record: written, State: StateDone}
		if !w.cfg.LockTags {
			return result, nil
		}

		if lockErr := w.driver.Lock(ctx, lockBlockEPC, w.password); lockErr != nil {
			// Locking is a soft step: a written-but-unlocked tag is usable.
			w.logger.Warn("Tag lock failed, leaving tag written",
				zap.String("epc", written.Epc),
				zap.Error(lockErr))
			result.LockError = lockErr
			return result, nil
		}

		locked, err := w.repo.UpdateTagStatus(ctx, record.ID, storage.TagStatusLocked)
		if err != nil {
			return nil, fmt.Errorf("persist locked status: %w", err)
		}
		result.Record = locked
		result.Locked = true
		return result, nil
	}

	return nil, fmt.Errorf("write retries exhausted: %w", lastErr)
}

func (w *TagWriter) checkAlreadyWritten(ctx context.Context, currentEpc string) (*WriteResult, error) {
	if !epc.Valid(currentEpc) {
		return nil, nil
	}
	record, err := w.repo.FindTagByEpc(ctx, currentEpc)
	if err != nil {
		return nil, fmt.Errorf("idempotence check: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	if record.Status == storage.TagStatusWritten || record.Status == storage.TagStatusLocked {
		w.logger.Info("Tag already provisioned, skipping",
			zap.String("epc", currentEpc),
			zap.String("status", string(record.Status)))
		return &WriteResult{
			Record:         record,
			State:          StateDone,
			AlreadyWritten: true,
			Locked:         record.Status == storage.TagStatusLocked,
		}, nil
	}
	return nil, nil
}

// claimEpc generates a collision-free EPC and persists it in status
// generated. Races against concurrent stations resolve at the repository's
// uniqueness constraint, which just triggers another draw.
func (w *TagWriter) claimEpc(ctx context.Context, avoid map[string]struct{}) (*storage.TagRecord, error) {
	const claimAttempts = 8

	for i := 0; i < claimAttempts; i++ {
		candidate, err := w.generator.Generate(avoid)
		if err != nil {
			return nil, fmt.Errorf("generate epc: %w", err)
		}
		avoid[candidate] = struct{}{}

		existing, err := w.repo.FindTagByEpc(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("pre-insert check: %w", err)
		}
		if existing != nil {
			continue
		}

		record, err := w.repo.InsertTag(ctx, candidate)
		if err != nil {
			if errors.Is(err, types.ErrDuplicateEpc) {
				continue
			}
			return nil, fmt.Errorf("claim epc: %w", err)
		}
		return record, nil
	}
	return nil, fmt.Errorf("could not claim an unused epc after %d attempts", claimAttempts)
}

// verify polls the tag back and requires it to report the freshly written
// EPC. A mismatch is never silently accepted.
func (w *TagWriter) verify(ctx context.Context, want string) error {
	read, err := w.driver.SinglePoll(ctx)
	if err != nil {
		return fmt.Errorf("verify poll: %w", err)
	}
	if read.EPC != want {
		return fmt.Errorf("verify mismatch: tag reports %s, wrote %s", read.EPC, want)
	}
	return nil
}

func (w *TagWriter) markFailed(ctx context.Context, record *storage.TagRecord) {
	if _, err := w.repo.UpdateTagStatus(ctx, record.ID, storage.TagStatusFailed); err != nil {
		w.logger.Error("Failed to persist failed status",
			zap.String("epc", record.Epc),
			zap.Error(err))
	}
}

func retryableWriteError(err error) bool {
	if errors.Is(err, types.ErrCommandTimeout) {
		return true
	}
	var moduleErr *types.ModuleError
	if errors.As(err, &moduleErr) {
		return moduleErr.Retryable()
	}
	return false
}
