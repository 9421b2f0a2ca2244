package provision

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/epc"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDriver simulates the reader module. The default poll behavior mirrors
// the hardware: an empty field until an EPC has been written, then the tag
// reports its new EPC.
type fakeDriver struct {
	mu        sync.Mutex
	written   []string
	writeErrs []error
	lockErr   error
	lockCalls int
	pollFn    func() (*protocol.TagRead, error)
	multiCh   chan protocol.TagRead
	stopped   bool
}

func (d *fakeDriver) SinglePoll(_ context.Context) (*protocol.TagRead, error) {
	d.mu.Lock()
	pollFn := d.pollFn
	var last string
	if len(d.written) > 0 {
		last = d.written[len(d.written)-1]
	}
	d.mu.Unlock()

	if pollFn != nil {
		return pollFn()
	}
	if last == "" {
		return nil, &types.ModuleError{Code: types.ModuleCodeTagNotFound}
	}
	return &protocol.TagRead{EPC: last, RSSI: -50}, nil
}

func (d *fakeDriver) WriteEPC(_ context.Context, epc string, _ [4]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.writeErrs) > 0 {
		err := d.writeErrs[0]
		d.writeErrs = d.writeErrs[1:]
		if err != nil {
			return err
		}
	}
	d.written = append(d.written, epc)
	return nil
}

func (d *fakeDriver) Lock(_ context.Context, _ [3]byte, _ [4]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lockCalls++
	return d.lockErr
}

func (d *fakeDriver) StartMultiPoll(_ context.Context, _ uint16) (<-chan protocol.TagRead, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.multiCh = make(chan protocol.TagRead, 64)
	d.stopped = false
	return d.multiCh, nil
}

func (d *fakeDriver) StopMultiPoll(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.multiCh != nil && !d.stopped {
		d.stopped = true
		close(d.multiCh)
	}
	return nil
}

func (d *fakeDriver) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.written)
}

// fakeRepo is an in-memory TagRepository enforcing the same uniqueness and
// transition rules as the SQL layer.
type fakeRepo struct {
	mu      sync.Mutex
	byEpc   map[string]*storage.TagRecord
	byID    map[uuid.UUID]*storage.TagRecord
	inserts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		byEpc: make(map[string]*storage.TagRecord),
		byID:  make(map[uuid.UUID]*storage.TagRecord),
	}
}

func (r *fakeRepo) InsertTag(_ context.Context, epc string) (*storage.TagRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEpc[epc]; exists {
		return nil, fmt.Errorf("epc %s: %w", epc, types.ErrDuplicateEpc)
	}
	record := &storage.TagRecord{
		ID:     uuid.New(),
		Epc:    epc,
		Status: storage.TagStatusGenerated,
	}
	r.byEpc[epc] = record
	r.byID[record.ID] = record
	r.inserts++
	copy := *record
	return &copy, nil
}

func (r *fakeRepo) UpdateTagStatus(_ context.Context, id uuid.UUID, status storage.TagStatus) (*storage.TagRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("tag %s not found", id)
	}
	if !record.Status.CanTransition(status) {
		return nil, fmt.Errorf("tag %s: illegal transition %s -> %s", id, record.Status, status)
	}
	record.Status = status
	copy := *record
	return &copy, nil
}

func (r *fakeRepo) FindTagByEpc(_ context.Context, epc string) (*storage.TagRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byEpc[epc]
	if !ok {
		return nil, nil
	}
	copy := *record
	return &copy, nil
}

func (r *fakeRepo) ListAllEpcs(_ context.Context) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	epcs := make(map[string]struct{}, len(r.byEpc))
	for epc := range r.byEpc {
		epcs[epc] = struct{}{}
	}
	return epcs, nil
}

func (r *fakeRepo) seed(epc string, status storage.TagStatus) *storage.TagRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := &storage.TagRecord{ID: uuid.New(), Epc: epc, Status: status}
	r.byEpc[epc] = record
	r.byID[record.ID] = record
	return record
}

func (r *fakeRepo) statusOf(epc string) storage.TagStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.byEpc[epc]; ok {
		return record.Status
	}
	return ""
}

func (r *fakeRepo) countByStatus(status storage.TagStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, record := range r.byEpc {
		if record.Status == status {
			n++
		}
	}
	return n
}

func testProvisionConfig() config.ProvisionConfig {
	return config.ProvisionConfig{
		WriteRetries: 3,
		LockTags:     true,
	}
}

func newTestWriter(driver *fakeDriver, repo *fakeRepo, cfg config.ProvisionConfig) *TagWriter {
	return NewTagWriter(driver, repo, epc.NewGenerator(), cfg, [4]byte{}, zap.NewNop())
}

func TestProvisionWritesAndLocks(t *testing.T) {
	driver := &fakeDriver{}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	blank := &protocol.TagRead{EPC: "E2000000000000000000AAAA"}
	result, err := writer.Provision(context.Background(), blank, map[string]struct{}{})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.True(t, result.Locked)
	assert.False(t, result.AlreadyWritten)
	assert.True(t, epc.Valid(result.Record.Epc))
	assert.Equal(t, storage.TagStatusLocked, repo.statusOf(result.Record.Epc))
	assert.Equal(t, 1, driver.lockCalls)
	assert.Equal(t, 1, repo.inserts)
}

func TestProvisionIdempotentOnRescan(t *testing.T) {
	driver := &fakeDriver{}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	existing := repo.seed(epc.VendorPrefix+"0102030405060708090A", storage.TagStatusWritten)

	result, err := writer.Provision(context.Background(),
		&protocol.TagRead{EPC: existing.Epc}, map[string]struct{}{})
	require.NoError(t, err)

	assert.True(t, result.AlreadyWritten)
	assert.False(t, result.Locked)
	assert.Equal(t, existing.Epc, result.Record.Epc)
	assert.Zero(t, driver.writeCount(), "no hardware write on a rescan")
	assert.Zero(t, repo.inserts, "no duplicate record")
}

func TestProvisionRetriesExhausted(t *testing.T) {
	driver := &fakeDriver{writeErrs: []error{
		&types.ModuleError{Code: types.ModuleCodeWriteFailed},
		&types.ModuleError{Code: types.ModuleCodeWriteFailed},
		&types.ModuleError{Code: types.ModuleCodeWriteFailed},
	}}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	_, err := writer.Provision(context.Background(), nil, map[string]struct{}{})
	require.Error(t, err)

	// Each attempt claims a fresh EPC and marks it failed; none is recycled.
	assert.Equal(t, 3, repo.inserts)
	assert.Equal(t, 3, repo.countByStatus(storage.TagStatusFailed))
	assert.Zero(t, repo.countByStatus(storage.TagStatusWritten))
}

func TestProvisionNonRetryableStopsImmediately(t *testing.T) {
	driver := &fakeDriver{writeErrs: []error{
		&types.ModuleError{Code: types.ModuleCodeMemoryLocked},
	}}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	_, err := writer.Provision(context.Background(), nil, map[string]struct{}{})
	require.Error(t, err)

	assert.Equal(t, 1, repo.inserts)
	assert.Equal(t, 1, repo.countByStatus(storage.TagStatusFailed))
}

func TestProvisionVerifyMismatchFails(t *testing.T) {
	driver := &fakeDriver{}
	driver.pollFn = func() (*protocol.TagRead, error) {
		return &protocol.TagRead{EPC: "AAAAAAAAAAAAAAAAAAAAAAAA"}, nil
	}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	_, err := writer.Provision(context.Background(), nil, map[string]struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify mismatch")
	assert.Equal(t, 1, repo.countByStatus(storage.TagStatusFailed))
}

func TestProvisionLockFailureIsSoft(t *testing.T) {
	driver := &fakeDriver{lockErr: &types.ModuleError{Code: types.ModuleCodeLockFailed}}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	result, err := writer.Provision(context.Background(), nil, map[string]struct{}{})
	require.NoError(t, err)

	assert.False(t, result.Locked)
	assert.Error(t, result.LockError)
	assert.Equal(t, storage.TagStatusWritten, repo.statusOf(result.Record.Epc))
}

func TestProvisionLockDisabled(t *testing.T) {
	cfg := testProvisionConfig()
	cfg.LockTags = false

	driver := &fakeDriver{}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, cfg)

	result, err := writer.Provision(context.Background(), nil, map[string]struct{}{})
	require.NoError(t, err)

	assert.False(t, result.Locked)
	assert.Zero(t, driver.lockCalls)
	assert.Equal(t, storage.TagStatusWritten, repo.statusOf(result.Record.Epc))
}

func TestProvisionAvoidsClaimedEpcs(t *testing.T) {
	driver := &fakeDriver{}
	repo := newFakeRepo()
	writer := newTestWriter(driver, repo, testProvisionConfig())

	avoid := map[string]struct{}{}
	result, err := writer.Provision(context.Background(), nil, avoid)
	require.NoError(t, err)

	_, claimed := avoid[result.Record.Epc]
	assert.True(t, claimed, "claimed epc must join the avoidance set")
}
