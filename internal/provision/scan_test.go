package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soundvault/rfidcore/internal/config"
	"github.com/soundvault/rfidcore/internal/epc"
	"github.com/soundvault/rfidcore/internal/protocol"
	"github.com/soundvault/rfidcore/internal/storage"
	"github.com/soundvault/rfidcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScan(driver *fakeDriver, repo *fakeRepo, sink EventSink) (*ScanReconciler, *TransportGuard) {
	guard := NewTransportGuard()
	cfg := config.ProvisionConfig{MultiPollRounds: 10000}
	return NewScanReconciler(driver, repo, guard, sink, cfg, zap.NewNop()), guard
}

func (d *fakeDriver) emitRead(epc string, rssi int8) {
	d.mu.Lock()
	ch := d.multiCh
	d.mu.Unlock()
	ch <- protocol.TagRead{EPC: epc, RSSI: rssi}
}

func TestScanClassifiesSightings(t *testing.T) {
	driver := &fakeDriver{}
	repo := newFakeRepo()
	sink := &fakeSink{}
	scan, guard := newTestScan(driver, repo, sink)

	ours := epc.VendorPrefix + "0102030405060708090A"
	repo.seed(ours, storage.TagStatusLocked)

	require.NoError(t, scan.Start(context.Background()))
	assert.Equal(t, "scan", guard.Holder())

	driver.emitRead(ours, -48)
	driver.emitRead("E2000000000000000000EEEE", -60)
	driver.emitRead(ours, -50) // duplicate, ignored

	require.Eventually(t, func() bool {
		return len(scan.Status().Sightings) == 2
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scan.Stop(ctx))

	status := scan.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.Known)
	assert.Equal(t, 1, status.Unknown)
	require.Len(t, status.Sightings, 2)

	byEpc := map[string]Sighting{}
	for _, s := range status.Sightings {
		byEpc[s.Epc] = s
	}
	require.Contains(t, byEpc, ours)
	assert.True(t, byEpc[ours].Known)
	require.NotNil(t, byEpc[ours].Status)
	assert.Equal(t, storage.TagStatusLocked, *byEpc[ours].Status)
	assert.False(t, byEpc["E2000000000000000000EEEE"].Known)

	assert.Equal(t, "", guard.Holder(), "transport released after stop")
	assert.Contains(t, sink.seen(), "scan_sighting")
	assert.Contains(t, sink.seen(), "scan_stopped")
}

func TestScanStopDrainsBufferedReads(t *testing.T) {
	driver := &fakeDriver{}
	repo := newFakeRepo()
	scan, _ := newTestScan(driver, repo, nil)

	require.NoError(t, scan.Start(context.Background()))

	// Queue reads and stop immediately; the buffered sightings must still
	// be recorded before the session ends.
	driver.emitRead("E2000000000000000000AA01", -51)
	driver.emitRead("E2000000000000000000AA02", -52)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scan.Stop(ctx))

	status := scan.Status()
	assert.Len(t, status.Sightings, 2)
	assert.Equal(t, 2, status.Unknown)
}

func TestScanConflictsWithBulkSession(t *testing.T) {
	driver := &fakeDriver{pollFn: emptyField}
	repo := newFakeRepo()

	guard := NewTransportGuard()
	cfg := config.ProvisionConfig{
		PollInterval:    2 * time.Millisecond,
		IdleTimeout:     5 * time.Second,
		WriteRetries:    3,
		MultiPollRounds: 10000,
	}
	writer := newTestWriter(driver, repo, cfg)
	bulk := NewBulkOrchestrator(driver, repo, writer, guard, nil, cfg, zap.NewNop())
	scan := NewScanReconciler(driver, repo, guard, nil, cfg, zap.NewNop())

	require.NoError(t, bulk.Start(context.Background()))

	err := scan.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDeviceBusy))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bulk.Stop(ctx))

	// Once the bulk session releases the transport, scanning may begin.
	require.NoError(t, scan.Start(context.Background()))
	require.NoError(t, scan.Stop(ctx))
}

func TestScanStopWhenIdle(t *testing.T) {
	scan, _ := newTestScan(&fakeDriver{}, newFakeRepo(), nil)

	err := scan.Stop(context.Background())
	assert.True(t, errors.Is(err, types.ErrSessionNotRunning))
}

func TestScanOutlivesStartContext(t *testing.T) {
	driver := &fakeDriver{}
	scan, _ := newTestScan(driver, newFakeRepo(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scan.Start(ctx))
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.True(t, scan.Status().Running, "session must not die with the start caller's context")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, scan.Stop(stopCtx))
}
