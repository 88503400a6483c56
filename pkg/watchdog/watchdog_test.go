package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

func newTestWatchdog(t *testing.T) (*Watchdog, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.CreateServer(&types.Server{ID: "srv-1", Name: "srv-1"}))

	return New(store, time.Minute, 5*time.Minute), store
}

func seedZone(t *testing.T, store storage.Store, id string, desired, applied types.ZoneState, updatedAt time.Time) {
	t.Helper()

	require.NoError(t, store.CreateZone(&types.Zone{
		ID:             id,
		ServerID:       "srv-1",
		OwnerName:      "Alice",
		DesiredState:   desired,
		AppliedState:   applied,
		StateChangedAt: updatedAt,
		CreatedAt:      updatedAt,
		UpdatedAt:      updatedAt,
	}))
}

func TestScanFlagsStuckZone(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateRed, types.ZoneStateYellow, now.Add(-10*time.Minute))

	require.NoError(t, w.Scan(now))

	alert, err := store.GetHealthAlert("z1")
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateRed, alert.DesiredState)
	assert.Equal(t, types.ZoneStateYellow, alert.AppliedState)
}

func TestScanIgnoresRecentMismatch(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateRed, types.ZoneStateYellow, now.Add(-time.Minute))

	require.NoError(t, w.Scan(now))

	_, err := store.GetHealthAlert("z1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// TestScanSurvivesRoutineRecordWrites pins the staleness clock to the
// state-change stamp. Monitoring passes rewrite a zone record every poll,
// so a stuck zone with an online owner would otherwise always look fresh
// and never be flagged.
func TestScanSurvivesRoutineRecordWrites(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateGreen, types.ZoneStateWhite, now.Add(-time.Hour))

	// A pass just persisted the record again without changing state.
	zone, err := store.GetZone("z1")
	require.NoError(t, err)
	zone.LastOnlineAt = now
	zone.UpdatedAt = now
	require.NoError(t, store.UpdateZone(zone))

	require.NoError(t, w.Scan(now))

	alert, err := store.GetHealthAlert("z1")
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, alert.DesiredState)
	assert.Equal(t, types.ZoneStateWhite, alert.AppliedState)
	assert.Equal(t, now.Add(-time.Hour).Unix(), alert.Since.Unix())
}

func TestScanIgnoresConvergedZone(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateGreen, types.ZoneStateGreen, now.Add(-time.Hour))

	require.NoError(t, w.Scan(now))

	_, err := store.GetHealthAlert("z1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// Repeated scans over the same stuck zone keep the original alert record
func TestScanDeduplicates(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateRed, types.ZoneStateYellow, now.Add(-10*time.Minute))

	require.NoError(t, w.Scan(now))
	first, err := store.GetHealthAlert("z1")
	require.NoError(t, err)

	require.NoError(t, w.Scan(now.Add(time.Minute)))
	second, err := store.GetHealthAlert("z1")
	require.NoError(t, err)
	assert.Equal(t, first.RecordedAt.Unix(), second.RecordedAt.Unix())
}

func TestScanClearsResolvedAlert(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateRed, types.ZoneStateYellow, now.Add(-10*time.Minute))

	require.NoError(t, w.Scan(now))
	_, err := store.GetHealthAlert("z1")
	require.NoError(t, err)

	// The reconciler caught up.
	zone, err := store.GetZone("z1")
	require.NoError(t, err)
	zone.AppliedState = types.ZoneStateRed
	require.NoError(t, store.UpdateZone(zone))

	require.NoError(t, w.Scan(now.Add(time.Minute)))
	_, err = store.GetHealthAlert("z1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScanClearsAlertForDeletedZone(t *testing.T) {
	w, store := newTestWatchdog(t)
	now := time.Now()
	seedZone(t, store, "z1", types.ZoneStateRed, types.ZoneStateYellow, now.Add(-10*time.Minute))

	require.NoError(t, w.Scan(now))
	require.NoError(t, store.DeleteZone("z1"))

	require.NoError(t, w.Scan(now.Add(time.Minute)))
	_, err := store.GetHealthAlert("z1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
