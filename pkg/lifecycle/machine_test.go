package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (f *fakeRemover) RemoveZone(ctx context.Context, zone *types.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, zone.ID)
	return f.err
}

func (f *fakeRemover) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func newTestMachine(t *testing.T) (*Machine, storage.Store, *fakeRemover) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := NewScheduler()
	t.Cleanup(sched.Stop)

	remover := &fakeRemover{}
	return NewMachine(store, sched, events.NewBroker(), remover, "test-server"), store, remover
}

func seedZone(t *testing.T, store storage.Store, state types.ZoneState) *types.Zone {
	t.Helper()

	now := time.Now()
	zone := &types.Zone{
		ID:            "z1",
		ServerID:      "srv-1",
		OwnerID:       "alice",
		OwnerName:     "Alice",
		Position:      types.Position{X: 100, Y: 10, Z: 100},
		Radius:        75,
		DelayMinutes:  60,
		ExpireSeconds: 86400,
		DesiredState:  state,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	zone.StateChangedAt = now
	require.NoError(t, store.CreateZone(zone))
	return zone
}

func TestOfflineGreenTurnsYellow(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateGreen)

	now := time.Now()
	require.NoError(t, m.Evaluate(context.Background(), zone, false, now))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateYellow, got.DesiredState)
	assert.Equal(t, now.Unix(), got.LastOfflineAt.Unix())
	assert.Equal(t, now.Unix(), got.StateChangedAt.Unix())
	assert.True(t, m.sched.Armed(zone.ID), "offline grace timer must be armed")
}

// TestOnlineNoopKeepsStateStamp verifies re-entrant green passes leave the
// state-change stamp alone while still recording the sighting
func TestOnlineNoopKeepsStateStamp(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateGreen)

	changed := time.Now().Add(-time.Hour)
	zone.StateChangedAt = changed
	require.NoError(t, store.UpdateZone(zone))

	now := time.Now()
	require.NoError(t, m.Evaluate(context.Background(), zone, true, now))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	assert.Equal(t, changed.Unix(), got.StateChangedAt.Unix())
	assert.Equal(t, now.Unix(), got.LastOnlineAt.Unix())
}

func TestOfflineStampedOncePerEpisode(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateGreen)

	first := time.Now()
	require.NoError(t, m.Evaluate(context.Background(), zone, false, first))

	// A later poll with the owner still absent must not move the stamp.
	later := first.Add(5 * time.Minute)
	require.NoError(t, m.Evaluate(context.Background(), zone, false, later))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Unix(), got.LastOfflineAt.Unix())
	assert.Equal(t, types.ZoneStateYellow, got.DesiredState)
}

func TestOnlineYellowTurnsGreen(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateGreen)

	require.NoError(t, m.Evaluate(context.Background(), zone, false, time.Now()))
	require.NoError(t, m.Evaluate(context.Background(), zone, true, time.Now()))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	assert.True(t, got.LastOfflineAt.IsZero(), "offline episode must end")
	assert.False(t, m.sched.Armed(zone.ID), "grace timer must be canceled")
}

func TestOnlineRedTurnsGreen(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateRed)
	zone.LastOfflineAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.UpdateZone(zone))

	require.NoError(t, m.Evaluate(context.Background(), zone, true, time.Now()))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	assert.True(t, got.LastOfflineAt.IsZero())
}

// A red zone never regresses to yellow on continued absence, and a white
// zone stays white until its creation grace fires.
func TestOfflineNeverSkipsOrRegresses(t *testing.T) {
	for _, state := range []types.ZoneState{types.ZoneStateWhite, types.ZoneStateRed} {
		t.Run(string(state), func(t *testing.T) {
			m, store, _ := newTestMachine(t)
			zone := seedZone(t, store, state)

			require.NoError(t, m.Evaluate(context.Background(), zone, false, time.Now()))

			got, err := store.GetZone(zone.ID)
			require.NoError(t, err)
			assert.Equal(t, state, got.DesiredState)
		})
	}
}

func TestCreationGraceTurnsGreen(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateWhite)
	zone.DelayMinutes = 0 // grace elapses immediately
	require.NoError(t, store.UpdateZone(zone))

	m.OnCreate(zone)

	require.Eventually(t, func() bool {
		got, err := store.GetZone(zone.ID)
		return err == nil && got.DesiredState == types.ZoneStateGreen
	}, time.Second, 5*time.Millisecond)
}

func TestOfflineGraceFiresRed(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateYellow)
	zone.LastOfflineAt = time.Now()
	require.NoError(t, store.UpdateZone(zone))

	require.NoError(t, m.fireOfflineGrace(context.Background(), zone.ID))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateRed, got.DesiredState)
	assert.True(t, m.sched.Armed(zone.ID), "expire countdown must be armed")
}

// The grace callback observing a zone that already went green does nothing
func TestOfflineGraceStaleFire(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateGreen)

	require.NoError(t, m.fireOfflineGrace(context.Background(), zone.ID))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	assert.False(t, m.sched.Armed(zone.ID))
}

func TestFireCallbacksTolerateDeletedZone(t *testing.T) {
	m, _, _ := newTestMachine(t)

	assert.NoError(t, m.fireWhiteGrace(context.Background(), "gone"))
	assert.NoError(t, m.fireOfflineGrace(context.Background(), "gone"))
	assert.NoError(t, m.fireExpire(context.Background(), "gone"))
}

func TestExpireDeletesRedZone(t *testing.T) {
	m, store, remover := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateRed)

	require.NoError(t, m.fireExpire(context.Background(), zone.ID))

	_, err := store.GetZone(zone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{zone.ID}, remover.calls())
}

// Remote removal failing must not keep the durable record alive
func TestDeleteSurvivesRemoteFailure(t *testing.T) {
	m, store, remover := newTestMachine(t)
	remover.err = errors.New("rcon session lost")
	zone := seedZone(t, store, types.ZoneStateGreen)

	require.NoError(t, m.Delete(context.Background(), zone, events.EventZoneDeleted, "operator removal"))

	_, err := store.GetZone(zone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEnsureTimersRearmsFromDurableState(t *testing.T) {
	m, store, _ := newTestMachine(t)
	zone := seedZone(t, store, types.ZoneStateYellow)
	zone.LastOfflineAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.UpdateZone(zone))

	m.EnsureTimers(zone, time.Now())
	assert.True(t, m.sched.Armed(zone.ID))

	// A second pass over an armed zone must not replace the handle.
	m.EnsureTimers(zone, time.Now())
	assert.True(t, m.sched.Armed(zone.ID))
}

func TestRemaining(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Minute, remaining(now, time.Minute, now))
	assert.Equal(t, time.Duration(0), remaining(now.Add(-2*time.Minute), time.Minute, now))
}
