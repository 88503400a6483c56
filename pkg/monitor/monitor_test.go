package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/presence"
	"github.com/wardenhq/warden/pkg/rcon"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/team"
	"github.com/wardenhq/warden/pkg/types"
)

type fakeSender struct {
	response string
}

func (f *fakeSender) Send(ctx context.Context, command string) (string, error) {
	return f.response, nil
}

func newTestSupervisor(t *testing.T) (*Supervisor, *ServerRuntime, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Monitor: config.MonitorConfig{
			PollInterval: 30 * time.Second,
			LockTTL:      90 * time.Second,
		},
	}
	s := NewSupervisor(cfg, store, events.NewBroker())

	server := &types.Server{ID: "srv-1", Name: "srv-1", Host: "203.0.113.10", Port: 28016}
	require.NoError(t, store.CreateServer(server))
	rt := s.buildRuntime(server)
	t.Cleanup(rt.Sched.Stop)
	s.runtimes[server.ID] = rt
	return s, rt, store
}

func seedZone(t *testing.T, store storage.Store, state types.ZoneState, createdAt time.Time, expireSeconds int) *types.Zone {
	t.Helper()

	zone := &types.Zone{
		ID:            "z1",
		ServerID:      "srv-1",
		OwnerID:       "alice",
		OwnerName:     "Alice",
		Radius:        50,
		DelayMinutes:  60,
		ExpireSeconds: expireSeconds,
		DesiredState:  state,
		AppliedState:  state,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	require.NoError(t, store.CreateZone(zone))
	return zone
}

func TestSweepExpiredPastDoubleWindow(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateRed, now.Add(-3*time.Hour), 3600)

	swept := s.sweepExpired(context.Background(), rt, zone, now)
	assert.True(t, swept)

	_, err := store.GetZone(zone.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepExpiredWithinWindow(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()

	// Past the nominal lifetime but inside the doubled window: the
	// lifecycle timers still own this zone.
	zone := seedZone(t, store, types.ZoneStateRed, now.Add(-90*time.Minute), 3600)

	assert.False(t, s.sweepExpired(context.Background(), rt, zone, now))
	_, err := store.GetZone(zone.ID)
	assert.NoError(t, err)
}

func TestSweepExpiredZeroLifetime(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateGreen, now.Add(-1000*time.Hour), 0)

	assert.False(t, s.sweepExpired(context.Background(), rt, zone, now))
}

func TestEvaluateZoneOwnerOnline(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateYellow, now.Add(-time.Minute), 86400)
	zone.LastOfflineAt = now.Add(-30 * time.Second)
	require.NoError(t, store.UpdateZone(zone))

	online := presence.NewSet("alice", "bob")
	require.NoError(t, s.evaluateZone(context.Background(), rt, zone, online, now))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
}

func TestEvaluateZoneTeammateCountsAsPresence(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateGreen, now.Add(-time.Minute), 86400)

	teamInfo := "Team 42\n  \"Alice\" 76561198000000001 (LEADER)\n  \"Bob\" 76561198000000002\n"
	require.NoError(t, rt.Resolver.Prime(context.Background(), &fakeSender{response: teamInfo}))

	// Owner absent, teammate online.
	online := presence.NewSet("bob")
	require.NoError(t, s.evaluateZone(context.Background(), rt, zone, online, now))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	require.NotNil(t, got.Team, "team snapshot must be refreshed")
	assert.Equal(t, "42", got.Team.TeamID)
	assert.Contains(t, got.Team.MemberIDs, "bob")
}

func TestEvaluateZoneEveryoneOffline(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateGreen, now.Add(-time.Minute), 86400)

	require.NoError(t, s.evaluateZone(context.Background(), rt, zone, presence.NewSet(), now))

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateYellow, got.DesiredState)
	assert.Equal(t, now.Unix(), got.LastOfflineAt.Unix())
}

func TestRuntimeLookup(t *testing.T) {
	s, rt, _ := newTestSupervisor(t)

	got, ok := s.Runtime("srv-1")
	require.True(t, ok)
	assert.Same(t, rt, got)

	_, ok = s.Runtime("srv-2")
	assert.False(t, ok)

	assert.Nil(t, rt.Client(), "no session before the initial dial")
}

// TestPassUnknownPresenceHoldsState verifies that a pass without a usable
// presence picture leaves every zone exactly where it was. Reading an
// unknown roster as "nobody online" would start offline countdowns and
// eventually delete zones whose owners never left.
func TestPassUnknownPresenceHoldsState(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	now := time.Now()
	zone := seedZone(t, store, types.ZoneStateGreen, now.Add(-time.Minute), 86400)

	// No session installed: the detector reports unknown, not empty.
	s.pass(context.Background(), rt)

	got, err := store.GetZone(zone.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStateGreen, got.DesiredState)
	assert.True(t, got.LastOfflineAt.IsZero(), "no offline episode may start on unknown presence")
}

// TestPassPrimaryWritesHeartbeat verifies the primary refreshes the
// takeover gate after each pass
func TestPassPrimaryWritesHeartbeat(t *testing.T) {
	s, rt, store := newTestSupervisor(t)

	s.pass(context.Background(), rt)

	hb, err := store.GetHeartbeat(rt.Server.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), hb.BeatAt, 5*time.Second)
}

// TestPassStandbyLeavesHeartbeatAlone verifies a standby pass never
// refreshes the primary's heartbeat. A standby that stamped the record it
// gates on would keep postponing its own takeover while the primary is
// gone.
func TestPassStandbyLeavesHeartbeatAlone(t *testing.T) {
	s, rt, store := newTestSupervisor(t)
	s.cfg.Monitor.Standby = true

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, store.PutHeartbeat(&types.PassHeartbeat{
		ServerID: rt.Server.ID,
		HolderID: "primary-1",
		BeatAt:   stale,
	}))
	require.True(t, s.locks.StandbyShouldRun(rt.Server.ID))

	s.pass(context.Background(), rt)

	hb, err := store.GetHeartbeat(rt.Server.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.Unix(), hb.BeatAt.Unix(), "heartbeat must still be the primary's")
	assert.True(t, s.locks.StandbyShouldRun(rt.Server.ID), "the takeover gate must stay open")
}

// TestClientAccessConcurrent exercises session install and lookup from
// separate goroutines, the shapes runServer and shutdown take
func TestClientAccessConcurrent(t *testing.T) {
	_, rt, _ := newTestSupervisor(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			rt.setClient(nil)
		}()
		go func() {
			defer wg.Done()
			_ = rt.Client()
			rt.closeClient()
		}()
	}
	wg.Wait()
	assert.Nil(t, rt.Client())
}

// TestHandlePushPublishesTeamEvents verifies recognized team-change push
// lines reach broker subscribers with the matching event type
func TestHandlePushPublishesTeamEvents(t *testing.T) {
	s, rt, _ := newTestSupervisor(t)
	s.broker.Start()
	t.Cleanup(s.broker.Stop)
	sub := s.broker.Subscribe()

	s.handlePush(rt, rcon.Event{Message: `[TEAM] Bob joined team 42`})

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventTeamJoined, ev.Type)
		assert.Equal(t, "srv-1", ev.ServerID)
		assert.Equal(t, "bob", ev.PlayerID)
		assert.Equal(t, "42", ev.Metadata["team_id"])
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// Non-team chatter is routed to the resolver only.
	s.handlePush(rt, rcon.Event{Message: "SAVE completed in 0.2s"})
	select {
	case ev := <-sub:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTeamEventTypeMapping(t *testing.T) {
	tests := []struct {
		kind team.ChangeKind
		want events.EventType
	}{
		{team.ChangeCreate, events.EventTeamCreated},
		{team.ChangeJoin, events.EventTeamJoined},
		{team.ChangeLeave, events.EventTeamLeft},
		{team.ChangeKick, events.EventTeamKicked},
		{team.ChangeDisband, events.EventTeamDisbanded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, teamEventType(tt.kind))
	}
}
