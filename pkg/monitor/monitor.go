// Package monitor runs one monitoring pass loop per managed server:
// acquire the processing lock, poll presence, drive zone lifecycle
// transitions, reconcile configuration, sweep expired zones. Servers run
// fully in parallel; zones within one pass are processed sequentially.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/lifecycle"
	"github.com/wardenhq/warden/pkg/lock"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/presence"
	"github.com/wardenhq/warden/pkg/rcon"
	"github.com/wardenhq/warden/pkg/reconciler"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/team"
	"github.com/wardenhq/warden/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ServerRuntime bundles the per-server components one pass loop drives
type ServerRuntime struct {
	Server   *types.Server
	Engine   *reconciler.Engine
	Machine  *lifecycle.Machine
	Resolver *team.Resolver
	Sched    *lifecycle.Scheduler
	Detector *presence.Detector

	// clientMu guards client: runServer installs it after the initial
	// dial while Client and closeClient read it from other goroutines.
	clientMu sync.RWMutex
	client   *rcon.Client

	logger zerolog.Logger

	// prev is the previous poll's presence snapshot, kept only for
	// delta logging; it is disposable state.
	prev presence.Set
}

// Supervisor owns the monitoring pass loops for all configured servers
type Supervisor struct {
	cfg    *config.Config
	store  storage.Store
	broker *events.Broker
	locks  *lock.Manager
	logger zerolog.Logger

	mu       sync.RWMutex
	runtimes map[string]*ServerRuntime
}

// NewSupervisor creates the supervisor. Server records from configuration
// are persisted so durable state and locks key off stable identities.
func NewSupervisor(cfg *config.Config, store storage.Store, broker *events.Broker) *Supervisor {
	staleness := 3 * cfg.Monitor.PollInterval
	return &Supervisor{
		cfg:      cfg,
		store:    store,
		broker:   broker,
		locks:    lock.NewManager(store, cfg.Monitor.LockTTL, staleness),
		logger:   log.WithComponent("monitor"),
		runtimes: make(map[string]*ServerRuntime),
	}
}

// Client returns the runtime's RCON session as a command sender; nil
// until the initial dial succeeded
func (rt *ServerRuntime) Client() rcon.Sender {
	rt.clientMu.RLock()
	defer rt.clientMu.RUnlock()
	if rt.client == nil {
		return nil
	}
	return rt.client
}

func (rt *ServerRuntime) setClient(client *rcon.Client) {
	rt.clientMu.Lock()
	rt.client = client
	rt.clientMu.Unlock()
}

func (rt *ServerRuntime) closeClient() {
	rt.clientMu.RLock()
	defer rt.clientMu.RUnlock()
	if rt.client != nil {
		rt.client.Close()
	}
}

// Runtime returns the per-server component bundle, if the server is
// scheduled
func (s *Supervisor) Runtime(serverID string) (*ServerRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.runtimes[serverID]
	return rt, ok
}

// Locks exposes the lock manager (shared with any standby deployment)
func (s *Supervisor) Locks() *lock.Manager {
	return s.locks
}

// Run blocks until ctx is canceled, supervising one pass loop per valid
// server. Servers with invalid endpoints are excluded from scheduling
// entirely and logged once.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, entry := range s.cfg.Servers {
		server := &types.Server{
			ID:        entry.Name,
			Name:      entry.Name,
			Tenant:    entry.Tenant,
			Host:      entry.Host,
			Port:      entry.Port,
			Password:  entry.Password,
			CreatedAt: time.Now(),
		}

		if err := rcon.ValidateEndpoint(server); err != nil {
			s.logger.Error().Err(err).Str("server", server.Name).
				Msg("invalid endpoint, server excluded from scheduling")
			continue
		}

		if err := s.store.CreateServer(server); err != nil {
			return err
		}

		rt := s.buildRuntime(server)
		s.mu.Lock()
		s.runtimes[server.ID] = rt
		s.mu.Unlock()

		g.Go(func() error {
			s.runServer(ctx, rt)
			return nil
		})
	}

	err := g.Wait()

	// Shutdown: stop arming new timers; in-flight work has finished or
	// failed by the time errgroup returns.
	s.mu.RLock()
	for _, rt := range s.runtimes {
		rt.Sched.Stop()
		rt.closeClient()
		s.broker.Publish(&events.Event{
			Type:     events.EventServerDown,
			ServerID: rt.Server.ID,
			Message:  "rcon session closed, monitoring stopped",
		})
	}
	s.mu.RUnlock()
	return err
}

func (s *Supervisor) buildRuntime(server *types.Server) *ServerRuntime {
	sched := lifecycle.NewScheduler()
	engine := reconciler.NewEngine(s.store, server.Name)
	machine := lifecycle.NewMachine(s.store, sched, s.broker, engine, server.Name)

	return &ServerRuntime{
		Server:   server,
		Engine:   engine,
		Machine:  machine,
		Resolver: team.NewResolver(server.Name),
		Sched:    sched,
		Detector: presence.NewDetector(server.Name),
		logger:   log.WithComponent("monitor").With().Str("server", server.Name).Logger(),
	}
}

// runServer is one server's pass loop. It owns the RCON session,
// reconnecting through the transport's own backoff, and ticks a pass on
// the fixed poll interval.
func (s *Supervisor) runServer(ctx context.Context, rt *ServerRuntime) {
	client, err := s.connect(ctx, rt)
	if err != nil {
		return // ctx canceled
	}
	rt.setClient(client)
	rt.Engine.SetClient(client)

	// Feed team-change push lines to the resolver cache and the broker.
	go func() {
		for ev := range client.Events() {
			s.handlePush(rt, ev)
		}
	}()

	if err := rt.Resolver.Prime(ctx, client); err != nil {
		rt.logger.Warn().Err(err).Msg("initial team population failed, relying on fallback queries")
	}

	ticker := time.NewTicker(s.cfg.Monitor.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pass(ctx, rt)
		case <-ctx.Done():
			return
		}
	}
}

// handlePush routes one server push line: the resolver keeps its cache
// current, and recognized team changes are republished on the broker.
func (s *Supervisor) handlePush(rt *ServerRuntime, ev rcon.Event) {
	rt.Resolver.HandleEvent(ev)

	change, ok := team.ParseChange(ev.Message)
	if !ok {
		return
	}
	s.broker.Publish(&events.Event{
		Type:     teamEventType(change.Kind),
		ServerID: rt.Server.ID,
		PlayerID: change.Player,
		Message:  ev.Message,
		Metadata: map[string]string{"team_id": change.TeamID},
	})
}

func teamEventType(kind team.ChangeKind) events.EventType {
	switch kind {
	case team.ChangeCreate:
		return events.EventTeamCreated
	case team.ChangeJoin:
		return events.EventTeamJoined
	case team.ChangeLeave:
		return events.EventTeamLeft
	case team.ChangeKick:
		return events.EventTeamKicked
	default:
		return events.EventTeamDisbanded
	}
}

// connect dials until it succeeds or ctx ends. The transport handles
// in-session reconnects itself; this loop only covers the initial dial.
func (s *Supervisor) connect(ctx context.Context, rt *ServerRuntime) (*rcon.Client, error) {
	backoff := time.Second
	for {
		client, err := rcon.Dial(ctx, rt.Server)
		if err == nil {
			s.broker.Publish(&events.Event{
				Type:     events.EventServerUp,
				ServerID: rt.Server.ID,
				Message:  "rcon session established",
			})
			return client, nil
		}
		rt.logger.Error().Err(err).Dur("backoff", backoff).Msg("dial failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 60*time.Second {
			backoff *= 2
		}
	}
}

// pass executes one monitoring pass under the server's processing lock
func (s *Supervisor) pass(ctx context.Context, rt *ServerRuntime) {
	serverID := rt.Server.ID

	if s.cfg.Monitor.Standby && !s.locks.StandbyShouldRun(serverID) {
		rt.logger.Debug().Msg("primary heartbeat fresh, standby pass skipped")
		return
	}

	acquired, err := s.locks.Acquire(serverID)
	if err != nil {
		rt.logger.Error().Err(err).Msg("lock acquire errored")
		return
	}
	if !acquired {
		metrics.LockDenialsTotal.WithLabelValues(rt.Server.Name).Inc()
		return
	}
	defer s.locks.Release(serverID)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.PassDuration, rt.Server.Name)

	now := time.Now()

	online, presenceErr := rt.Detector.ListOnline(ctx, rt.Client())
	if presenceErr != nil {
		// Unknown presence: no lifecycle transitions this pass, but
		// reconciliation still runs so convergence is not delayed.
		rt.logger.Warn().Err(presenceErr).Msg("presence unknown, keeping previous zone states")
	} else {
		for name := range online {
			if !rt.prev.Contains(name) {
				rt.logger.Debug().Str("player", name).Msg("player connected")
			}
		}
		for name := range rt.prev {
			if !online.Contains(name) {
				rt.logger.Debug().Str("player", name).Msg("player disconnected")
			}
		}
		rt.prev = online
	}

	zones, err := s.store.ListZonesByServer(serverID)
	if err != nil {
		rt.logger.Error().Err(err).Msg("failed to list zones")
		return
	}

	byState := make(map[types.ZoneState]int)
	for _, zone := range zones {
		if s.sweepExpired(ctx, rt, zone, now) {
			continue
		}

		rt.Machine.EnsureTimers(zone, now)

		if presenceErr == nil {
			if err := s.evaluateZone(ctx, rt, zone, online, now); err != nil {
				rt.logger.Error().Err(err).Str("zone_id", zone.ID).Msg("lifecycle evaluation failed")
			}
		}
		byState[zone.DesiredState]++
	}

	for _, state := range []types.ZoneState{
		types.ZoneStateWhite, types.ZoneStateGreen, types.ZoneStateYellow, types.ZoneStateRed,
	} {
		metrics.ZonesTotal.WithLabelValues(rt.Server.Name, string(state)).Set(float64(byState[state]))
	}

	if err := rt.Engine.Reconcile(ctx, serverID, rt.Client()); err != nil {
		rt.logger.Error().Err(err).Msg("reconciliation cycle failed")
	}

	// The heartbeat record belongs to the primary; a standby pass that
	// refreshed it would keep suppressing its own takeover gate.
	if !s.cfg.Monitor.Standby {
		if err := s.locks.Heartbeat(serverID); err != nil {
			rt.logger.Error().Err(err).Msg("heartbeat write failed")
		}
	}
}

// evaluateZone computes team-wide presence for one zone and feeds it to
// the state machine. The owner's own presence short-circuits the team
// query.
func (s *Supervisor) evaluateZone(ctx context.Context, rt *ServerRuntime, zone *types.Zone, online presence.Set, now time.Time) error {
	owner := presence.Normalize(zone.OwnerName)

	zoneOnline := online.Contains(owner)
	if !zoneOnline {
		if t, ok := rt.Resolver.TeamOf(ctx, rt.Client(), owner); ok {
			zoneOnline = online.ContainsAny(t.Members)
			zone.Team = &types.TeamSnapshot{
				TeamID:    t.ID,
				LeaderID:  t.Leader,
				MemberIDs: t.Members,
				TakenAt:   now,
			}
		}
	}

	return rt.Machine.Evaluate(ctx, zone, zoneOnline, now)
}

// sweepExpired is the wall-clock fallback for zones whose timers were
// lost, e.g. across a process restart. It waits out double the nominal
// expire window so it cannot race a legitimate in-flight offline timer.
func (s *Supervisor) sweepExpired(ctx context.Context, rt *ServerRuntime, zone *types.Zone, now time.Time) bool {
	if zone.ExpireSeconds <= 0 {
		return false
	}
	deadline := zone.CreatedAt.Add(2 * zone.Expire())
	if now.Before(deadline) {
		return false
	}

	rt.logger.Warn().Str("zone_id", zone.ID).Msg("zone past double expire window, sweeping")
	if err := rt.Machine.Delete(ctx, zone, events.EventZoneExpired, "swept after lifetime elapsed"); err != nil {
		rt.logger.Error().Err(err).Str("zone_id", zone.ID).Msg("sweep failed")
		return false
	}
	return true
}
