// Package lifecycle drives each zone through its state machine:
//
//	white -> green <-> yellow -> red -> deleted
//
// Transitions mutate the zone's desired state in durable storage; pushing
// that state to the game server is the reconciler's job. Presence online
// always beats presence offline, and re-entrant transitions are no-ops
// that never re-arm timers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

const timerOpTimeout = 30 * time.Second

// Remover removes a zone's configuration from the game server. Implemented
// by the reconciler.
type Remover interface {
	RemoveZone(ctx context.Context, zone *types.Zone) error
}

// Machine owns lifecycle transitions for one server's zones
type Machine struct {
	store   storage.Store
	sched   *Scheduler
	broker  *events.Broker
	remover Remover
	logger  zerolog.Logger
}

// NewMachine creates a state machine backed by the given store and timer
// scheduler
func NewMachine(store storage.Store, sched *Scheduler, broker *events.Broker, remover Remover, serverName string) *Machine {
	return &Machine{
		store:   store,
		sched:   sched,
		broker:  broker,
		remover: remover,
		logger:  log.WithComponent("lifecycle").With().Str("server", serverName).Logger(),
	}
}

// Evaluate applies one pass's presence evidence to a zone. online is true
// when the owner or any teammate is connected. Callers must skip the call
// entirely when presence is unknown; the machine never transitions on
// missing evidence.
func (m *Machine) Evaluate(ctx context.Context, zone *types.Zone, online bool, now time.Time) error {
	if online {
		return m.markOnline(ctx, zone, now)
	}
	return m.markOffline(ctx, zone, now)
}

func (m *Machine) markOnline(ctx context.Context, zone *types.Zone, now time.Time) error {
	zone.LastOnlineAt = now

	switch zone.DesiredState {
	case types.ZoneStateYellow, types.ZoneStateRed:
		// Presence regained: back to green, grace and expire timers
		// are canceled and the offline episode ends.
		m.sched.Cancel(zone.ID)
		zone.DesiredState = types.ZoneStateGreen
		zone.StateChangedAt = now
		zone.LastOfflineAt = time.Time{}
		zone.UpdatedAt = now
		m.logger.Info().Str("zone_id", zone.ID).Msg("presence regained, zone green")
		m.publishState(zone, "owner returned, zone is safe again")
		return m.store.UpdateZone(zone)
	case types.ZoneStateGreen:
		// green -> green is a no-op transition: no timer, no command.
		zone.UpdatedAt = now
		return m.store.UpdateZone(zone)
	default:
		// White zones stay white until the creation grace fires.
		zone.UpdatedAt = now
		return m.store.UpdateZone(zone)
	}
}

func (m *Machine) markOffline(ctx context.Context, zone *types.Zone, now time.Time) error {
	if zone.DesiredState != types.ZoneStateGreen {
		// Yellow and red already have an offline episode running;
		// LastOfflineAt is stamped once per episode and never reset by
		// repeated polls. White is governed by the creation grace.
		return nil
	}

	zone.DesiredState = types.ZoneStateYellow
	zone.StateChangedAt = now
	zone.LastOfflineAt = now
	zone.UpdatedAt = now
	if err := m.store.UpdateZone(zone); err != nil {
		return err
	}

	m.armYellow(zone, zone.Delay())
	m.logger.Info().
		Str("zone_id", zone.ID).
		Dur("grace", zone.Delay()).
		Msg("everyone offline, zone yellow")
	m.publishState(zone, "owner offline, grace period started")
	return nil
}

// OnCreate arms the creation grace timer for a newly created white zone.
// The grace scales with the zone's delay setting.
func (m *Machine) OnCreate(zone *types.Zone) {
	m.armWhite(zone, creationGrace(zone))
}

// creationGrace returns the white->green delay-scaled grace period
func creationGrace(zone *types.Zone) time.Duration {
	return time.Duration(zone.DelayMinutes) * time.Second
}

func (m *Machine) armWhite(zone *types.Zone, d time.Duration) {
	zoneID := zone.ID
	m.sched.Arm(zoneID, d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
		defer cancel()
		if err := m.fireWhiteGrace(ctx, zoneID); err != nil {
			m.logger.Error().Err(err).Str("zone_id", zoneID).Msg("creation grace transition failed")
		}
	})
}

func (m *Machine) armYellow(zone *types.Zone, d time.Duration) {
	zoneID := zone.ID
	m.sched.Arm(zoneID, d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
		defer cancel()
		if err := m.fireOfflineGrace(ctx, zoneID); err != nil {
			m.logger.Error().Err(err).Str("zone_id", zoneID).Msg("offline grace transition failed")
		}
	})
}

func (m *Machine) armRed(zone *types.Zone, d time.Duration) {
	zoneID := zone.ID
	m.sched.Arm(zoneID, d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timerOpTimeout)
		defer cancel()
		if err := m.fireExpire(ctx, zoneID); err != nil {
			m.logger.Error().Err(err).Str("zone_id", zoneID).Msg("expire deletion failed")
		}
	})
}

// fireWhiteGrace moves a still-existing white zone to green
func (m *Machine) fireWhiteGrace(ctx context.Context, zoneID string) error {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // deleted while the timer was armed
		}
		return err
	}
	if zone.DesiredState != types.ZoneStateWhite {
		return nil
	}

	now := time.Now()
	zone.DesiredState = types.ZoneStateGreen
	zone.StateChangedAt = now
	zone.UpdatedAt = now
	if err := m.store.UpdateZone(zone); err != nil {
		return err
	}
	m.logger.Info().Str("zone_id", zone.ID).Msg("creation grace elapsed, zone green")
	m.publishState(zone, "zone established")
	return nil
}

// fireOfflineGrace moves a still-yellow zone to red and arms the expire
// countdown
func (m *Machine) fireOfflineGrace(ctx context.Context, zoneID string) error {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if zone.DesiredState != types.ZoneStateYellow {
		return nil // presence returned before the grace elapsed
	}

	now := time.Now()
	zone.DesiredState = types.ZoneStateRed
	zone.StateChangedAt = now
	zone.UpdatedAt = now
	if err := m.store.UpdateZone(zone); err != nil {
		return err
	}

	m.armRed(zone, zone.Expire())
	m.logger.Info().
		Str("zone_id", zone.ID).
		Dur("expire", zone.Expire()).
		Msg("grace expired, zone red")
	m.publishState(zone, "grace period over, zone is vulnerable")
	return nil
}

// fireExpire deletes a zone whose red countdown completed with the owner
// still absent
func (m *Machine) fireExpire(ctx context.Context, zoneID string) error {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if zone.DesiredState != types.ZoneStateRed {
		return nil
	}
	return m.Delete(ctx, zone, events.EventZoneExpired, "zone expired while owner was absent")
}

// Delete removes a zone from any state: timers canceled first, remote
// configuration removed, record removed, audit event emitted. Remote
// removal failure is logged but does not keep the record alive; the game
// server's stale zone is an operational issue, not a durable one.
func (m *Machine) Delete(ctx context.Context, zone *types.Zone, evType events.EventType, message string) error {
	m.sched.Cancel(zone.ID)

	if err := m.remover.RemoveZone(ctx, zone); err != nil {
		m.logger.Error().Err(err).Str("zone_id", zone.ID).Msg("remote zone removal failed")
	}

	if err := m.store.DeleteZone(zone.ID); err != nil {
		return fmt.Errorf("failed to delete zone record: %w", err)
	}

	m.broker.Publish(&events.Event{
		Type:     evType,
		ServerID: zone.ServerID,
		ZoneID:   zone.ID,
		PlayerID: zone.OwnerID,
		Message:  fmt.Sprintf("zone %s (%s): %s", zone.ID, zone.OwnerName, message),
	})
	m.logger.Info().Str("zone_id", zone.ID).Str("cause", string(evType)).Msg("zone deleted")
	return nil
}

// EnsureTimers re-arms whatever timer the zone's state implies, if none
// is armed. Restores coverage after a process restart without ever
// re-arming over a live handle (re-entrant passes are no-ops).
func (m *Machine) EnsureTimers(zone *types.Zone, now time.Time) {
	if m.sched.Armed(zone.ID) {
		return
	}

	switch zone.DesiredState {
	case types.ZoneStateWhite:
		m.armWhite(zone, remaining(zone.CreatedAt, creationGrace(zone), now))
	case types.ZoneStateYellow:
		if !zone.LastOfflineAt.IsZero() {
			m.armYellow(zone, remaining(zone.LastOfflineAt, zone.Delay(), now))
		}
	case types.ZoneStateRed:
		if !zone.LastOfflineAt.IsZero() {
			m.armRed(zone, remaining(zone.LastOfflineAt, zone.Delay()+zone.Expire(), now))
		}
	}
}

func remaining(since time.Time, d time.Duration, now time.Time) time.Duration {
	r := since.Add(d).Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

func (m *Machine) publishState(zone *types.Zone, message string) {
	m.broker.Publish(&events.Event{
		Type:     events.EventZoneState,
		ServerID: zone.ServerID,
		ZoneID:   zone.ID,
		PlayerID: zone.OwnerID,
		Message:  message,
		Metadata: map[string]string{"state": string(zone.DesiredState)},
	})
}
