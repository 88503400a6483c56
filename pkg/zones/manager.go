// Package zones is the core's inbound API: validated zone create, delete
// and edit requests from the operator command surface. Outward it emits
// human-readable notification strings through the event broker; delivery
// is the collaborator's concern.
package zones

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/monitor"
	"github.com/wardenhq/warden/pkg/placement"
	"github.com/wardenhq/warden/pkg/presence"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/team"
	"github.com/wardenhq/warden/pkg/types"
)

// ErrServerNotManaged is returned for requests naming a server the
// supervisor does not schedule
var ErrServerNotManaged = errors.New("server not managed")

// RuntimeProvider resolves a server to its monitoring runtime. The
// supervisor implements it.
type RuntimeProvider func(serverID string) (*monitor.ServerRuntime, bool)

// CreateRequest is a validated zone creation request
type CreateRequest struct {
	ServerID  string
	Requester string
	Position  types.Position
	Radius    float64 // 0 means use the configured default
}

// EditRequest mutates a zone's adjustable parameters. Nil fields are left
// unchanged; position and owner are immutable.
type EditRequest struct {
	Radius        *float64
	DelayMinutes  *int
	ExpireSeconds *int
	Colors        *types.ZoneColors
}

// Manager exposes the zone operations
type Manager struct {
	store     storage.Store
	validator *placement.Validator
	broker    *events.Broker
	defaults  config.ZoneDefaults
	provider  RuntimeProvider
	logger    zerolog.Logger
}

// NewManager creates the zone manager
func NewManager(store storage.Store, validator *placement.Validator, broker *events.Broker, defaults config.ZoneDefaults, provider RuntimeProvider) *Manager {
	return &Manager{
		store:     store,
		validator: validator,
		broker:    broker,
		defaults:  defaults,
		provider:  provider,
		logger:    log.WithComponent("zones"),
	}
}

// ValidateCreate runs every placement check without side effects. A nil
// return means CreateZone would proceed.
func (m *Manager) ValidateCreate(ctx context.Context, req CreateRequest) error {
	rt, ok := m.provider(req.ServerID)
	if !ok {
		return ErrServerNotManaged
	}
	_, _, err := m.validate(ctx, rt, req, time.Now())
	return err
}

func (m *Manager) validate(ctx context.Context, rt *monitor.ServerRuntime, req CreateRequest, now time.Time) ([]*types.Zone, *team.Team, error) {
	existing, err := m.store.ListUnexpiredZonesByServer(req.ServerID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list zones: %w", err)
	}

	requesterTeam, _ := rt.Resolver.TeamOf(ctx, rt.Client(), req.Requester)

	if req.Radius == 0 {
		req.Radius = m.defaults.Radius
	}
	preq := placement.Request{
		ServerID:  req.ServerID,
		Requester: req.Requester,
		Position:  req.Position,
		Radius:    req.Radius,
	}
	if err := m.validator.Validate(preq, existing, requesterTeam, now); err != nil {
		return nil, nil, err
	}
	return existing, requesterTeam, nil
}

// CreateZone validates the request and creates the zone in white state.
// The creation grace timer is armed immediately; in-game configuration is
// applied best-effort now and healed by the next reconciliation pass if
// that fails.
func (m *Manager) CreateZone(ctx context.Context, req CreateRequest) (*types.Zone, error) {
	rt, ok := m.provider(req.ServerID)
	if !ok {
		return nil, ErrServerNotManaged
	}

	now := time.Now()
	_, requesterTeam, err := m.validate(ctx, rt, req, now)
	if err != nil {
		return nil, err
	}

	radius := req.Radius
	if radius == 0 {
		radius = m.defaults.Radius
	}

	zone := &types.Zone{
		ID:        uuid.New().String(),
		ServerID:  req.ServerID,
		OwnerID:   presence.Normalize(req.Requester),
		OwnerName: req.Requester,
		Position:  req.Position,
		Radius:    radius,
		Colors: types.ZoneColors{
			White:  m.defaults.ColorWhite,
			Green:  m.defaults.ColorGreen,
			Yellow: m.defaults.ColorYellow,
			Red:    m.defaults.ColorRed,
		},
		DelayMinutes:   m.defaults.DelayMinutes,
		ExpireSeconds:  m.defaults.ExpireSeconds,
		DesiredState:   types.ZoneStateWhite,
		StateChangedAt: now,
		LastOnlineAt:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if requesterTeam != nil {
		zone.Team = &types.TeamSnapshot{
			TeamID:    requesterTeam.ID,
			LeaderID:  requesterTeam.Leader,
			MemberIDs: requesterTeam.Members,
			TakenAt:   now,
		}
	}

	if err := m.store.CreateZone(zone); err != nil {
		return nil, fmt.Errorf("failed to persist zone: %w", err)
	}

	rt.Machine.OnCreate(zone)

	if client := rt.Client(); client != nil {
		if err := rt.Engine.Apply(ctx, client, zone, types.ZoneStateWhite); err != nil {
			m.logger.Warn().Err(err).Str("zone_id", zone.ID).
				Msg("initial apply failed, next pass will converge")
		}
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventZoneCreated,
		ServerID: zone.ServerID,
		ZoneID:   zone.ID,
		PlayerID: zone.OwnerID,
		Message:  fmt.Sprintf("zone created for %s, radius %.0f", zone.OwnerName, zone.Radius),
	})
	m.logger.Info().Str("zone_id", zone.ID).Str("owner", zone.OwnerName).Msg("zone created")
	return zone, nil
}

// DeleteZone removes the requester's own zone on a server. The owner
// match is case-insensitive.
func (m *Manager) DeleteZone(ctx context.Context, serverID, requester string) error {
	zone, err := m.store.GetZoneByOwner(serverID, requester)
	if err != nil {
		return err
	}
	return m.deleteZone(ctx, zone)
}

// DeleteZoneByID removes a zone by identity, for operator tooling
func (m *Manager) DeleteZoneByID(ctx context.Context, zoneID string) error {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		return err
	}
	return m.deleteZone(ctx, zone)
}

func (m *Manager) deleteZone(ctx context.Context, zone *types.Zone) error {
	rt, ok := m.provider(zone.ServerID)
	if !ok {
		return ErrServerNotManaged
	}
	return rt.Machine.Delete(ctx, zone, events.EventZoneDeleted, "deleted on request")
}

// EditZone adjusts a zone's parameters. The applied state is reset so the
// next reconciliation reissues the full batch, including the sphere
// definition when the radius changed.
func (m *Manager) EditZone(ctx context.Context, zoneID string, req EditRequest) (*types.Zone, error) {
	zone, err := m.store.GetZone(zoneID)
	if err != nil {
		return nil, err
	}

	if req.Radius != nil {
		zone.Radius = *req.Radius
	}
	if req.DelayMinutes != nil {
		zone.DelayMinutes = *req.DelayMinutes
	}
	if req.ExpireSeconds != nil {
		zone.ExpireSeconds = *req.ExpireSeconds
	}
	if req.Colors != nil {
		zone.Colors = *req.Colors
	}

	now := time.Now()
	zone.AppliedState = ""
	zone.StateChangedAt = now
	zone.UpdatedAt = now
	if err := m.store.UpdateZone(zone); err != nil {
		return nil, fmt.Errorf("failed to persist edit: %w", err)
	}

	m.broker.Publish(&events.Event{
		Type:     events.EventZoneCorrected,
		ServerID: zone.ServerID,
		ZoneID:   zone.ID,
		PlayerID: zone.OwnerID,
		Message:  fmt.Sprintf("zone for %s corrected, settings reapplying", zone.OwnerName),
	})
	return zone, nil
}
