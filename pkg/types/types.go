package types

import (
	"time"
)

// Server represents a managed game server reachable over RCON
type Server struct {
	ID        string
	Name      string
	Tenant    string
	Host      string
	Port      int
	Password  string
	CreatedAt time.Time
}

// Address returns the host:port endpoint of the server
func (s *Server) Address() string {
	return joinHostPort(s.Host, s.Port)
}

// ZoneState represents the lifecycle state of a zone
type ZoneState string

const (
	// ZoneStateWhite is the initial state after creation: building and PvP
	// fully permissive while the creation grace timer runs.
	ZoneStateWhite ZoneState = "white"

	// ZoneStateGreen means the owner or a teammate is online: full
	// build/PvP permissions.
	ZoneStateGreen ZoneState = "green"

	// ZoneStateYellow means everyone is offline and the grace period is
	// running: building damage and PvP disabled, warning color.
	ZoneStateYellow ZoneState = "yellow"

	// ZoneStateRed means the grace period expired with the owner still
	// absent: structures protected, PvP enabled, expire countdown armed.
	ZoneStateRed ZoneState = "red"
)

// Valid reports whether s is a known zone state
func (s ZoneState) Valid() bool {
	switch s {
	case ZoneStateWhite, ZoneStateGreen, ZoneStateYellow, ZoneStateRed:
		return true
	}
	return false
}

// Position is a point in the game world
type Position struct {
	X float64
	Y float64
	Z float64
}

// ZoneColors holds the per-state display color parameters pushed to the
// game server alongside the permission flags
type ZoneColors struct {
	White  string
	Green  string
	Yellow string
	Red    string
}

// ForState returns the configured color for a state
func (c ZoneColors) ForState(s ZoneState) string {
	switch s {
	case ZoneStateGreen:
		return c.Green
	case ZoneStateYellow:
		return c.Yellow
	case ZoneStateRed:
		return c.Red
	default:
		return c.White
	}
}

// TeamSnapshot is a cached view of the owner's team at some point in time.
// Never authoritative: refreshed from the team resolver on each pass.
type TeamSnapshot struct {
	TeamID    string
	LeaderID  string
	MemberIDs []string
	TakenAt   time.Time
}

// Zone represents a player-owned safe zone on one server.
//
// AppliedState mirrors the last configuration that was confirmed by the
// game server; it is only advanced after every command of a transition
// batch succeeded, never optimistically.
type Zone struct {
	ID        string
	ServerID  string
	OwnerID   string
	OwnerName string
	Team      *TeamSnapshot

	Position Position
	Radius   float64
	Colors   ZoneColors

	// DelayMinutes is the offline grace period before a yellow zone
	// turns red. ExpireSeconds is the countdown from red to deletion,
	// and also bounds the zone's absolute lifetime from CreatedAt.
	DelayMinutes  int
	ExpireSeconds int

	DesiredState ZoneState
	AppliedState ZoneState

	// StateChangedAt is stamped whenever DesiredState changes (or an
	// edit forces reapplication). It is the reference clock for
	// detecting zones stuck with an unapplied desired state; UpdatedAt
	// moves on every persisted write and cannot serve that role.
	StateChangedAt time.Time

	LastOnlineAt  time.Time
	LastOfflineAt time.Time // zero while online; stamped once per offline episode
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the zone's absolute lifetime has elapsed at now
func (z *Zone) Expired(now time.Time) bool {
	if z.ExpireSeconds <= 0 {
		return false
	}
	return now.After(z.CreatedAt.Add(time.Duration(z.ExpireSeconds) * time.Second))
}

// Delay returns the offline grace period as a duration
func (z *Zone) Delay() time.Duration {
	return time.Duration(z.DelayMinutes) * time.Minute
}

// Expire returns the red-to-deletion countdown as a duration
func (z *Zone) Expire() time.Duration {
	return time.Duration(z.ExpireSeconds) * time.Second
}

// ProcessingLock is a leased, renewable mutual-exclusion token for one
// server's monitoring pass. Only the holder may renew or release it; an
// expired lock may be reclaimed by any holder.
type ProcessingLock struct {
	ServerID   string
	HolderID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock's lease has lapsed at now
func (l *ProcessingLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// PassHeartbeat records the last successful primary monitoring pass for a
// server. The hot-standby pass only proceeds when this is stale.
type PassHeartbeat struct {
	ServerID string
	HolderID string
	BeatAt   time.Time
}

// CommandLogEntry is one attempt of one RCON configuration command.
// Append-only audit trail, never mutated.
type CommandLogEntry struct {
	ID       string
	ServerID string
	ZoneID   string
	Command  string
	Attempt  int
	Success  bool
	Response string
	Error    string
	At       time.Time
}

// HealthAlert records a zone stuck with desired != applied for too long.
// Deduplicated per zone; cleared once the mismatch resolves.
type HealthAlert struct {
	ZoneID       string
	ServerID     string
	DesiredState ZoneState
	AppliedState ZoneState
	Since        time.Time
	RecordedAt   time.Time
}
