package storage

import (
	"errors"
	"time"

	"github.com/wardenhq/warden/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Store defines the interface for durable controller state.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	// DeleteServer removes the server and cascades to its zones
	DeleteServer(id string) error

	// Zones
	CreateZone(zone *types.Zone) error
	GetZone(id string) (*types.Zone, error)
	// GetZoneByOwner matches the owner name case-insensitively
	GetZoneByOwner(serverID, ownerName string) (*types.Zone, error)
	ListZonesByServer(serverID string) ([]*types.Zone, error)
	// ListUnexpiredZonesByServer filters out zones whose absolute
	// lifetime elapsed before now
	ListUnexpiredZonesByServer(serverID string, now time.Time) ([]*types.Zone, error)
	UpdateZone(zone *types.Zone) error
	DeleteZone(id string) error

	// Locks. AcquireLock is a single atomic upsert: it succeeds when no
	// lock exists, the existing lock expired, or holderID already holds
	// it (renewal). ReleaseLock only deletes the holder's own lock.
	AcquireLock(serverID, holderID string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLock(serverID, holderID string) error
	GetLock(serverID string) (*types.ProcessingLock, error)

	// Pass heartbeats
	PutHeartbeat(hb *types.PassHeartbeat) error
	GetHeartbeat(serverID string) (*types.PassHeartbeat, error)

	// Command log, append-only
	AppendCommandLog(entry *types.CommandLogEntry) error
	ListCommandLogByZone(zoneID string) ([]*types.CommandLogEntry, error)

	// Health alerts
	PutHealthAlert(alert *types.HealthAlert) error
	GetHealthAlert(zoneID string) (*types.HealthAlert, error)
	DeleteHealthAlert(zoneID string) error
	ListHealthAlerts() ([]*types.HealthAlert, error)

	// Utility
	Close() error
}
