package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wardenhq/warden/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketServers      = []byte("servers")
	bucketZones        = []byte("zones")
	bucketLocks        = []byte("locks")
	bucketHeartbeats   = []byte("heartbeats")
	bucketCommandLog   = []byte("command_log")
	bucketHealthAlerts = []byte("health_alerts")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "warden.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketServers,
			bucketZones,
			bucketLocks,
			bucketHeartbeats,
			bucketCommandLog,
			bucketHealthAlerts,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Server operations
func (s *BoltStore) CreateServer(server *types.Server) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data, err := json.Marshal(server)
		if err != nil {
			return err
		}
		return b.Put([]byte(server.ID), data)
	})
}

func (s *BoltStore) GetServer(id string) (*types.Server, error) {
	var server types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("server %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &server)
	})
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *BoltStore) ListServers() ([]*types.Server, error) {
	var servers []*types.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var server types.Server
			if err := json.Unmarshal(v, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	return servers, err
}

func (s *BoltStore) UpdateServer(server *types.Server) error {
	return s.CreateServer(server) // Same as create (upsert)
}

// DeleteServer removes the server record and every zone on it in one
// transaction so a crash cannot leave orphaned zones behind.
func (s *BoltStore) DeleteServer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		zones := tx.Bucket(bucketZones)
		c := zones.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var zone types.Zone
			if err := json.Unmarshal(v, &zone); err != nil {
				continue
			}
			if zone.ServerID == id {
				if err := zones.Delete(k); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketServers).Delete([]byte(id))
	})
}

// Zone operations
func (s *BoltStore) CreateZone(zone *types.Zone) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZones)
		data, err := json.Marshal(zone)
		if err != nil {
			return err
		}
		return b.Put([]byte(zone.ID), data)
	})
}

func (s *BoltStore) GetZone(id string) (*types.Zone, error) {
	var zone types.Zone
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZones)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("zone %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &zone)
	})
	if err != nil {
		return nil, err
	}
	return &zone, nil
}

func (s *BoltStore) GetZoneByOwner(serverID, ownerName string) (*types.Zone, error) {
	var found *types.Zone
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZones)
		return b.ForEach(func(k, v []byte) error {
			var zone types.Zone
			if err := json.Unmarshal(v, &zone); err != nil {
				return err
			}
			if zone.ServerID == serverID && strings.EqualFold(zone.OwnerName, ownerName) {
				found = &zone
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("zone owned by %s: %w", ownerName, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListZonesByServer(serverID string) ([]*types.Zone, error) {
	var zones []*types.Zone
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZones)
		return b.ForEach(func(k, v []byte) error {
			var zone types.Zone
			if err := json.Unmarshal(v, &zone); err != nil {
				return err
			}
			if zone.ServerID == serverID {
				zones = append(zones, &zone)
			}
			return nil
		})
	})
	return zones, err
}

func (s *BoltStore) ListUnexpiredZonesByServer(serverID string, now time.Time) ([]*types.Zone, error) {
	zones, err := s.ListZonesByServer(serverID)
	if err != nil {
		return nil, err
	}

	var unexpired []*types.Zone
	for _, zone := range zones {
		if !zone.Expired(now) {
			unexpired = append(unexpired, zone)
		}
	}
	return unexpired, nil
}

func (s *BoltStore) UpdateZone(zone *types.Zone) error {
	return s.CreateZone(zone)
}

func (s *BoltStore) DeleteZone(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketZones)
		return b.Delete([]byte(id))
	})
}

// Lock operations.
//
// Bolt serializes Update transactions, so the read-check-write below is a
// true compare-and-set: two concurrent acquirers cannot both observe the
// lock as free.
func (s *BoltStore) AcquireLock(serverID, holderID string, ttl time.Duration, now time.Time) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		if data := b.Get([]byte(serverID)); data != nil {
			var lock types.ProcessingLock
			if err := json.Unmarshal(data, &lock); err != nil {
				return err
			}
			// An unexpired lock held by someone else denies the acquire.
			if lock.HolderID != holderID && !lock.Expired(now) {
				return nil
			}
		}

		lock := types.ProcessingLock{
			ServerID:   serverID,
			HolderID:   holderID,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}
		data, err := json.Marshal(&lock)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(serverID), data); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	return acquired, err
}

func (s *BoltStore) ReleaseLock(serverID, holderID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data := b.Get([]byte(serverID))
		if data == nil {
			return nil
		}
		var lock types.ProcessingLock
		if err := json.Unmarshal(data, &lock); err != nil {
			return err
		}
		// Only the holder may release its own lock.
		if lock.HolderID != holderID {
			return nil
		}
		return b.Delete([]byte(serverID))
	})
}

func (s *BoltStore) GetLock(serverID string) (*types.ProcessingLock, error) {
	var lock types.ProcessingLock
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		data := b.Get([]byte(serverID))
		if data == nil {
			return fmt.Errorf("lock for server %s: %w", serverID, ErrNotFound)
		}
		return json.Unmarshal(data, &lock)
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// Heartbeat operations
func (s *BoltStore) PutHeartbeat(hb *types.PassHeartbeat) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		data, err := json.Marshal(hb)
		if err != nil {
			return err
		}
		return b.Put([]byte(hb.ServerID), data)
	})
}

func (s *BoltStore) GetHeartbeat(serverID string) (*types.PassHeartbeat, error) {
	var hb types.PassHeartbeat
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeartbeats)
		data := b.Get([]byte(serverID))
		if data == nil {
			return fmt.Errorf("heartbeat for server %s: %w", serverID, ErrNotFound)
		}
		return json.Unmarshal(data, &hb)
	})
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

// Command log operations. Keys are time-prefixed so a cursor walk returns
// entries in append order.
func (s *BoltStore) AppendCommandLog(entry *types.CommandLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommandLog)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%020d-%s", entry.At.UnixNano(), entry.ID)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListCommandLogByZone(zoneID string) ([]*types.CommandLogEntry, error) {
	var entries []*types.CommandLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommandLog)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry types.CommandLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if entry.ZoneID == zoneID {
				entries = append(entries, &entry)
			}
		}
		return nil
	})
	return entries, err
}

// Health alert operations
func (s *BoltStore) PutHealthAlert(alert *types.HealthAlert) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthAlerts)
		data, err := json.Marshal(alert)
		if err != nil {
			return err
		}
		return b.Put([]byte(alert.ZoneID), data)
	})
}

func (s *BoltStore) GetHealthAlert(zoneID string) (*types.HealthAlert, error) {
	var alert types.HealthAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthAlerts)
		data := b.Get([]byte(zoneID))
		if data == nil {
			return fmt.Errorf("health alert for zone %s: %w", zoneID, ErrNotFound)
		}
		return json.Unmarshal(data, &alert)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *BoltStore) DeleteHealthAlert(zoneID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthAlerts)
		return b.Delete([]byte(zoneID))
	})
}

func (s *BoltStore) ListHealthAlerts() ([]*types.HealthAlert, error) {
	var alerts []*types.HealthAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHealthAlerts)
		return b.ForEach(func(k, v []byte) error {
			var alert types.HealthAlert
			if err := json.Unmarshal(v, &alert); err != nil {
				return err
			}
			alerts = append(alerts, &alert)
			return nil
		})
	})
	return alerts, err
}
