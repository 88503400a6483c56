// Package watchdog detects zones stuck with desired != applied for too
// long and records them for operator visibility. Observation only: it
// never mutates zone state.
package watchdog

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

// Watchdog scans durable state on a fixed interval, independent of the
// monitoring passes
type Watchdog struct {
	store     storage.Store
	interval  time.Duration
	threshold time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
}

// New creates a watchdog. threshold is how long a mismatch may persist
// before it is flagged.
func New(store storage.Store, interval, threshold time.Duration) *Watchdog {
	return &Watchdog{
		store:     store,
		interval:  interval,
		threshold: threshold,
		logger:    log.WithComponent("watchdog"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scan loop
func (w *Watchdog) Start() {
	go w.run()
}

// Stop stops the watchdog
func (w *Watchdog) Stop() {
	close(w.stopCh)
}

func (w *Watchdog) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Scan(time.Now()); err != nil {
				w.logger.Error().Err(err).Msg("watchdog scan failed")
			}
		case <-w.stopCh:
			return
		}
	}
}

// Scan performs one pass: flag newly stuck zones, clear alerts for zones
// that converged or disappeared. Alerts are deduplicated per zone.
func (w *Watchdog) Scan(now time.Time) error {
	servers, err := w.store.ListServers()
	if err != nil {
		return err
	}

	stuck := make(map[string]bool)
	for _, server := range servers {
		zones, err := w.store.ListZonesByServer(server.ID)
		if err != nil {
			return err
		}
		for _, zone := range zones {
			if zone.DesiredState == zone.AppliedState {
				continue
			}
			if now.Sub(mismatchSince(zone)) < w.threshold {
				continue
			}
			stuck[zone.ID] = true
			if err := w.flag(zone, now); err != nil {
				return err
			}
		}
	}

	// Clear alerts whose mismatch disappeared.
	alerts, err := w.store.ListHealthAlerts()
	if err != nil {
		return err
	}
	active := 0
	for _, alert := range alerts {
		if stuck[alert.ZoneID] {
			active++
			continue
		}
		if err := w.store.DeleteHealthAlert(alert.ZoneID); err != nil {
			return err
		}
		w.logger.Info().Str("zone_id", alert.ZoneID).Msg("zone converged, alert cleared")
	}

	metrics.HealthAlertsActive.Set(float64(active))
	return nil
}

// flag records an alert unless one already exists for the zone
func (w *Watchdog) flag(zone *types.Zone, now time.Time) error {
	_, err := w.store.GetHealthAlert(zone.ID)
	if err == nil {
		return nil // already flagged
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	w.logger.Warn().
		Str("zone_id", zone.ID).
		Str("desired", string(zone.DesiredState)).
		Str("applied", string(zone.AppliedState)).
		Dur("stuck_for", now.Sub(mismatchSince(zone))).
		Msg("zone stuck, recording alert")

	return w.store.PutHealthAlert(&types.HealthAlert{
		ZoneID:       zone.ID,
		ServerID:     zone.ServerID,
		DesiredState: zone.DesiredState,
		AppliedState: zone.AppliedState,
		Since:        mismatchSince(zone),
		RecordedAt:   now,
	})
}

// mismatchSince is when the zone's current desired state was set. Routine
// record writes move UpdatedAt on every poll, so only the dedicated stamp
// measures how long the mismatch has actually persisted.
func mismatchSince(zone *types.Zone) time.Time {
	if zone.StateChangedAt.IsZero() {
		return zone.UpdatedAt
	}
	return zone.StateChangedAt
}
