// Package reconciler converges each zone's in-game configuration onto its
// desired state. Application is idempotent by construction: the full
// command batch for a state is always reissued, and the applied state is
// only recorded after every command of the batch was acknowledged.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/rcon"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/types"
)

const (
	maxAttempts    = 3
	attemptBackoff = 200 * time.Millisecond
)

// Engine reconciles zones on one server
type Engine struct {
	store      storage.Store
	serverName string
	logger     zerolog.Logger

	mu     sync.RWMutex
	client rcon.Sender // session used when the caller does not supply one
}

// NewEngine creates a reconciliation engine for one server
func NewEngine(store storage.Store, serverName string) *Engine {
	return &Engine{
		store:      store,
		serverName: serverName,
		logger:     log.WithComponent("reconciler").With().Str("server", serverName).Logger(),
	}
}

// Reconcile runs one convergence cycle: every unexpired zone whose applied
// state differs from its desired state gets the full batch reapplied. Runs
// on every monitoring pass regardless of what triggered the pass, so a
// lost trigger never loses convergence.
func (e *Engine) Reconcile(ctx context.Context, serverID string, client rcon.Sender) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	zones, err := e.store.ListUnexpiredZonesByServer(serverID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list zones: %w", err)
	}

	diverged := 0
	for _, zone := range zones {
		if zone.AppliedState == zone.DesiredState {
			continue
		}
		diverged++
		if err := e.Apply(ctx, client, zone, zone.DesiredState); err != nil {
			e.logger.Warn().Err(err).
				Str("zone_id", zone.ID).
				Str("desired", string(zone.DesiredState)).
				Str("applied", string(zone.AppliedState)).
				Msg("zone left diverged for next pass")
		}
	}
	metrics.ZonesDiverged.Set(float64(diverged))
	return nil
}

// Apply issues the full configuration batch for the state. The zone's
// applied state is persisted only if every command succeeded; a partial
// failure leaves the previous applied state untouched so the next pass
// reissues everything.
func (e *Engine) Apply(ctx context.Context, client rcon.Sender, zone *types.Zone, state types.ZoneState) error {
	commands := commandsFor(zone, state)

	// A zone that was never applied does not exist in-game yet.
	if zone.AppliedState == "" {
		commands = append([]string{createCommand(zone)}, commands...)
	}

	for _, command := range commands {
		if err := e.sendLogged(ctx, client, zone, command); err != nil {
			return fmt.Errorf("command %q failed: %w", command, err)
		}
	}

	zone.AppliedState = state
	zone.UpdatedAt = time.Now()
	if err := e.store.UpdateZone(zone); err != nil {
		// The remote succeeded but the write failed. The next pass
		// observes desired != applied and reissues the batch, which is
		// harmless by idempotence.
		return fmt.Errorf("failed to record applied state: %w", err)
	}
	return nil
}

// RemoveZone tears down the zone's in-game configuration, with the same
// retry and audit treatment as configuration commands
func (e *Engine) RemoveZone(ctx context.Context, zone *types.Zone) error {
	return e.sendLogged(ctx, nil, zone, removeCommand(zone))
}

// RemoveZoneWith is RemoveZone with an explicit session, for callers that
// already hold one
func (e *Engine) RemoveZoneWith(ctx context.Context, client rcon.Sender, zone *types.Zone) error {
	return e.sendLogged(ctx, client, zone, removeCommand(zone))
}

// SetClient wires the session used for timer-driven removals
func (e *Engine) SetClient(client rcon.Sender) {
	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
}

// sendLogged issues one command with bounded retry and appends every
// attempt to the audit log
func (e *Engine) sendLogged(ctx context.Context, client rcon.Sender, zone *types.Zone, command string) error {
	if client == nil {
		e.mu.RLock()
		client = e.client
		e.mu.RUnlock()
	}
	if client == nil {
		return fmt.Errorf("no rcon session for server %s", e.serverName)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := client.Send(ctx, command)

		entry := &types.CommandLogEntry{
			ID:       uuid.New().String(),
			ServerID: zone.ServerID,
			ZoneID:   zone.ID,
			Command:  command,
			Attempt:  attempt,
			Success:  err == nil,
			Response: response,
			At:       time.Now(),
		}
		if err != nil {
			entry.Error = err.Error()
		}
		if logErr := e.store.AppendCommandLog(entry); logErr != nil {
			e.logger.Error().Err(logErr).Msg("failed to append command log")
		}

		if err == nil {
			return nil
		}
		lastErr = err
		metrics.CommandFailuresTotal.WithLabelValues(e.serverName).Inc()

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(attemptBackoff << (attempt - 1)):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}
