// Package team resolves a player to their team and its designated leader.
// The primary path is a cached index fed by team-change push events; the
// fallback is an all-teams query scanned for the player.
package team

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/presence"
	"github.com/wardenhq/warden/pkg/rcon"
)

const teamsCommand = "relationshipmanager.teaminfoall"

// Team is one player team. Members and Leader are normalized identities.
type Team struct {
	ID      string
	Leader  string
	Members []string
}

// Size returns the member count
func (t *Team) Size() int {
	return len(t.Members)
}

// Resolver maps players to teams. The cache is per-process and
// disposable: it is rebuilt from a fresh all-teams query whenever an entry
// is missing.
type Resolver struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	byPlayer map[string]string // normalized player -> team ID
	teams    map[string]*Team
}

// NewResolver creates a resolver for one server
func NewResolver(serverName string) *Resolver {
	return &Resolver{
		logger:   log.WithComponent("team").With().Str("server", serverName).Logger(),
		byPlayer: make(map[string]string),
		teams:    make(map[string]*Team),
	}
}

// Prime populates the cache with an explicit all-teams query. Called once
// at startup; failures are non-fatal because TeamOf falls back to the
// same query.
func (r *Resolver) Prime(ctx context.Context, client rcon.Sender) error {
	return r.refresh(ctx, client)
}

// TeamOf resolves a normalized player identity to their team. Returns
// false when the player has no team.
func (r *Resolver) TeamOf(ctx context.Context, client rcon.Sender, player string) (*Team, bool) {
	player = presence.Normalize(player)

	r.mu.RLock()
	teamID, indexed := r.byPlayer[player]
	team := r.teams[teamID]
	r.mu.RUnlock()

	if indexed && team != nil {
		return copyTeam(team), true
	}

	// Fallback: re-query every team and scan for the player.
	if err := r.refresh(ctx, client); err != nil {
		r.logger.Warn().Err(err).Msg("team query failed")
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if teamID, ok := r.byPlayer[player]; ok {
		if team := r.teams[teamID]; team != nil {
			return copyTeam(team), true
		}
	}
	return nil, false
}

// refresh replaces the whole cache from one all-teams query
func (r *Resolver) refresh(ctx context.Context, client rcon.Sender) error {
	if client == nil {
		return errors.New("no rcon session")
	}
	response, err := client.Send(ctx, teamsCommand)
	if err != nil {
		return err
	}

	teams := ParseTeams(response)

	byPlayer := make(map[string]string)
	byID := make(map[string]*Team, len(teams))
	for _, t := range teams {
		byID[t.ID] = t
		for _, m := range t.Members {
			byPlayer[m] = t.ID
		}
	}

	r.mu.Lock()
	r.byPlayer = byPlayer
	r.teams = byID
	r.mu.Unlock()

	r.logger.Debug().Int("teams", len(teams)).Msg("team index refreshed")
	return nil
}

// HandleEvent applies a team-change push event to the cache. Leave, kick
// and disband remove players from the index; join and create add them.
// Membership lists are invalidated rather than patched so the next lookup
// refetches authoritative data.
func (r *Resolver) HandleEvent(ev rcon.Event) {
	change, ok := ParseChange(ev.Message)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch change.Kind {
	case ChangeCreate, ChangeJoin:
		r.byPlayer[change.Player] = change.TeamID
		delete(r.teams, change.TeamID)
	case ChangeLeave, ChangeKick:
		delete(r.byPlayer, change.Player)
		delete(r.teams, change.TeamID)
	case ChangeDisband:
		for player, teamID := range r.byPlayer {
			if teamID == change.TeamID {
				delete(r.byPlayer, player)
			}
		}
		delete(r.teams, change.TeamID)
	}
}

func copyTeam(t *Team) *Team {
	members := make([]string, len(t.Members))
	copy(members, t.Members)
	return &Team{ID: t.ID, Leader: t.Leader, Members: members}
}
