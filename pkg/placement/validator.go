// Package placement enforces the spatial and team constraints on zone
// creation. All checks are pure and synchronous against current data; a
// rejected request has no partial effects.
package placement

import (
	"fmt"
	"math"
	"time"

	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/presence"
	"github.com/wardenhq/warden/pkg/team"
	"github.com/wardenhq/warden/pkg/types"
)

// Reason classifies why a creation request was rejected
type Reason string

const (
	ReasonAlreadyOwner  Reason = "already_owner"
	ReasonBanned        Reason = "banned"
	ReasonNotAllowed    Reason = "not_allowed"
	ReasonNotTeamLeader Reason = "not_team_leader"
	ReasonTeamTooSmall  Reason = "team_too_small"
	ReasonTeamTooLarge  Reason = "team_too_large"
	ReasonOverlap       Reason = "overlap"
	ReasonTooClose      Reason = "too_close"
)

// Rejection is a validation failure with its reason. It is the only
// user-visible failure the core produces.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("zone creation rejected (%s): %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Request is a validated zone creation request from the operator surface
type Request struct {
	ServerID  string
	Requester string // normalized player identity
	Position  types.Position
	Radius    float64
}

// Validator checks creation requests against configured constraints
type Validator struct {
	cfg config.Placement

	banned  presence.Set
	allowed presence.Set
}

// NewValidator creates a validator from placement configuration
func NewValidator(cfg config.Placement) *Validator {
	v := &Validator{
		cfg:     cfg,
		banned:  presence.NewSet(),
		allowed: presence.NewSet(),
	}
	for _, n := range cfg.BanList {
		v.banned[presence.Normalize(n)] = struct{}{}
	}
	for _, n := range cfg.AllowList {
		v.allowed[presence.Normalize(n)] = struct{}{}
	}
	return v
}

// Validate returns nil when the request may proceed, or a *Rejection.
// existing must be the server's unexpired zones; requesterTeam may be nil
// when the requester has no team.
func (v *Validator) Validate(req Request, existing []*types.Zone, requesterTeam *team.Team, now time.Time) error {
	requester := presence.Normalize(req.Requester)

	for _, zone := range existing {
		if zone.Expired(now) {
			continue
		}
		if presence.Normalize(zone.OwnerName) == requester {
			return reject(ReasonAlreadyOwner, "%s already owns zone %s", req.Requester, zone.ID)
		}
	}

	if v.banned.Contains(requester) {
		return reject(ReasonBanned, "%s is on the ban list", req.Requester)
	}

	if v.cfg.AllowListEnabled && !v.allowed.Contains(requester) {
		return reject(ReasonNotAllowed, "%s is not on the allow list", req.Requester)
	}

	// Solo players count as a team of one with themselves as leader.
	size := 1
	if requesterTeam != nil {
		if requesterTeam.Leader != requester {
			return reject(ReasonNotTeamLeader, "%s is not the team leader", req.Requester)
		}
		size = requesterTeam.Size()
	}
	if size < v.cfg.MinTeamSize {
		return reject(ReasonTeamTooSmall, "team size %d below minimum %d", size, v.cfg.MinTeamSize)
	}
	if size > v.cfg.MaxTeamSize {
		return reject(ReasonTeamTooLarge, "team size %d above maximum %d", size, v.cfg.MaxTeamSize)
	}

	for _, zone := range existing {
		if zone.Expired(now) {
			continue
		}
		if Overlaps(req.Position, req.Radius, zone.Position, zone.Radius) {
			return reject(ReasonOverlap, "sphere overlaps zone %s", zone.ID)
		}
		if d := GroundDistance(req.Position, zone.Position); d < v.cfg.MinCenterDistance {
			return reject(ReasonTooClose, "center %.0f from zone %s, minimum %.0f",
				d, zone.ID, v.cfg.MinCenterDistance)
		}
	}

	return nil
}

// Overlaps reports whether two zone spheres intersect: Euclidean distance
// between centers below the sum of radii.
func Overlaps(a types.Position, ra float64, b types.Position, rb float64) bool {
	return Distance(a, b) < ra+rb
}

// Distance is the 3D Euclidean distance between two positions
func Distance(a, b types.Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// GroundDistance is the distance on the horizontal plane, ignoring height
func GroundDistance(a, b types.Position) float64 {
	dx, dz := a.X-b.X, a.Z-b.Z
	return math.Sqrt(dx*dx + dz*dz)
}
