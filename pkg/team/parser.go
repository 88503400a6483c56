package team

import (
	"regexp"
	"strings"

	"github.com/wardenhq/warden/pkg/presence"
)

var (
	teamHeader = regexp.MustCompile(`(?i)^\s*Team\s+(\d+)\b`)
	memberRow  = regexp.MustCompile(`^\s+"(.+?)"(\s+\d{15,20})?\s*(\(LEADER\))?\s*$`)
)

// ParseTeams parses the all-teams query response. The format is a team
// header line followed by indented quoted member rows, the leader marked
// with a (LEADER) suffix:
//
//	Team 42
//	  "Alice" 76561198000000001 (LEADER)
//	  "Bob" 76561198000000002
func ParseTeams(response string) []*Team {
	var teams []*Team
	var current *Team

	for _, line := range strings.Split(response, "\n") {
		if m := teamHeader.FindStringSubmatch(line); m != nil {
			current = &Team{ID: m[1]}
			teams = append(teams, current)
			continue
		}
		if current == nil {
			continue
		}
		if m := memberRow.FindStringSubmatch(line); m != nil {
			name := presence.Normalize(m[1])
			if name == "" {
				continue
			}
			current.Members = append(current.Members, name)
			if m[3] != "" {
				current.Leader = name
			}
		}
	}

	// Drop teams the response truncated before any member row.
	var complete []*Team
	for _, t := range teams {
		if len(t.Members) > 0 {
			complete = append(complete, t)
		}
	}
	return complete
}

// ChangeKind is the type of a team-change push event
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeJoin
	ChangeLeave
	ChangeKick
	ChangeDisband
)

// Change is one parsed team-change event
type Change struct {
	Kind   ChangeKind
	TeamID string
	Player string // normalized; empty for disband
}

var changePatterns = []struct {
	kind ChangeKind
	re   *regexp.Regexp
}{
	{ChangeCreate, regexp.MustCompile(`^\[TEAM\]\s+(.+?)\s+created team\s+(\d+)`)},
	{ChangeJoin, regexp.MustCompile(`^\[TEAM\]\s+(.+?)\s+joined team\s+(\d+)`)},
	{ChangeLeave, regexp.MustCompile(`^\[TEAM\]\s+(.+?)\s+left team\s+(\d+)`)},
	{ChangeKick, regexp.MustCompile(`^\[TEAM\]\s+(.+?)\s+was kicked from team\s+(\d+)`)},
}

var disbandPattern = regexp.MustCompile(`^\[TEAM\]\s+team\s+(\d+)\s+disbanded`)

// ParseChange extracts a team change from a push line. Returns false for
// lines that are not team events.
func ParseChange(line string) (Change, bool) {
	line = strings.TrimSpace(line)

	if m := disbandPattern.FindStringSubmatch(line); m != nil {
		return Change{Kind: ChangeDisband, TeamID: m[1]}, true
	}
	for _, p := range changePatterns {
		if m := p.re.FindStringSubmatch(line); m != nil {
			return Change{
				Kind:   p.kind,
				TeamID: m[2],
				Player: presence.Normalize(m[1]),
			}, true
		}
	}
	return Change{}, false
}
