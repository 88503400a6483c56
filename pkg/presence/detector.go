// Package presence polls a game server for its currently connected
// players and normalizes the heterogeneous listing formats servers answer
// with into one canonical identity set.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/rcon"
)

const (
	listCommand = "playerlist"

	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

// ErrUnparseable reports that the server answered the player listing but
// every attempt came back in a format none of the parsers recognize. The
// presence picture is unknown, not empty.
var ErrUnparseable = errors.New("presence response unparseable")

// Set is a set of normalized player identities
type Set map[string]struct{}

// NewSet builds a set from already-normalized names
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Contains reports membership of a normalized name
func (s Set) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// ContainsAny reports whether any of the names is present
func (s Set) ContainsAny(names []string) bool {
	for _, n := range names {
		if s.Contains(n) {
			return true
		}
	}
	return false
}

// Detector lists online players over an RCON session
type Detector struct {
	logger zerolog.Logger
}

// NewDetector creates a detector for one server
func NewDetector(serverName string) *Detector {
	return &Detector{
		logger: log.WithComponent("presence").With().Str("server", serverName).Logger(),
	}
}

// ListOnline returns the set of currently connected, normalized player
// identities.
//
// Malformed responses are retried a bounded number of times; if every
// attempt stays unrecognizable the call returns ErrUnparseable. Transport
// errors are returned as-is. Either way the caller must treat the result
// as unknown and keep its previous state rather than read it as "nobody
// online".
func (d *Detector) ListOnline(ctx context.Context, client rcon.Sender) (Set, error) {
	if client == nil {
		return nil, errors.New("no rcon session")
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := client.Send(ctx, listCommand)
		if err != nil {
			return nil, err
		}

		res := Parse(response)
		switch res.Kind {
		case ResultRows:
			set := make(Set, len(res.Rows))
			for _, row := range res.Rows {
				if name := Normalize(row); name != "" {
					set[name] = struct{}{}
				}
			}
			return set, nil
		case ResultEmpty:
			return Set{}, nil
		}

		d.logger.Debug().Int("attempt", attempt).Msg("unparseable presence response, retrying")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff << (attempt - 1)):
		}
	}

	d.logger.Warn().Msg("presence response stayed unparseable, reporting unknown")
	return nil, ErrUnparseable
}
