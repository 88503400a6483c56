package rcon

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/wardenhq/warden/pkg/types"
)

// ErrInvalidEndpoint is returned for server endpoints that must never be
// dialed: placeholder hosts, loopback addresses, out-of-range ports.
var ErrInvalidEndpoint = errors.New("invalid server endpoint")

// placeholderHosts are values that show up in unconfigured or templated
// server records. Dialing them is always a configuration mistake.
var placeholderHosts = map[string]bool{
	"":                true,
	"0.0.0.0":         true,
	"localhost":       true,
	"example.com":     true,
	"your.server.com": true,
	"changeme":        true,
}

// ValidateEndpoint checks that a server's address is dialable before any
// connection attempt is made
func ValidateEndpoint(server *types.Server) error {
	host := strings.ToLower(strings.TrimSpace(server.Host))
	if placeholderHosts[host] {
		return fmt.Errorf("%w: placeholder host %q", ErrInvalidEndpoint, server.Host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsUnspecified() {
			return fmt.Errorf("%w: non-routable address %q", ErrInvalidEndpoint, server.Host)
		}
	} else if strings.ContainsAny(host, " /\\@") {
		return fmt.Errorf("%w: malformed host %q", ErrInvalidEndpoint, server.Host)
	}

	if server.Port <= 1024 || server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, server.Port)
	}

	return nil
}
