// Package rcon maintains one persistent WebRCON session per managed game
// server: JSON frames over a websocket, requests correlated to responses
// by a numeric identifier, unsolicited log lines delivered on a separate
// ordered stream.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/types"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned when a command receives no response within the
// configured deadline
var ErrTimeout = errors.New("rcon command timed out")

// ErrClosed is returned when the client has been closed
var ErrClosed = errors.New("rcon client closed")

const (
	defaultTimeout = 10 * time.Second
	dialTimeout    = 10 * time.Second

	// Reconnect backoff bounds. The rate limiter additionally floors the
	// dial frequency so a repeating identical failure cannot storm the
	// server.
	backoffBase     = time.Second
	backoffMax      = 60 * time.Second
	minDialInterval = 5 * time.Second

	eventBuffer = 256
)

// frame is the WebRCON wire format. Requests carry Identifier+Message+Name;
// responses echo the Identifier. Identifier 0 marks unsolicited push lines.
type frame struct {
	Identifier int    `json:"Identifier"`
	Message    string `json:"Message"`
	Name       string `json:"Name,omitempty"`
	Type       string `json:"Type,omitempty"`
	Stacktrace string `json:"Stacktrace,omitempty"`
}

// Event is one unsolicited push line from the server's log stream
type Event struct {
	Type    string
	Message string
	At      time.Time
}

type pendingCall struct {
	ch chan frame
}

// Client is a persistent RCON session for one server. Safe for concurrent
// use: callers multiplex over the single socket and never observe each
// other's responses.
type Client struct {
	server  *types.Server
	logger  zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int]*pendingCall
	nextID  int
	closed  bool

	events  chan Event
	stopCh  chan struct{}
	limiter *rate.Limiter
}

// Dial validates the server endpoint, establishes the websocket session
// and starts the read pump. Invalid endpoints are never dialed.
func Dial(ctx context.Context, server *types.Server) (*Client, error) {
	if err := ValidateEndpoint(server); err != nil {
		return nil, err
	}

	c := &Client{
		server:  server,
		logger:  log.WithComponent("rcon").With().Str("server", server.Name).Logger(),
		timeout: defaultTimeout,
		pending: make(map[int]*pendingCall),
		events:  make(chan Event, eventBuffer),
		stopCh:  make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(minDialInterval), 1),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readPump(conn)

	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   c.server.Address(),
		Path:   "/" + c.server.Password,
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.server.Address(), err)
	}
	return conn, nil
}

// Send issues one command and waits for its correlated response
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return "", fmt.Errorf("session down: %w", ErrClosed)
	}

	c.nextID++
	if c.nextID <= 0 {
		c.nextID = 1 // identifier 0 is reserved for push lines
	}
	id := c.nextID
	call := &pendingCall{ch: make(chan frame, 1)}
	c.pending[id] = call

	req := frame{Identifier: id, Message: command, Name: "warden"}
	err := conn.WriteJSON(req)
	c.mu.Unlock()

	if err != nil {
		c.forget(id)
		metrics.RconRoundtripsTotal.WithLabelValues(c.server.Name, "error").Inc()
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-call.ch:
		if !ok {
			metrics.RconRoundtripsTotal.WithLabelValues(c.server.Name, "error").Inc()
			return "", fmt.Errorf("session lost before response: %w", ErrClosed)
		}
		metrics.RconRoundtripsTotal.WithLabelValues(c.server.Name, "ok").Inc()
		return resp.Message, nil
	case <-timer.C:
		c.forget(id)
		metrics.RconRoundtripsTotal.WithLabelValues(c.server.Name, "timeout").Inc()
		return "", ErrTimeout
	case <-ctx.Done():
		c.forget(id)
		return "", ctx.Err()
	case <-c.stopCh:
		return "", ErrClosed
	}
}

// Events returns the ordered stream of unsolicited push lines
func (c *Client) Events() <-chan Event {
	return c.events
}

// Close stops the session and the reconnect loop
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.failPendingLocked()
	c.mu.Unlock()

	close(c.stopCh)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPendingLocked closes every in-flight call's channel. Callers see a
// session-lost error rather than hanging on a response that cannot arrive.
func (c *Client) failPendingLocked() {
	for id, call := range c.pending {
		close(call.ch)
		delete(c.pending, id)
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		if f.Identifier > 0 {
			c.mu.Lock()
			call, ok := c.pending[f.Identifier]
			if ok {
				delete(c.pending, f.Identifier)
			}
			c.mu.Unlock()
			if ok {
				call.ch <- f
			} else {
				// Late response after a timeout. Drop it.
				c.logger.Debug().Int("identifier", f.Identifier).Msg("dropping uncorrelated response")
			}
			continue
		}

		ev := Event{Type: f.Type, Message: f.Message, At: time.Now()}
		select {
		case c.events <- ev:
		default:
			c.logger.Warn().Msg("event buffer full, dropping push line")
		}
	}
}

// handleDisconnect discards the broken session and reconnects with bounded
// exponential backoff
func (c *Client) handleDisconnect(old *websocket.Conn, cause error) {
	old.Close()

	c.mu.Lock()
	if c.closed || c.conn != old {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.failPendingLocked()
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("rcon session lost, reconnecting")
	metrics.RconReconnectsTotal.WithLabelValues(c.server.Name).Inc()

	backoff := backoffBase
	for {
		ctx, cancel := context.WithTimeout(context.Background(), backoffMax)
		err := c.limiter.Wait(ctx)
		cancel()
		if err == nil {
			select {
			case <-c.stopCh:
				return
			case <-time.After(jitter(backoff)):
			}

			dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			conn, derr := c.dial(dialCtx)
			cancel()
			if derr == nil {
				c.mu.Lock()
				if c.closed {
					c.mu.Unlock()
					conn.Close()
					return
				}
				c.conn = conn
				c.mu.Unlock()
				c.logger.Info().Msg("rcon session re-established")
				go c.readPump(conn)
				return
			}
			c.logger.Error().Err(derr).Dur("backoff", backoff).Msg("reconnect failed")
		}

		select {
		case <-c.stopCh:
			return
		default:
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// jitter spreads reconnect attempts so several clients sharing a failure
// do not dial in lockstep
func jitter(d time.Duration) time.Duration {
	n := time.Now().UnixNano()
	return d + time.Duration(n%int64(d/4+1))
}

// Sender is the narrow interface components use to issue commands. The
// concrete Client satisfies it; tests substitute fakes.
type Sender interface {
	Send(ctx context.Context, command string) (string, error)
}

var _ Sender = (*Client)(nil)
