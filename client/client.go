// Package client implements a board client for the realtime endpoint: it
// subscribes to a project, mirrors the authoritative board into a local
// replica and resynchronizes via full snapshots after disconnects or
// sequence gaps. Reconnection follows a configured backoff policy with a
// capped attempt count; the caller is surfaced a persistent-failure error
// rather than the client retrying forever.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/domain"
)

// ErrGaveUp is returned by Run when the reconnect budget is exhausted.
// Failed dials and sessions that drop before HealthyAfter both count
// against the budget; only a session that stayed up at least HealthyAfter
// restores it.
var ErrGaveUp = errors.New("gave up reconnecting")

// Config describes the endpoint and the reconnect policy as data.
type Config struct {
	Endpoint  string // ws:// or wss:// URL of the realtime endpoint
	Token     string // bearer token, passed as the token query parameter
	ProjectID string

	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  uint64        // consecutive failed connections before giving up
	HealthyAfter time.Duration // session age that resets the retry budget
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = 30 * time.Second
	}
	return c
}

// envelope mirrors the server's wire format.
type envelope struct {
	Type      string                 `json:"type"`
	Payload   sonic.NoCopyRawMessage `json:"payload"`
	Timestamp string                 `json:"timestamp"`
}

// Client maintains a live subscription to one project.
type Client struct {
	cfg Config

	mu        sync.Mutex
	board     *domain.Board
	seq       uint64
	synced    bool
	userCount int
}

// New creates a Client for the given configuration.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

// Run connects and processes messages until ctx is canceled or the
// reconnect budget is exhausted, in which case it returns ErrGaveUp.
// The backoff policy persists across connections: a server that accepts
// the dial and immediately drops the session burns through the budget
// like a refused dial, instead of spinning in a zero-delay reconnect
// loop. The budget is restored only once a session has stayed up for
// HealthyAfter.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := c.endpointURL()
	if err != nil {
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.BaseDelay
	policy.Multiplier = c.cfg.Multiplier
	policy.MaxInterval = c.cfg.MaxDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	var failures uint64
	retry := func(cause error) error {
		failures++
		if failures > c.cfg.MaxAttempts {
			return fmt.Errorf("%w: %v", ErrGaveUp, cause)
		}
		return sleep(ctx, policy.NextBackOff())
	}

	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := retry(err); err != nil {
				return err
			}
			continue
		}
		started := time.Now()
		err = c.session(conn)
		conn.Close()
		c.mu.Lock()
		c.synced = false
		c.mu.Unlock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debugf("connection to %s dropped: %v, reconnecting", c.cfg.Endpoint, err)
		if time.Since(started) >= c.cfg.HealthyAfter {
			failures = 0
			policy.Reset()
			continue
		}
		if err := retry(err); err != nil {
			return err
		}
	}
}

func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session subscribes and applies messages until the connection drops.
func (c *Client) session(conn *websocket.Conn) error {
	if err := c.send(conn, "subscribe_project", map[string]string{"projectId": c.cfg.ProjectID}); err != nil {
		return err
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			log.Errorf("malformed server message: %v", err)
			continue
		}
		needResync, err := c.apply(env)
		if err != nil {
			log.Errorf("apply %s: %v", env.Type, err)
			continue
		}
		if needResync {
			if err := c.send(conn, "request_board_sync", map[string]string{"projectId": c.cfg.ProjectID}); err != nil {
				return err
			}
		}
	}
}

func (c *Client) send(conn *websocket.Conn, typ string, payload any) error {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Type: typ, Payload: raw, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	data, err := sonic.Marshal(&env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// apply folds one server message into the replica. It reports whether a
// full resynchronization is required because a sequence gap was observed.
func (c *Client) apply(env envelope) (needResync bool, err error) {
	switch env.Type {
	case domain.EventBoardSync:
		var snap domain.Snapshot
		if err := sonic.Unmarshal(env.Payload, &snap); err != nil {
			return false, err
		}
		c.applySnapshot(snap)
		return false, nil
	case domain.EventTaskCreated, domain.EventTaskMoved, domain.EventTaskUpdated, domain.EventTaskDeleted:
		var ev domain.Event
		if err := sonic.Unmarshal(env.Payload, &ev); err != nil {
			return false, err
		}
		ev.Type = env.Type
		return c.applyEvent(ev), nil
	case domain.EventUserCount:
		var p struct {
			Count int `json:"count"`
		}
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		c.mu.Lock()
		c.userCount = p.Count
		c.mu.Unlock()
		return false, nil
	case domain.EventError:
		var p struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := sonic.Unmarshal(env.Payload, &p); err != nil {
			return false, err
		}
		// Rejections that carry a snapshot self-heal on the board_sync
		// that follows; nothing to do here beyond surfacing it.
		log.Warnf("server rejected operation: %s: %s", p.Code, p.Message)
		return false, nil
	default:
		log.Debugf("ignoring unknown server message type %s", env.Type)
		return false, nil
	}
}

// Snapshot returns a copy of the replica tagged with the last applied
// sequence number.
func (c *Client) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board == nil {
		return domain.Snapshot{ProjectID: c.cfg.ProjectID}
	}
	return domain.Snapshot{ProjectID: c.cfg.ProjectID, Seq: c.seq, Columns: c.board.Clone().Columns}
}

// Synced reports whether the replica currently reflects an unbroken event
// stream since the last snapshot.
func (c *Client) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// UserCount returns the last observed subscriber count for the project.
func (c *Client) UserCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userCount
}
