package smpp

import (
	"context"
	"sync/atomic"

	"github.com/telmind/didgate/pkg/codes"
)

// Client is the gateway's handle on the carrier link. It owns the shared
// inbound queue and rate limits, and tracks whichever Session the
// supervisor currently has bound. Sessions come and go across reconnects;
// the Client (and its inbound channel) live for the whole process.
type Client struct {
	cfg     Config
	inbound chan InboundMessage
	limiter *rateLimiter
	stats   Stats
	current atomic.Pointer[Session]
}

func NewClient(cfg Config, limits RateLimitConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		inbound: make(chan InboundMessage, cfg.DeliverQueueSize),
		limiter: newRateLimiter(limits),
	}
}

// Inbound is the queue the pipeline consumes. Closed by no one; deliveries
// simply stop when the process shuts down.
func (c *Client) Inbound() <-chan InboundMessage {
	return c.inbound
}

// Connect dials and binds a fresh session. Called by the supervisor only;
// reconnection is sequential by construction.
func (c *Client) Connect(ctx context.Context) (Connection, error) {
	sess, err := dial(ctx, c.cfg, c.inbound, &c.stats)
	if err != nil {
		return nil, err
	}
	c.current.Store(sess)
	return sess, nil
}

// Submit sends one outbound message through the current session, enforcing
// the configured rate limits. The caller owns retry decisions: a timed-out
// submission is never retried here, since resubmission may duplicate
// delivery and billing.
func (c *Client) Submit(ctx context.Context, from, to, text string) (string, error) {
	sess := c.current.Load()
	if sess == nil || sess.Status() != codes.StatusBound {
		return "", ErrNotConnected
	}

	if err := c.limiter.acquire(ctx); err != nil {
		return "", err
	}
	defer c.limiter.release()

	return sess.Submit(ctx, from, to, text)
}

// Status reports the current session state, or disconnected when no
// session has ever been bound.
func (c *Client) Status() string {
	sess := c.current.Load()
	if sess == nil {
		return codes.StatusDisconnected
	}
	return sess.Status()
}

// Stats exposes the aggregate counters for the ops surface.
func (c *Client) Stats() (delivered, dropped, submitted int64) {
	return c.stats.Delivered.Load(), c.stats.Dropped.Load(), c.stats.Submitted.Load()
}
