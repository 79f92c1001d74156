package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ClientConfig configures a Client. The zero value is usable: an unbounded
// set of default-sized pools, statistics collection off, and a no-op
// logger.
type ClientConfig struct {
	// PoolConfig is the fallback used the first time a new destination is
	// seen, if that request's Options.PoolConfig is nil. Pools are
	// otherwise independent per destination and the config can't be
	// changed afterward.
	PoolConfig PoolConfig
	// StatsEnabled turns on the statistics store. Off by default
	// since it costs a sync.Map entry per connection.
	StatsEnabled bool
	// Logger receives debug/warn-level diagnostics. Nil uses a no-op
	// logger unless LHTTPC_DEBUG is set in the environment.
	Logger *zerolog.Logger
}

// Client is the caller-facing entry point: Do (and the Get/Post
// convenience wrappers) dispatch requests through a Registry of
// per-destination pools, driven by the state machine in state_machine.go.
type Client struct {
	registry *Registry
	stats    *Stats
	logger   zerolog.Logger
	poolCfg  PoolConfig

	workerSeq atomic.Uint64
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	logger := defaultLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	poolCfg := cfg.PoolConfig
	if poolCfg.MaxConnections <= 0 {
		poolCfg.MaxConnections = DefaultPoolConfig().MaxConnections
	}
	stats := NewStats(cfg.StatsEnabled, logger)
	return &Client{
		registry: NewRegistry(stats, logger),
		stats:    stats,
		logger:   logger,
		poolCfg:  poolCfg,
	}
}

// nextWorkerID names the goroutine driving one Do call, used by the
// statistics store to resolve a CloseConnectionTimeout call back to a
// socket.
func (c *Client) nextWorkerID() string {
	return fmt.Sprintf("w%d", c.workerSeq.Add(1))
}

// Do starts a request against dest and returns immediately with a Call;
// see Call.Response for how to wait on the result. opts may be nil for the
// defaults (no retry beyond the baseline, no streaming).
func (c *Client) Do(ctx context.Context, dest Destination, req *Request, opts *Options) *Call {
	var o Options
	if opts != nil {
		o = *opts
	}
	cfg := c.poolCfg
	if o.PoolConfig != nil {
		cfg = *o.PoolConfig
	}
	pool := c.registry.getOrCreate(dest, cfg)
	return doRequest(ctx, pool, c.stats, c.logger, dest, req, o, c.nextWorkerID())
}

// Get issues a GET request and waits for the response head.
func (c *Client) Get(ctx context.Context, dest Destination, path string) (*Response, error) {
	call := c.Do(ctx, dest, NewRequest(http.MethodGet, path), nil)
	return call.Response(ctx)
}

// Post issues a POST request with a body of known length and waits for
// the response head. Use Do directly with Options.PartialUpload for a
// streamed request body.
func (c *Client) Post(ctx context.Context, dest Destination, path, contentType string, body io.Reader, contentLength int64) (*Response, error) {
	req := NewRequest(http.MethodPost, path)
	req.Header.Set("Content-Type", contentType)
	req.Body = body
	req.ContentLength = contentLength
	call := c.Do(ctx, dest, req, nil)
	return call.Response(ctx)
}

// ConnectionCount reports a destination's (active, idle) connection split.
func (c *Client) ConnectionCount(dest Destination) (active, idle int, ok bool) {
	return c.registry.ConnectionCount(dest)
}

// Health returns a destination's idle-scan history, folded into the
// pool's own reaper rather than a separate prober.
func (c *Client) Health(dest Destination) (HealthSnapshot, bool) {
	return c.registry.Health(dest)
}

// Stats returns a snapshot of every destination's statistics. Empty if the
// client was built with StatsEnabled: false.
func (c *Client) Stats() map[string]DestStatsSnapshot {
	return c.stats.Dump()
}

// Close tears down every pool the client has created.
func (c *Client) Close() {
	c.registry.Close()
}
