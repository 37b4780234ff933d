// Package rivetkit is a client for discovering and communicating with
// remote stateful actors over a reconnecting WebSocket (or, in principle,
// SSE) session. It resolves actors through an HTTP control plane, then
// multiplexes request/response actions and server-pushed events over one
// persistent session per handle, automatically reconnecting and resuming on
// transport failure.
//
// Grounded on clients/rust/src/{client,handle,lib}.rs, restructured in the
// idiom of teacher/agent/cmd/agent/main.go's config-and-logger construction
// and teacher/agent/internal/connection/manager.go's supervisor shape.
package rivetkit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/internal/connection"
	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/protocol"
)

// Client is the entry point for resolving actor handles. It owns the HTTP
// control-plane client shared by every handle it creates, and a shutdown
// signal that tears down every live connection spawned from it when Close
// is called.
type Client struct {
	remoteMgr *remote.Manager
	encoding  protocol.EncodingKind
	transport protocol.TransportKind
	logger    *zap.Logger
	metrics   *connection.Metrics
	token     string

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns []*connection.Connection
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithToken sets the bearer token sent with every control-plane and gateway
// request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger overrides the client's zap.Logger (defaults to zap.NewNop()).
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithEncoding overrides the envelope encoding (defaults to EncodingCBOR,
// the denser wire format).
func WithEncoding(enc protocol.EncodingKind) Option {
	return func(c *Client) { c.encoding = enc }
}

// WithTransport overrides the session transport (defaults to
// TransportWebSocket; TransportSSE is a reserved stub).
func WithTransport(kind protocol.TransportKind) Option {
	return func(c *Client) { c.transport = kind }
}

// WithMetrics makes every connection spawned by the client record into
// metrics instead of a set registered against the default registry.
func WithMetrics(metrics *connection.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

// New constructs a Client against the given control-plane endpoint
// (e.g. "https://manager.example.com").
func New(endpoint string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		encoding:  protocol.EncodingCBOR,
		transport: protocol.TransportWebSocket,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.remoteMgr = remote.New(endpoint, c.token, c.logger)
	if c.metrics == nil {
		c.metrics = connection.NewMetrics(nil)
	}
	return c
}

func (c *Client) createHandle(params any, query protocol.ActorQuery) *ActorHandle {
	stateless := &ActorHandleStateless{
		remoteMgr: c.remoteMgr,
		params:    params,
		encoding:  c.encoding,
		query:     query,
	}
	return &ActorHandle{
		ActorHandleStateless: stateless,
		remoteMgr:            c.remoteMgr,
		params:               params,
		query:                query,
		transport:            c.transport,
		encoding:             c.encoding,
		metrics:              c.metrics,
		logger:               c.logger,
		clientCtx:            c.ctx,
		registerConn:         c.registerConnection,
	}
}

func (c *Client) registerConnection(conn *connection.Connection) {
	c.mu.Lock()
	c.conns = append(c.conns, conn)
	c.mu.Unlock()
}

// Get resolves a handle for an existing actor by name and key, failing at
// resolve/action/connect time if none exists.
func (c *Client) Get(name string, key protocol.ActorKey, opts GetOptions) *ActorHandle {
	return c.createHandle(opts.Params, protocol.GetForKey{Name: name, Key: key})
}

// GetForID resolves a handle for an actor already known by id.
func (c *Client) GetForID(name, actorID string, opts GetOptions) *ActorHandle {
	return c.createHandle(opts.Params, protocol.GetForID{Name: name, ActorID: actorID})
}

// GetOrCreate resolves a handle for an actor by name and key, creating it
// (with opts.CreateWithInput/CreateInRegion) on first resolution if it does
// not already exist.
func (c *Client) GetOrCreate(name string, key protocol.ActorKey, opts GetOrCreateOptions) *ActorHandle {
	return c.createHandle(opts.Params, protocol.GetOrCreateForKey{
		Name:   name,
		Key:    key,
		Input:  opts.CreateWithInput,
		Region: opts.CreateInRegion,
	})
}

// Create eagerly creates a new actor and returns a handle pinned to its id.
func (c *Client) Create(ctx context.Context, name string, key protocol.ActorKey, opts CreateOptions) (*ActorHandle, error) {
	actorID, err := c.remoteMgr.CreateActor(ctx, name, key, opts.Input, opts.Region)
	if err != nil {
		return nil, err
	}
	return c.createHandle(opts.Params, protocol.GetForID{Name: name, ActorID: actorID}), nil
}

// Close signals every connection spawned from this client to disconnect and
// waits for each to fully stop.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()
	for _, conn := range conns {
		conn.Disconnect()
	}
}
