// Package connection implements the reconnecting session supervisor: the
// outer keepalive loop (fresh backoff per connection cycle) wrapping an
// inner per-session message pump, in-flight RPC table, and event
// subscription registry. Grounded directly on
// clients/rust/src/connection.rs (ActorConnectionInner/start_connection),
// with the loop/mutex shape borrowed from
// teacher/agent/internal/connection/manager.go's Run/connect split.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/internal/backoff"
	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/internal/transport"
	"github.com/rivet-dev/rivetkit/protocol"
)

// ErrSocketClosed is returned by Action when Disconnect tears the session
// down before the server answered (the in-flight RPC's waiter channel is
// closed, or the disconnect signal arrives first). A session that drops and
// reconnects leaves in-flight RPCs waiting.
var ErrSocketClosed = errors.New("connection: socket closed during rpc")

// RPCError reports an application-level action failure returned by the
// actor, carrying the same group/code/message/metadata surfaced by the
// to_client::Error frame.
type RPCError struct {
	Group    string
	Code     string
	Message  string
	Metadata any
}

func (e *RPCError) Error() string {
	if e.Metadata == nil {
		return fmt.Sprintf("RPC Error(%s/%s): %s", e.Group, e.Code, e.Message)
	}
	md, err := json.MarshalIndent(e.Metadata, "", "  ")
	if err != nil {
		return fmt.Sprintf("RPC Error(%s/%s): %s", e.Group, e.Code, e.Message)
	}
	return fmt.Sprintf("RPC Error(%s/%s): %s, %s", e.Group, e.Code, e.Message, md)
}

// EventCallback receives the decoded argument list of a published event.
type EventCallback func(args []any)

type sendOpts struct {
	ephemeral bool
}

type rpcResult struct {
	output []byte
	rpcErr *protocol.Error
}

// Metrics are the supervisor's Prometheus instruments. NewMetrics registers
// one set against an arbitrary Registerer so multiple Connections (or tests)
// can use independent registries, and against prometheus.DefaultRegisterer
// when reg is nil.
type Metrics struct {
	Reconnects     prometheus.Counter
	InFlightRPCs   prometheus.Gauge
	RPCLatency     prometheus.Histogram
}

// NewMetrics constructs and registers the supervisor's metrics. Duplicate
// registration (e.g. in tests creating several Connections against the same
// default registry) is tolerated by reusing the already-registered
// collector.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rivetkit_connection_reconnects_total",
			Help: "Number of times a session transport has been (re)established.",
		}),
		InFlightRPCs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rivetkit_connection_in_flight_rpcs",
			Help: "Number of action() calls currently awaiting a response.",
		}),
		RPCLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rivetkit_connection_rpc_latency_seconds",
			Help:    "Round-trip latency of action() calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	var are prometheus.AlreadyRegisteredError
	if err := reg.Register(m.Reconnects); errors.As(err, &are) {
		m.Reconnects = are.ExistingCollector.(prometheus.Counter)
	}
	if err := reg.Register(m.InFlightRPCs); errors.As(err, &are) {
		m.InFlightRPCs = are.ExistingCollector.(prometheus.Gauge)
	}
	if err := reg.Register(m.RPCLatency); errors.As(err, &are) {
		m.RPCLatency = are.ExistingCollector.(prometheus.Histogram)
	}
	return m
}

// Config bundles everything needed to establish and maintain one actor
// session.
type Config struct {
	RemoteManager   *remote.Manager
	Query           protocol.ActorQuery
	TransportKind   protocol.TransportKind
	EncodingKind    protocol.EncodingKind
	Params          any
	Logger          *zap.Logger
	Metrics         *Metrics
}

// Connection is a live, reconnecting session to one actor. Construct with
// New, then call Start to begin the keepalive loop in the background.
type Connection struct {
	remoteMgr *remote.Manager
	driver    transport.Driver
	encoding  protocol.EncodingKind
	query     protocol.ActorQuery
	params    any
	logger    *zap.Logger
	metrics   *Metrics

	mu        sync.Mutex
	handle    *transport.Handle
	msgQueue  []protocol.ToServer

	rpcCounter uint64

	inFlightMu sync.Mutex
	inFlight   map[uint64]chan rpcResult

	subsMu        sync.Mutex
	subscriptions map[string][]EventCallback

	connMu          sync.Mutex
	actorID         string
	connectionID    string
	connectionToken string

	disconnecting atomic.Bool
	disconnectCh  chan struct{}
	disconnectOne sync.Once
	doneCh        chan struct{}
}

// New constructs a Connection. Call Start to begin connecting.
func New(cfg Config) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Connection{
		remoteMgr:     cfg.RemoteManager,
		driver:        transport.New(cfg.TransportKind, cfg.RemoteManager, logger),
		encoding:      cfg.EncodingKind,
		query:         cfg.Query,
		params:        cfg.Params,
		logger:        logger.Named("connection"),
		metrics:       metrics,
		inFlight:      make(map[uint64]chan rpcResult),
		subscriptions: make(map[string][]EventCallback),
		disconnectCh:  make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (c *Connection) isDisconnecting() bool {
	return c.disconnecting.Load()
}

// Start launches the keepalive loop in the background. ctx cancellation
// stops reconnect attempts the same way Disconnect does.
func (c *Connection) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the keepalive loop has fully exited (after
// Disconnect, or ctx cancellation).
func (c *Connection) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.doneCh)

	for {
		if c.isDisconnecting() || ctx.Err() != nil {
			return
		}

		b := backoff.New(1*time.Second, 30*time.Second)
		attempt := 0

		for {
			attempt++
			c.logger.Debug("establishing connection", zap.Int("attempt", attempt), zap.Duration("delay", b.Delay()))

			didOpen, reason := c.tryConnect(ctx)

			if c.isDisconnecting() || ctx.Err() != nil {
				return
			}

			if didOpen {
				c.metrics.Reconnects.Inc()
				break
			}

			c.logger.Warn("connection attempt failed, retrying", zap.Stringer("reason", reason), zap.Duration("backoff", b.Delay()))

			select {
			case <-b.Tick():
			case <-c.disconnectCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// tryConnect dials one session and pumps messages until it ends, returning
// whether an Init frame was ever received (did_open) and why the session
// ended.
func (c *Connection) tryConnect(ctx context.Context) (didOpen bool, reason transport.StopReason) {
	c.connMu.Lock()
	connID := c.connectionID
	connToken := c.connectionToken
	c.connMu.Unlock()

	h, err := c.driver.Connect(ctx, transport.ConnectArgs{
		Query:           c.query,
		Encoding:        c.encoding,
		Params:          c.params,
		ConnectionID:    connID,
		ConnectionToken: connToken,
	})
	if err != nil {
		c.logger.Debug("connect failed", zap.Error(err))
		return false, transport.TaskError
	}

	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

loop:
	for {
		select {
		case stop := <-h.Done:
			reason = stop.Reason
			break loop
		case frame, ok := <-h.Inbound:
			if !ok {
				continue
			}
			msg, err := protocol.DecodeToClient(frame, c.encoding == protocol.EncodingCBOR)
			if err != nil {
				c.logger.Debug("failed to decode frame", zap.Error(err))
				continue
			}
			if _, ok := msg.Body.(protocol.Init); ok {
				didOpen = true
			}
			c.onMessage(msg)
		}
	}

	c.mu.Lock()
	d := c.handle
	c.handle = nil
	c.mu.Unlock()
	if d != nil {
		d.Close()
	}

	return didOpen, reason
}

func (c *Connection) onOpen(init protocol.Init) {
	c.logger.Debug("connected", zap.String("actor_id", init.ActorID), zap.String("connection_id", init.ConnectionID))

	c.connMu.Lock()
	c.actorID = init.ActorID
	c.connectionID = init.ConnectionID
	c.connectionToken = init.ConnectionToken
	c.connMu.Unlock()

	c.subsMu.Lock()
	names := make([]string, 0, len(c.subscriptions))
	for name := range c.subscriptions {
		names = append(names, name)
	}
	c.subsMu.Unlock()
	for _, name := range names {
		c.sendSubscription(name, true)
	}

	c.mu.Lock()
	queued := c.msgQueue
	c.msgQueue = nil
	c.mu.Unlock()
	for _, msg := range queued {
		c.sendMsg(msg, sendOpts{})
	}
}

func (c *Connection) onMessage(msg protocol.ToClient) {
	switch body := msg.Body.(type) {
	case protocol.Init:
		c.onOpen(body)
	case protocol.ActionResponse:
		c.inFlightMu.Lock()
		ch, ok := c.inFlight[body.ID]
		if ok {
			delete(c.inFlight, body.ID)
		}
		c.inFlightMu.Unlock()
		if !ok {
			c.logger.Debug("unexpected action response, no matching in-flight rpc", zap.Uint64("id", body.ID))
			return
		}
		ch <- rpcResult{output: body.Output}
	case protocol.Event:
		args, err := protocol.DecodeArgs(body.Args)
		if err != nil {
			c.logger.Debug("failed to decode event args", zap.Error(err))
			return
		}
		c.subsMu.Lock()
		callbacks := append([]EventCallback(nil), c.subscriptions[body.Name]...)
		c.subsMu.Unlock()
		for _, cb := range callbacks {
			cb(args)
		}
	case protocol.Error:
		if body.ActionID != nil {
			c.inFlightMu.Lock()
			ch, ok := c.inFlight[*body.ActionID]
			if ok {
				delete(c.inFlight, *body.ActionID)
			}
			c.inFlightMu.Unlock()
			if !ok {
				c.logger.Debug("unexpected error response, no matching in-flight rpc", zap.Uint64("id", *body.ActionID))
				return
			}
			errCopy := body
			ch <- rpcResult{rpcErr: &errCopy}
			return
		}
		c.logger.Debug("connection-level error", zap.String("group", body.Group), zap.String("code", body.Code), zap.String("message", body.Message))
	}
}

// sendMsg sends msg immediately if a driver is attached, otherwise queues it
// (unless opts.ephemeral, matching connection.rs's SendMsgOpts semantics —
// subscription requests are dropped, not queued, while detached).
func (c *Connection) sendMsg(msg protocol.ToServer, opts sendOpts) {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		data, err := protocol.EncodeToServer(c.encoding, msg)
		if err == nil {
			if err := h.Send(data); err == nil {
				return
			}
		}
	}

	if !opts.ephemeral {
		c.mu.Lock()
		c.msgQueue = append(c.msgQueue, msg)
		c.mu.Unlock()
	}
}

// Action invokes a named action and blocks for its response. Args are
// CBOR-encoded regardless of the session's envelope encoding.
func (c *Connection) Action(ctx context.Context, name string, args []any) (any, error) {
	id := atomic.AddUint64(&c.rpcCounter, 1) - 1

	argsCBOR, err := protocol.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("connection: encode action args: %w", err)
	}

	resultCh := make(chan rpcResult, 1)
	c.inFlightMu.Lock()
	c.inFlight[id] = resultCh
	c.inFlightMu.Unlock()
	c.metrics.InFlightRPCs.Inc()
	defer c.metrics.InFlightRPCs.Dec()

	start := time.Now()

	c.sendMsg(protocol.ToServer{Body: protocol.ActionRequest{ID: id, Name: name, Args: argsCBOR}}, sendOpts{})

	select {
	case res, ok := <-resultCh:
		c.metrics.RPCLatency.Observe(time.Since(start).Seconds())
		if !ok {
			return nil, ErrSocketClosed
		}
		if res.rpcErr != nil {
			var metadata any
			if len(res.rpcErr.Metadata) > 0 {
				if v, err := protocol.DecodeValue(res.rpcErr.Metadata); err == nil {
					metadata = v
				}
			}
			return nil, &RPCError{Group: res.rpcErr.Group, Code: res.rpcErr.Code, Message: res.rpcErr.Message, Metadata: metadata}
		}
		output, err := protocol.DecodeValue(res.output)
		if err != nil {
			return nil, fmt.Errorf("connection: decode action output: %w", err)
		}
		return output, nil
	case <-c.disconnectCh:
		c.inFlightMu.Lock()
		delete(c.inFlight, id)
		c.inFlightMu.Unlock()
		return nil, ErrSocketClosed
	case <-ctx.Done():
		c.inFlightMu.Lock()
		delete(c.inFlight, id)
		c.inFlightMu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *Connection) sendSubscription(eventName string, subscribe bool) {
	c.sendMsg(protocol.ToServer{Body: protocol.SubscriptionRequest{EventName: eventName, Subscribe: subscribe}}, sendOpts{ephemeral: true})
}

// OnEvent registers callback to be invoked on every published event named
// eventName. The first subscriber for a given name triggers a
// SubscriptionRequest to the server; subsequent subscribers to the same name
// do not send another.
func (c *Connection) OnEvent(eventName string, callback EventCallback) {
	c.subsMu.Lock()
	_, exists := c.subscriptions[eventName]
	c.subscriptions[eventName] = append(c.subscriptions[eventName], callback)
	c.subsMu.Unlock()

	if !exists {
		c.sendSubscription(eventName, true)
	}
}

// Disconnect tears down the session and stops the keepalive loop. Idempotent
// and safe to call multiple times; blocks until the keepalive loop has
// fully exited.
func (c *Connection) Disconnect() {
	if !c.disconnecting.CompareAndSwap(false, true) {
		<-c.doneCh
		return
	}

	c.logger.Debug("disconnecting")
	c.disconnectOne.Do(func() { close(c.disconnectCh) })

	c.mu.Lock()
	h := c.handle
	c.handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Close()
	}

	c.inFlightMu.Lock()
	for id, ch := range c.inFlight {
		close(ch)
		delete(c.inFlight, id)
	}
	c.inFlightMu.Unlock()

	c.subsMu.Lock()
	c.subscriptions = make(map[string][]EventCallback)
	c.subsMu.Unlock()

	<-c.doneCh
}
