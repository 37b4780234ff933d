// Package transport defines the Driver contract used by the connection
// supervisor to open a byte-oriented session to an actor, and provides the
// WebSocket and (stub) SSE implementations of it. Grounded on
// clients/rust/src/drivers/{ws,sse}.rs, with the connect/task split
// mirrored from teacher/agent/internal/connection/manager.go's
// connect-then-spawn-loops shape (Manager.connect spawning heartbeatLoop
// and jobStreamLoop, here a single recv loop).
package transport

import (
	"context"
	"errors"

	"github.com/rivet-dev/rivetkit/protocol"
)

// ErrUnsupportedTransport is returned by Connect on a driver that cannot
// serve a session at all (the SSE stub).
var ErrUnsupportedTransport = errors.New("transport: unsupported transport")

// StopReason classifies why a driver's background task ended, mirroring
// DriverStopReason in clients/rust/src/drivers/ws.rs. The supervisor only
// logs it: a failed attempt is logged at Warn whatever the reason. The
// WebSocket driver reports only ServerDisconnect (a normal or going-away
// close frame) and TaskError (every other read error, including the one
// caused by a local Close); it does not produce UserAborted or ServerError.
type StopReason int

const (
	// UserAborted means the supervisor itself closed the session (Disconnect
	// was called, or the client is shutting down).
	UserAborted StopReason = iota
	// ServerDisconnect means the remote end closed the socket cleanly.
	ServerDisconnect
	// ServerError means the remote end reported an application-level error
	// frame not tied to a specific in-flight action.
	ServerError
	// TaskError means the driver's background goroutine hit an I/O or
	// protocol error (short read, malformed frame, etc).
	TaskError
)

func (r StopReason) String() string {
	switch r {
	case UserAborted:
		return "user_aborted"
	case ServerDisconnect:
		return "server_disconnect"
	case ServerError:
		return "server_error"
	case TaskError:
		return "task_error"
	default:
		return "unknown"
	}
}

// Stop is delivered on a Handle's Done channel once, when the driver's
// background task ends for any reason.
type Stop struct {
	Reason StopReason
	Err    error
}

// ConnectArgs bundles everything a Driver needs to open one session. Query
// is resolved by the driver itself (not the supervisor), matching ws.rs's
// placement of resolve_actor_id inside connect — so an actor-not-found
// failure is retried by the supervisor exactly like any other transport
// failure instead of being surfaced as a distinct error class.
type ConnectArgs struct {
	Query           protocol.ActorQuery
	Encoding        protocol.EncodingKind
	Params          any
	ConnectionID    string
	ConnectionToken string
}

// Handle is what a successful Connect returns: a way to send outbound bytes,
// a channel of inbound frames, and a channel signaled exactly once when the
// session ends.
type Handle struct {
	Inbound <-chan []byte
	Done    <-chan Stop

	sendFn  func([]byte) error
	closeFn func() error
}

// Send writes one outbound frame (already encoded per the negotiated
// encoding) to the underlying transport.
func (h *Handle) Send(data []byte) error {
	return h.sendFn(data)
}

// Close tears down the underlying transport. Idempotent.
func (h *Handle) Close() error {
	return h.closeFn()
}

// Driver opens one session per Connect call. Implementations must resolve
// ConnectArgs.Query themselves (see ws.rs) so a not-found actor looks like
// any other connect failure to the supervisor.
type Driver interface {
	// Connect dials and completes session setup synchronously; a nil error
	// only means the socket is open — the supervisor counts the session as
	// opened (did_open) once an Init frame arrives. The background task is
	// only spawned once Connect has returned a Handle.
	Connect(ctx context.Context, args ConnectArgs) (*Handle, error)
}
