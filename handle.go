package rivetkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/internal/connection"
	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/protocol"
)

// ErrQueryIsCreate is returned by Resolve when the handle's query is a bare
// Create — Client.Create resolves eagerly and hands out a GetForID handle,
// so this should only surface if a Create query is constructed directly.
var ErrQueryIsCreate = errors.New("rivetkit: actor query cannot be create")

// ActorHandleStateless performs unary actions against an actor without
// holding a live session — each call resolves the actor id (caching it
// after the first resolution) and issues one HTTP request through the
// gateway. Grounded on clients/rust/src/handle.rs's ActorHandleStateless.
type ActorHandleStateless struct {
	remoteMgr *remote.Manager
	params    any
	encoding  protocol.EncodingKind

	mu    sync.Mutex
	query protocol.ActorQuery
}

// Resolve returns the actor id the handle's query points at, resolving and
// caching it (rewriting the stored query to GetForID) on first call.
func (h *ActorHandleStateless) Resolve(ctx context.Context) (string, error) {
	h.mu.Lock()
	query := h.query
	h.mu.Unlock()

	switch q := query.(type) {
	case protocol.Create:
		return "", ErrQueryIsCreate
	case protocol.GetForID:
		return q.ActorID, nil
	default:
		actorID, err := h.remoteMgr.ResolveActorID(ctx, query)
		if err != nil {
			return "", err
		}

		var name string
		switch q := query.(type) {
		case protocol.GetForKey:
			name = q.Name
		case protocol.GetOrCreateForKey:
			name = q.Name
		default:
			return "", fmt.Errorf("rivetkit: unexpected query type %T", query)
		}

		h.mu.Lock()
		h.query = protocol.GetForID{Name: name, ActorID: actorID}
		h.mu.Unlock()

		return actorID, nil
	}
}

// Action invokes a named action via a single unary HTTP request (no
// persistent session). args are CBOR-encoded before transmission.
func (h *ActorHandleStateless) Action(ctx context.Context, name string, args []any) (any, error) {
	actorID, err := h.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	argsCBOR, err := protocol.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("rivetkit: encode action args: %w", err)
	}

	headers := map[string]string{
		protocol.HeaderEncoding: h.encoding.String(),
	}
	if h.params != nil {
		paramsJSON, err := json.Marshal(h.params)
		if err != nil {
			return nil, fmt.Errorf("rivetkit: encode conn params: %w", err)
		}
		headers[protocol.HeaderConnParams] = string(paramsJSON)
	}

	path := "/action/" + url.PathEscape(name)
	res, err := h.remoteMgr.SendRequest(ctx, actorID, path, "POST", headers, argsCBOR)
	if err != nil {
		return nil, fmt.Errorf("rivetkit: action request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("rivetkit: action %q failed: %d", name, res.StatusCode)
	}

	outputCBOR, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("rivetkit: read action response: %w", err)
	}

	output, err := protocol.DecodeValue(outputCBOR)
	if err != nil {
		return nil, fmt.Errorf("rivetkit: decode action output: %w", err)
	}
	return output, nil
}

// ActorHandle extends ActorHandleStateless with the ability to open a
// persistent, reconnecting session via Connect. Grounded on
// clients/rust/src/handle.rs's ActorHandle (Deref<Target=ActorHandleStateless>
// becomes Go embedding).
type ActorHandle struct {
	*ActorHandleStateless

	remoteMgr *remote.Manager
	params    any
	query     protocol.ActorQuery
	transport protocol.TransportKind
	encoding  protocol.EncodingKind
	metrics   *connection.Metrics
	logger    *zap.Logger

	clientCtx    context.Context
	registerConn func(*connection.Connection)
}

// Connect opens a persistent, reconnecting session to the actor and starts
// its keepalive loop in the background. The returned Connection's lifetime
// is also tied to the owning Client: Client.Close disconnects it even if
// the caller never calls Disconnect directly.
func (h *ActorHandle) Connect() *connection.Connection {
	conn := connection.New(connection.Config{
		RemoteManager: h.remoteMgr,
		Query:         h.query,
		TransportKind: h.transport,
		EncodingKind:  h.encoding,
		Params:        h.params,
		Logger:        h.logger,
		Metrics:       h.metrics,
	})
	conn.Start(h.clientCtx)
	h.registerConn(conn)
	return conn
}
