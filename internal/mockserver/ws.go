package mockserver

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/protocol"
)

// parsedHandshake is what the mock gateway extracts from the prescribed
// Sec-WebSocket-Protocol subprotocol list (see protocol.WSProtocol* and
// internal/remote.Manager.OpenWebSocket).
type parsedHandshake struct {
	actorID         string
	encoding        protocol.EncodingKind
	connID          string
	connToken       string
	echoProtocols   []string
}

func parseHandshake(r *http.Request) (parsedHandshake, bool) {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return parsedHandshake{}, false
	}

	var h parsedHandshake
	h.encoding = protocol.EncodingJSON

	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		switch {
		case p == protocol.WSProtocolStandard:
			h.echoProtocols = append(h.echoProtocols, p)
		case strings.HasPrefix(p, protocol.WSProtocolActor):
			h.actorID = strings.TrimPrefix(p, protocol.WSProtocolActor)
		case strings.HasPrefix(p, protocol.WSProtocolEncoding):
			if strings.TrimPrefix(p, protocol.WSProtocolEncoding) == "cbor" {
				h.encoding = protocol.EncodingCBOR
			}
		case strings.HasPrefix(p, protocol.WSProtocolConnID):
			h.connID = strings.TrimPrefix(p, protocol.WSProtocolConnID)
		case strings.HasPrefix(p, protocol.WSProtocolConnToken):
			h.connToken = strings.TrimPrefix(p, protocol.WSProtocolConnToken)
		}
	}

	if h.actorID == "" {
		return parsedHandshake{}, false
	}
	return h, true
}

// handleConnectWebSocket upgrades the request, issues (or resumes) a
// session, and pumps ActionRequest/SubscriptionRequest frames from the
// client until the socket closes.
func (s *Server) handleConnectWebSocket(w http.ResponseWriter, r *http.Request) {
	hs, ok := parseHandshake(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid subprotocol handshake")
		return
	}

	s.mu.RLock()
	_, exists := s.actors[hs.actorID]
	s.mu.RUnlock()
	if !exists {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": {protocol.WSProtocolStandard}})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := hs.connID
	connToken := hs.connToken
	if connID == "" {
		connID = uuid.NewString()
		connToken = uuid.NewString()
	}

	sess := &session{connectionID: connID, connectionToken: connToken, actorID: hs.actorID}

	frameType := websocket.BinaryMessage
	if hs.encoding == protocol.EncodingJSON {
		frameType = websocket.TextMessage
	}

	var writeMu sync.Mutex
	send := func(msg protocol.ToClient) error {
		data, err := protocol.EncodeToClient(hs.encoding, msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(frameType, data)
	}

	s.sessionsMu.Lock()
	s.sessions[connID] = sess
	s.sendFns[connID] = send
	s.sessionsMu.Unlock()

	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, connID)
		delete(s.sendFns, connID)
		s.sessionsMu.Unlock()
		conn.Close()
	}()

	if err := send(protocol.ToClient{Body: protocol.Init{
		ActorID:         hs.actorID,
		ConnectionID:    connID,
		ConnectionToken: connToken,
	}}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.DecodeToServer(data, hs.encoding == protocol.EncodingCBOR)
		if err != nil {
			s.logger.Debug("failed to decode client frame", zap.Error(err))
			continue
		}

		switch body := msg.Body.(type) {
		case protocol.ActionRequest:
			s.dispatchAction(r.Context(), hs.actorID, body, send)
		case protocol.SubscriptionRequest:
			// The mock server doesn't gate publishes on subscription state —
			// PublishEvent fans out to every session attached to the actor.
			s.logger.Debug("subscription update", zap.String("event", body.EventName), zap.Bool("subscribe", body.Subscribe))
		}
	}
}

func (s *Server) dispatchAction(ctx context.Context, actorID string, req protocol.ActionRequest, send func(protocol.ToClient) error) {
	args, err := protocol.DecodeArgs(req.Args)
	if err != nil {
		send(protocol.ToClient{Body: protocol.Error{Group: "rivetkit", Code: "bad_args", Message: err.Error(), ActionID: &req.ID}})
		return
	}

	s.actionsMu.RLock()
	handler, ok := s.actions[req.Name]
	s.actionsMu.RUnlock()
	if !ok {
		send(protocol.ToClient{Body: protocol.Error{Group: "rivetkit", Code: "unknown_action", Message: "unknown action " + req.Name, ActionID: &req.ID}})
		return
	}

	output, err := handler(ctx, actorID, args)
	if err != nil {
		send(protocol.ToClient{Body: protocol.Error{Group: "rivetkit", Code: "action_failed", Message: err.Error(), ActionID: &req.ID}})
		return
	}

	outputCBOR, err := protocol.EncodeValue(output)
	if err != nil {
		send(protocol.ToClient{Body: protocol.Error{Group: "rivetkit", Code: "encode_failed", Message: err.Error(), ActionID: &req.ID}})
		return
	}

	send(protocol.ToClient{Body: protocol.ActionResponse{ID: req.ID, Output: outputCBOR}})
}
