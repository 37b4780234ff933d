// Package mockserver is a small in-memory reference implementation of the
// HTTP control plane and WebSocket gateway, used by package-level tests and
// the standalone mockserverd binary as a stand-in for a real Rivet
// deployment. It is not a reimplementation of the production server — only
// enough surface to exercise rivetkit end to end.
//
// Grounded on teacher/server/internal/api/router.go (chi router/middleware
// conventions) and teacher/server/internal/websocket/{hub,client}.go (the
// upgrade + per-connection read/write goroutine shape), with
// google/uuid supplying actor and connection ids.
package mockserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/protocol"
)

// ActionHandler computes the output of a named action invoked against
// actorID. Registered per action name via Server.HandleAction.
type ActionHandler func(ctx context.Context, actorID string, args []any) (any, error)

type actorRecord struct {
	id   string
	name string
	key  string // JSON-encoded ActorKey, used as the lookup key
}

// Server is a standalone chi-routed HTTP+WebSocket server implementing the
// actor discovery/creation endpoints and the gateway WebSocket upgrade.
type Server struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	actors    map[string]*actorRecord // by actor id
	byNameKey map[string]string       // "name\x00keyJSON" -> actor id

	actionsMu sync.RWMutex
	actions   map[string]ActionHandler

	router chi.Router

	sessionsMu sync.Mutex
	sessions   map[string]*session                      // connection id -> session, used by PublishEvent to find an actor's sessions
	sendFns    map[string]func(protocol.ToClient) error // connection id -> outbound sender
}

type session struct {
	connectionID    string
	connectionToken string
	actorID         string
}

// New constructs a Server. Call Handler to obtain the http.Handler to serve.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:    logger.Named("mockserver"),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		actors:    make(map[string]*actorRecord),
		byNameKey: make(map[string]string),
		actions:   make(map[string]ActionHandler),
		sessions:  make(map[string]*session),
		sendFns:   make(map[string]func(protocol.ToClient) error),
	}
	s.router = s.newRouter()
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HandleAction registers the handler invoked for action name against any
// actor (the mock server does not distinguish actor type).
func (s *Server) HandleAction(name string, handler ActionHandler) {
	s.actionsMu.Lock()
	s.actions[name] = handler
	s.actionsMu.Unlock()
}

// PublishEvent sends an Event frame to every session currently attached to
// actorID.
func (s *Server) PublishEvent(actorID, eventName string, args []any) error {
	argsCBOR, err := protocol.EncodeArgs(args)
	if err != nil {
		return err
	}

	s.sessionsMu.Lock()
	var targets []*session
	for _, sess := range s.sessions {
		if sess.actorID == actorID {
			targets = append(targets, sess)
		}
	}
	s.sessionsMu.Unlock()

	for _, sess := range targets {
		s.pushEvent(sess, protocol.Event{Name: eventName, Args: argsCBOR})
	}
	return nil
}

// pushEvent writes ev through the sender that handleConnectWebSocket
// registered in sendFns for the session's connection id; a session with no
// registered sender is skipped.
func (s *Server) pushEvent(sess *session, ev protocol.Event) {
	s.sessionsMu.Lock()
	send := s.sendFns[sess.connectionID]
	s.sessionsMu.Unlock()
	if send == nil {
		return
	}
	if err := send(protocol.ToClient{Body: ev}); err != nil {
		s.logger.Debug("failed to push event", zap.Error(err))
	}
}

// ActorRecord is the subset of actor state tests need to assert against,
// returned by CreateForTest.
type ActorRecord struct {
	ID   string
	Name string
}

// CreateForTest registers an actor directly, bypassing the HTTP create
// endpoints, for use by package-level tests in internal/connection and
// internal/transport.
func (s *Server) CreateForTest(name string, key protocol.ActorKey) *ActorRecord {
	rec := s.createActor(name, key)
	return &ActorRecord{ID: rec.id, Name: rec.name}
}

func keyLookup(name string, key protocol.ActorKey) string {
	keyJSON, _ := json.Marshal(key)
	return name + "\x00" + string(keyJSON)
}

func (s *Server) lookupByKey(name string, key protocol.ActorKey) (*actorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNameKey[keyLookup(name, key)]
	if !ok {
		return nil, false
	}
	rec := s.actors[id]
	return rec, rec != nil
}

func (s *Server) createActor(name string, key protocol.ActorKey) *actorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &actorRecord{id: uuid.NewString(), name: name}
	keyJSON, _ := json.Marshal(key)
	rec.key = string(keyJSON)
	s.actors[rec.id] = rec
	s.byNameKey[keyLookup(name, key)] = rec.id
	return rec
}
