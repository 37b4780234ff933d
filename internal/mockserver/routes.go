package mockserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/protocol"
)

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/actors", s.handleListActors)
	r.Put("/actors", s.handleGetOrCreateActor)
	r.Post("/actors", s.handleCreateActor)
	r.Post("/action/{name}", s.handleAction)
	r.Get("/connect/websocket", s.handleConnectWebSocket)

	return r
}

type actorWire struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name"`
	Key     string `json:"key"`
}

func (rec *actorRecord) toWire() actorWire {
	return actorWire{ActorID: rec.id, Name: rec.name, Key: rec.key}
}

type actorsListResponse struct {
	Actors []actorWire `json:"actors"`
}

// handleListActors backs both RemoteManager.GetForID (name + actor_ids) and
// RemoteManager.GetWithKey (name + key), matching the single /actors GET
// endpoint shape assumed by internal/remote.
func (s *Server) handleListActors(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	if actorID := r.URL.Query().Get("actor_ids"); actorID != "" {
		s.mu.RLock()
		rec, ok := s.actors[actorID]
		s.mu.RUnlock()
		if !ok || rec.name != name {
			writeJSON(w, http.StatusOK, actorsListResponse{})
			return
		}
		writeJSON(w, http.StatusOK, actorsListResponse{Actors: []actorWire{rec.toWire()}})
		return
	}

	keyJSON := r.URL.Query().Get("key")
	var key protocol.ActorKey
	if keyJSON != "" {
		if err := json.Unmarshal([]byte(keyJSON), &key); err != nil {
			writeError(w, http.StatusBadRequest, "invalid key")
			return
		}
	}

	rec, ok := s.lookupByKey(name, key)
	if !ok {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}
	writeJSON(w, http.StatusOK, actorsListResponse{Actors: []actorWire{rec.toWire()}})
}

type getOrCreateRequest struct {
	Name   string  `json:"name"`
	Key    string  `json:"key"`
	Input  *string `json:"input,omitempty"`
	Region *string `json:"region,omitempty"`
}

type getOrCreateResponse struct {
	Actor   actorWire `json:"actor"`
	Created bool      `json:"created"`
}

func (s *Server) handleGetOrCreateActor(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var key protocol.ActorKey
	if req.Key != "" {
		if err := json.Unmarshal([]byte(req.Key), &key); err != nil {
			writeError(w, http.StatusBadRequest, "invalid key")
			return
		}
	}

	if rec, ok := s.lookupByKey(req.Name, key); ok {
		writeJSON(w, http.StatusOK, getOrCreateResponse{Actor: rec.toWire(), Created: false})
		return
	}

	rec := s.createActor(req.Name, key)
	s.logger.Debug("created actor via get_or_create", zap.String("actor_id", rec.id), zap.String("name", rec.name))
	writeJSON(w, http.StatusOK, getOrCreateResponse{Actor: rec.toWire(), Created: true})
}

type createResponse struct {
	Actor actorWire `json:"actor"`
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var key protocol.ActorKey
	if req.Key != "" {
		if err := json.Unmarshal([]byte(req.Key), &key); err != nil {
			writeError(w, http.StatusBadRequest, "invalid key")
			return
		}
	}

	rec := s.createActor(req.Name, key)
	s.logger.Debug("created actor", zap.String("actor_id", rec.id), zap.String("name", rec.name))
	writeJSON(w, http.StatusCreated, createResponse{Actor: rec.toWire()})
}

// handleAction backs the unary ActorHandleStateless.Action path: the actor
// id is carried in x-rivet-actor (set by RemoteManager.SendRequest), args
// are the raw CBOR request body, and the action is dispatched to whatever
// handler was registered via Server.HandleAction.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	actorID := r.Header.Get(protocol.HeaderRivetActor)

	s.mu.RLock()
	_, ok := s.actors[actorID]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "actor not found")
		return
	}

	argsCBOR, err := readAll(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	args, err := protocol.DecodeArgs(argsCBOR)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cbor args")
		return
	}

	s.actionsMu.RLock()
	handler, ok := s.actions[name]
	s.actionsMu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown action "+name)
		return
	}

	output, err := handler(r.Context(), actorID, args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outputCBOR, err := protocol.EncodeValue(output)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode output")
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	w.Write(outputCBOR)
}
