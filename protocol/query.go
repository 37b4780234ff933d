package protocol

import "encoding/json"

// ActorQuery is a tagged union describing how to resolve an actor id. Tag
// names and field names below are part of the wire contract with the HTTP
// control plane (see remote manager request/response shapes) and must not
// be renamed.
type ActorQuery interface {
	isActorQuery()
}

// GetForID resolves an actor already known by id, scoped by name for a
// sanity check against the control plane's response.
type GetForID struct {
	Name    string `json:"name"`
	ActorID string `json:"actorId"`
}

func (GetForID) isActorQuery() {}

// GetForKey resolves an actor by its name + key, failing if none exists.
type GetForKey struct {
	Name string   `json:"name"`
	Key  ActorKey `json:"key"`
}

func (GetForKey) isActorQuery() {}

// GetOrCreateForKey resolves an actor by name + key, creating it with the
// given input/region if it does not already exist.
type GetOrCreateForKey struct {
	Name   string   `json:"name"`
	Key    ActorKey `json:"key"`
	Input  any      `json:"input,omitempty"`
	Region string   `json:"region,omitempty"`
}

func (GetOrCreateForKey) isActorQuery() {}

// Create unconditionally creates a new actor. Client.Create resolves this
// eagerly and hands callers a GetForID handle, so a bare Create query should
// never reach ActorHandleStateless.Resolve.
type Create struct {
	Name   string   `json:"name"`
	Key    ActorKey `json:"key"`
	Input  any      `json:"input,omitempty"`
	Region string   `json:"region,omitempty"`
}

func (Create) isActorQuery() {}

// actorQueryEnvelope is the externally-tagged wire shape for ActorQuery,
// used only where a query needs to cross a boundary as JSON in its own
// right (e.g. debugging/logging); the HTTP control plane calls in
// internal/remote address each variant's fields directly instead.
type actorQueryEnvelope struct {
	Tag string          `json:"tag"`
	Val json.RawMessage `json:"val"`
}

// MarshalQueryJSON encodes an ActorQuery using the external tag/val shape.
func MarshalQueryJSON(q ActorQuery) ([]byte, error) {
	var tag string
	switch q.(type) {
	case GetForID:
		tag = "GetForId"
	case GetForKey:
		tag = "GetForKey"
	case GetOrCreateForKey:
		tag = "GetOrCreateForKey"
	case Create:
		tag = "Create"
	default:
		tag = "Unknown"
	}
	val, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actorQueryEnvelope{Tag: tag, Val: val})
}
