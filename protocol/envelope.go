package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ToClientBody is the sealed set of server-to-client message bodies.
type ToClientBody interface {
	isToClientBody()
	tag() string
}

// Init carries the resumption triple handed out on a fresh or resumed
// session. actor_id/connection_id/connection_token are replayed verbatim by
// the supervisor on every reconnect attempt.
type Init struct {
	ActorID         string `json:"actorId" cbor:"actorId"`
	ConnectionID    string `json:"connectionId" cbor:"connectionId"`
	ConnectionToken string `json:"connectionToken" cbor:"connectionToken"`
}

func (Init) isToClientBody() {}
func (Init) tag() string     { return "Init" }

// ActionResponse completes a pending action() call. Output is always a CBOR
// byte string regardless of envelope encoding.
type ActionResponse struct {
	ID     uint64 `json:"id" cbor:"id"`
	Output []byte `json:"output" cbor:"output"`
}

func (ActionResponse) isToClientBody() {}
func (ActionResponse) tag() string     { return "ActionResponse" }

// Event is a server-initiated publish to a subscribed event name. Args is a
// CBOR-encoded array of values regardless of envelope encoding.
type Event struct {
	Name string `json:"name" cbor:"name"`
	Args []byte `json:"args" cbor:"args"`
}

func (Event) isToClientBody() {}
func (Event) tag() string     { return "Event" }

// Error reports either an RPC failure (ActionID set) or a connection-level
// error (ActionID nil, never cancels in-flight RPCs).
type Error struct {
	Group    string  `json:"group" cbor:"group"`
	Code     string  `json:"code" cbor:"code"`
	Message  string  `json:"message" cbor:"message"`
	Metadata []byte  `json:"metadata,omitempty" cbor:"metadata,omitempty"`
	ActionID *uint64 `json:"actionId,omitempty" cbor:"actionId,omitempty"`
}

func (Error) isToClientBody() {}
func (Error) tag() string     { return "Error" }

// ToClient wraps a single tagged body, mirroring the externally-tagged
// {"tag":"...", "val":{...}} shape used on both JSON and CBOR encodings.
type ToClient struct {
	Body ToClientBody
}

// ToServerBody is the sealed set of client-to-server message bodies.
type ToServerBody interface {
	isToServerBody()
	tag() string
}

// ActionRequest invokes a named action on the actor. Args is always a CBOR
// byte string regardless of envelope encoding.
type ActionRequest struct {
	ID   uint64 `json:"id" cbor:"id"`
	Name string `json:"name" cbor:"name"`
	Args []byte `json:"args" cbor:"args"`
}

func (ActionRequest) isToServerBody() {}
func (ActionRequest) tag() string     { return "ActionRequest" }

// SubscriptionRequest adds or removes an event subscription. Always sent as
// an ephemeral message — never queued while detached.
type SubscriptionRequest struct {
	EventName string `json:"eventName" cbor:"eventName"`
	Subscribe bool   `json:"subscribe" cbor:"subscribe"`
}

func (SubscriptionRequest) isToServerBody() {}
func (SubscriptionRequest) tag() string     { return "SubscriptionRequest" }

// ToServer wraps a single tagged body.
type ToServer struct {
	Body ToServerBody
}

// --- externally-tagged wire shape, shared by JSON and CBOR ---

type wireEnvelope struct {
	Tag string          `json:"tag" cbor:"tag"`
	Val json.RawMessage `json:"val" cbor:"val"`
}

type wireEnvelopeCBOR struct {
	Tag string          `cbor:"tag"`
	Val cbor.RawMessage `cbor:"val"`
}

// --- ToServer JSON ---

func (m ToServer) MarshalJSON() ([]byte, error) {
	val, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Tag: m.Body.tag(), Val: val})
}

func (m *ToServer) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := unmarshalToServerBodyJSON(w.Tag, w.Val)
	if err != nil {
		return err
	}
	m.Body = body
	return nil
}

func unmarshalToServerBodyJSON(tag string, val json.RawMessage) (ToServerBody, error) {
	switch tag {
	case "ActionRequest":
		var b ActionRequest
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "SubscriptionRequest":
		var b SubscriptionRequest
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToServer tag %q", tag)
	}
}

// --- ToClient JSON ---

func (m ToClient) MarshalJSON() ([]byte, error) {
	val, err := json.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Tag: m.Body.tag(), Val: val})
}

func (m *ToClient) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := unmarshalToClientBodyJSON(w.Tag, w.Val)
	if err != nil {
		return err
	}
	m.Body = body
	return nil
}

func unmarshalToClientBodyJSON(tag string, val json.RawMessage) (ToClientBody, error) {
	switch tag {
	case "Init":
		var b Init
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "ActionResponse":
		var b ActionResponse
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "Event":
		var b Event
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "Error":
		var b Error
		if err := json.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToClient tag %q", tag)
	}
}

// --- CBOR (en/de)coding, same externally-tagged shape ---

func (m ToServer) MarshalCBOR() ([]byte, error) {
	val, err := cbor.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(wireEnvelopeCBOR{Tag: m.Body.tag(), Val: val})
}

func (m *ToServer) UnmarshalCBOR(data []byte) error {
	var w wireEnvelopeCBOR
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := unmarshalToServerBodyCBOR(w.Tag, w.Val)
	if err != nil {
		return err
	}
	m.Body = body
	return nil
}

func unmarshalToServerBodyCBOR(tag string, val cbor.RawMessage) (ToServerBody, error) {
	switch tag {
	case "ActionRequest":
		var b ActionRequest
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "SubscriptionRequest":
		var b SubscriptionRequest
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToServer tag %q", tag)
	}
}

func (m ToClient) MarshalCBOR() ([]byte, error) {
	val, err := cbor.Marshal(m.Body)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(wireEnvelopeCBOR{Tag: m.Body.tag(), Val: val})
}

func (m *ToClient) UnmarshalCBOR(data []byte) error {
	var w wireEnvelopeCBOR
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := unmarshalToClientBodyCBOR(w.Tag, w.Val)
	if err != nil {
		return err
	}
	m.Body = body
	return nil
}

func unmarshalToClientBodyCBOR(tag string, val cbor.RawMessage) (ToClientBody, error) {
	switch tag {
	case "Init":
		var b Init
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "ActionResponse":
		var b ActionResponse
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "Event":
		var b Event
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	case "Error":
		var b Error
		if err := cbor.Unmarshal(val, &b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("protocol: unknown ToClient tag %q", tag)
	}
}
