// Package protocol defines the wire data model shared by every transport:
// actor queries, the tagged-union envelopes exchanged over the WebSocket
// session, and the JSON/CBOR codecs used to (de)serialize them.
package protocol

import "fmt"

// EncodingKind selects the on-wire representation of protocol envelopes and
// of RPC argument/output payloads. Note the asymmetry: even under Json,
// action args/output/metadata are always CBOR-encoded byte strings embedded
// in the envelope (see ToClient/ToServer).
type EncodingKind int

const (
	EncodingJSON EncodingKind = iota
	EncodingCBOR
)

// String returns the lowercase wire name used in headers and subprotocols.
func (e EncodingKind) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingCBOR:
		return "cbor"
	default:
		return "unknown"
	}
}

// TransportKind selects the session transport. Sse is reserved: a driver
// constructed for it must fail cleanly at connect time with
// ErrUnsupportedTransport rather than silently falling back to WebSocket.
type TransportKind int

const (
	TransportWebSocket TransportKind = iota
	TransportSSE
)

func (t TransportKind) String() string {
	switch t {
	case TransportWebSocket:
		return "websocket"
	case TransportSSE:
		return "sse"
	default:
		return "unknown"
	}
}

// ActorKeyMaxEntryBytes is the maximum length of a single ActorKey segment.
const ActorKeyMaxEntryBytes = 128

// ActorKey is an ordered sequence of short strings that, with an actor name,
// identifies an actor for lookup or creation. Serialized as a plain JSON
// array on the wire.
type ActorKey []string

// NewActorKey validates and returns an ActorKey. Unlike the original Rust
// client (a plain `Vec<String>` type alias with no validation), this fails
// fast on an oversized segment instead of letting it corrupt the wire later.
func NewActorKey(parts ...string) (ActorKey, error) {
	for i, p := range parts {
		if len(p) > ActorKeyMaxEntryBytes {
			return nil, fmt.Errorf("protocol: actor key entry %d exceeds %d bytes (got %d)", i, ActorKeyMaxEntryBytes, len(p))
		}
	}
	key := make(ActorKey, len(parts))
	copy(key, parts)
	return key, nil
}

// Headers used against the HTTP control plane and gateway.
const (
	HeaderEncoding    = "x-rivet-encoding"
	HeaderConnParams  = "x-rivet-conn-params"
	HeaderRivetTarget = "x-rivet-target"
	HeaderRivetActor  = "x-rivet-actor"
	HeaderRivetToken  = "x-rivet-token"
)

// PathConnectWebSocket is the gateway path used to upgrade to a session.
const PathConnectWebSocket = "/connect/websocket"

// WebSocket subprotocol prefixes. RemoteManager.OpenWebSocket emits them in
// the order standard, target, actor, encoding, then the optional token, conn
// params, conn id and conn token.
const (
	WSProtocolStandard   = "rivet"
	WSProtocolTarget     = "rivet_target."
	WSProtocolActor      = "rivet_actor."
	WSProtocolEncoding   = "rivet_encoding."
	WSProtocolConnParams = "rivet_conn_params."
	WSProtocolConnID     = "rivet_conn."
	WSProtocolConnToken  = "rivet_conn_token."
	WSProtocolToken      = "rivet_token."
)

// UserAgentPrefix is the product token of UserAgent, which is sent with
// every control-plane and gateway request.
const UserAgentPrefix = "ActorClient-Go"
