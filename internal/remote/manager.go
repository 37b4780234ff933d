// Package remote implements the HTTP control-plane client: actor discovery
// and creation, and the WebSocket handshake URL/subprotocol assembly. It is
// the Go counterpart of clients/rust/src/remote_manager.rs, styled after
// teacher/server/internal/notification/sender_webhook.go's net/http usage
// (a plain *http.Client with a timeout, User-Agent + signed/auth headers,
// sentinel errors wrapped with %w).
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/protocol"
)

// ErrActorNotFound is returned by ResolveActorID when a GetForId/GetForKey
// query matches no actor.
var ErrActorNotFound = errors.New("remote: actor not found")

// ErrInvalidEndpoint is returned by OpenWebSocket when the configured
// endpoint does not start with "http://" or "https://".
var ErrInvalidEndpoint = errors.New("remote: invalid endpoint URL")

// requestTimeout bounds every control-plane HTTP call. The WebSocket dial
// itself is not subject to this (it runs for the life of the connection).
const requestTimeout = 15 * time.Second

// Manager is a client for the HTTP control plane and gateway. It is
// stateless across calls; construct once per Client and share.
type Manager struct {
	endpoint string
	token    string
	logger   *zap.Logger

	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New constructs a Manager for the given control-plane endpoint
// (e.g. "https://manager.example.com"). token may be empty.
func New(endpoint, token string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		logger:     logger.Named("remote"),
		httpClient: &http.Client{Timeout: requestTimeout},
		dialer:     websocket.DefaultDialer,
	}
}

type actorWire struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name"`
	Key     string `json:"key"`
}

type actorsListResponse struct {
	Actors []actorWire `json:"actors"`
}

type actorsGetOrCreateRequest struct {
	Name   string  `json:"name"`
	Key    string  `json:"key"`
	Input  *string `json:"input,omitempty"`
	Region *string `json:"region,omitempty"`
}

type actorsGetOrCreateResponse struct {
	Actor   actorWire `json:"actor"`
	Created bool      `json:"created"`
}

type actorsCreateResponse struct {
	Actor actorWire `json:"actor"`
}

func (m *Manager) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", protocol.UserAgent)
	if m.token != "" {
		req.Header.Set(protocol.HeaderRivetToken, m.token)
	}
	return req, nil
}

// GetForID looks up an actor by id, double-checking the returned name
// matches. 2xx with an empty or mismatched list yields (_, false, nil).
func (m *Manager) GetForID(ctx context.Context, name, actorID string) (string, bool, error) {
	u := fmt.Sprintf("%s/actors?name=%s&actor_ids=%s", m.endpoint, url.QueryEscape(name), url.QueryEscape(actorID))
	req, err := m.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, err
	}

	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("remote: get_for_id request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", false, fmt.Errorf("remote: failed to get actor: %d", res.StatusCode)
	}

	var data actorsListResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return "", false, fmt.Errorf("remote: decode get_for_id response: %w", err)
	}

	if len(data.Actors) == 0 || data.Actors[0].Name != name {
		return "", false, nil
	}
	return data.Actors[0].ActorID, true, nil
}

// GetWithKey looks up an actor by name + key. HTTP 404 maps to (_, false,
// nil), not an error.
func (m *Manager) GetWithKey(ctx context.Context, name string, key protocol.ActorKey) (string, bool, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return "", false, err
	}
	u := fmt.Sprintf("%s/actors?name=%s&key=%s", m.endpoint, url.QueryEscape(name), url.QueryEscape(string(keyJSON)))
	req, err := m.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, err
	}

	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("remote: get_with_key request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", false, fmt.Errorf("remote: failed to get actor by key: %d", res.StatusCode)
	}

	var data actorsListResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return "", false, fmt.Errorf("remote: decode get_with_key response: %w", err)
	}
	if len(data.Actors) == 0 {
		return "", false, nil
	}
	return data.Actors[0].ActorID, true, nil
}

func encodeInput(input any) (*string, error) {
	if input == nil {
		return nil, nil
	}
	cborBytes, err := protocol.EncodeValue(input)
	if err != nil {
		return nil, fmt.Errorf("remote: encode input as cbor: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(cborBytes)
	return &encoded, nil
}

// GetOrCreateWithKey resolves an actor by name + key, creating it with input
// and region (forwarded on the wire here, unlike the original client) if it
// doesn't already exist.
func (m *Manager) GetOrCreateWithKey(ctx context.Context, name string, key protocol.ActorKey, input any, region string) (string, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	encodedInput, err := encodeInput(input)
	if err != nil {
		return "", err
	}
	reqBody := actorsGetOrCreateRequest{Name: name, Key: string(keyJSON), Input: encodedInput}
	if region != "" {
		reqBody.Region = &region
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := m.newRequest(ctx, http.MethodPut, m.endpoint+"/actors", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: get_or_create request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("remote: failed to get or create actor: %d", res.StatusCode)
	}

	var data actorsGetOrCreateResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("remote: decode get_or_create response: %w", err)
	}
	return data.Actor.ActorID, nil
}

// CreateActor unconditionally creates a new actor.
func (m *Manager) CreateActor(ctx context.Context, name string, key protocol.ActorKey, input any, region string) (string, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	encodedInput, err := encodeInput(input)
	if err != nil {
		return "", err
	}
	reqBody := actorsGetOrCreateRequest{Name: name, Key: string(keyJSON), Input: encodedInput}
	if region != "" {
		reqBody.Region = &region
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := m.newRequest(ctx, http.MethodPost, m.endpoint+"/actors", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote: create request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("remote: failed to create actor: %d", res.StatusCode)
	}

	var data actorsCreateResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("remote: decode create response: %w", err)
	}
	return data.Actor.ActorID, nil
}

// ResolveActorID dispatches on the query variant.
func (m *Manager) ResolveActorID(ctx context.Context, query protocol.ActorQuery) (string, error) {
	switch q := query.(type) {
	case protocol.GetForID:
		id, ok, err := m.GetForID(ctx, q.Name, q.ActorID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrActorNotFound
		}
		return id, nil
	case protocol.GetForKey:
		id, ok, err := m.GetWithKey(ctx, q.Name, q.Key)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrActorNotFound
		}
		return id, nil
	case protocol.GetOrCreateForKey:
		return m.GetOrCreateWithKey(ctx, q.Name, q.Key, q.Input, q.Region)
	case protocol.Create:
		return m.CreateActor(ctx, q.Name, q.Key, q.Input, q.Region)
	default:
		return "", fmt.Errorf("remote: unhandled actor query type %T", query)
	}
}

// SendRequest performs a unary request against the gateway for a specific
// actor, appending the x-rivet-target/x-rivet-actor headers used to route
// the request. Used for the unary action path.
func (m *Manager) SendRequest(ctx context.Context, actorID, path, method string, headers map[string]string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := m.newRequest(ctx, method, m.endpoint+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(protocol.HeaderRivetTarget, "actor")
	req.Header.Set(protocol.HeaderRivetActor, actorID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return m.httpClient.Do(req)
}

// OpenWebSocket dials the gateway's WebSocket upgrade for actorID, building
// the subprotocol list in the prescribed order.
func (m *Manager) OpenWebSocket(ctx context.Context, actorID string, encoding protocol.EncodingKind, params any, connID, connToken string) (*websocket.Conn, error) {
	var wsURL string
	switch {
	case strings.HasPrefix(m.endpoint, "https://"):
		wsURL = "wss://" + m.endpoint[len("https://"):] + protocol.PathConnectWebSocket
	case strings.HasPrefix(m.endpoint, "http://"):
		wsURL = "ws://" + m.endpoint[len("http://"):] + protocol.PathConnectWebSocket
	default:
		return nil, ErrInvalidEndpoint
	}

	protocols := []string{
		protocol.WSProtocolStandard,
		protocol.WSProtocolTarget + "actor",
		protocol.WSProtocolActor + actorID,
		protocol.WSProtocolEncoding + encoding.String(),
	}

	if m.token != "" {
		protocols = append(protocols, protocol.WSProtocolToken+m.token)
	}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("remote: encode conn params: %w", err)
		}
		protocols = append(protocols, protocol.WSProtocolConnParams+url.QueryEscape(string(paramsJSON)))
	}
	if connID != "" {
		protocols = append(protocols, protocol.WSProtocolConnID+connID)
	}
	if connToken != "" {
		protocols = append(protocols, protocol.WSProtocolConnToken+connToken)
	}

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	header.Set("User-Agent", protocol.UserAgent)

	conn, resp, err := m.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("remote: websocket dial failed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("remote: websocket dial failed: %w", err)
	}
	return conn, nil
}
