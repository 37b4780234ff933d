package rivetkit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rivet-dev/rivetkit/internal/mockserver"
	"github.com/rivet-dev/rivetkit/protocol"
)

func newTestClient(t *testing.T) (*Client, *mockserver.Server) {
	t.Helper()
	srv := mockserver.New(nil)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	client := New(httpSrv.URL, WithEncoding(protocol.EncodingCBOR))
	t.Cleanup(client.Close)
	return client, srv
}

func TestGetOrCreateThenGetResolveSameActor(t *testing.T) {
	client, _ := newTestClient(t)

	key, _ := protocol.NewActorKey("room-1")
	h1 := client.GetOrCreate("room", key, GetOrCreateOptions{})
	id1, err := h1.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve (get_or_create): %v", err)
	}

	h2 := client.Get("room", key, GetOptions{})
	id2, err := h2.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve (get): %v", err)
	}

	if id1 != id2 {
		t.Fatalf("expected the same actor id, got %q and %q", id1, id2)
	}
}

func TestGetMissingActorFails(t *testing.T) {
	client, _ := newTestClient(t)

	key, _ := protocol.NewActorKey("does-not-exist")
	h := client.Get("room", key, GetOptions{})
	if _, err := h.Resolve(context.Background()); err == nil {
		t.Fatal("expected Resolve to fail for an actor that was never created")
	}
}

func TestStatelessActionRoundTrip(t *testing.T) {
	client, srv := newTestClient(t)

	srv.HandleAction("echo", func(_ context.Context, _ string, args []any) (any, error) {
		return args[0], nil
	})

	key, _ := protocol.NewActorKey("echoer")
	h := client.GetOrCreate("room", key, GetOrCreateOptions{})

	out, err := h.Action(context.Background(), "echo", []any{"hello"})
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if out != "hello" {
		t.Fatalf("Action output = %v, want %q", out, "hello")
	}
}

func TestCreateAlwaysMintsANewActor(t *testing.T) {
	client, _ := newTestClient(t)

	key, _ := protocol.NewActorKey("dup")
	h1, err := client.Create(context.Background(), "room", key, CreateOptions{})
	if err != nil {
		t.Fatalf("Create (1): %v", err)
	}
	h2, err := client.Create(context.Background(), "room", key, CreateOptions{})
	if err != nil {
		t.Fatalf("Create (2): %v", err)
	}

	id1, _ := h1.Resolve(context.Background())
	id2, _ := h2.Resolve(context.Background())
	if id1 == id2 {
		t.Fatal("expected Create to mint distinct actors even with the same key")
	}
}

func TestConnectSessionIsTornDownByClientClose(t *testing.T) {
	client, _ := newTestClient(t)

	key, _ := protocol.NewActorKey("session-actor")
	h := client.GetOrCreate("room", key, GetOrCreateOptions{})
	if _, err := h.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	conn := h.Connect()

	select {
	case <-conn.Done():
		t.Fatal("connection should still be running before Close")
	case <-time.After(50 * time.Millisecond):
	}

	client.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Client.Close to tear down the connection")
	}
}
