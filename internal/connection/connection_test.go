package connection

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rivet-dev/rivetkit/internal/mockserver"
	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/protocol"
)

func newTestConnection(t *testing.T, srv *mockserver.Server, actorID string) (*Connection, func()) {
	t.Helper()

	httpSrv := httptest.NewServer(srv.Handler())

	mgr := remote.New(httpSrv.URL, "", nil)
	conn := New(Config{
		RemoteManager: mgr,
		Query:         protocol.GetForID{Name: "counter", ActorID: actorID},
		TransportKind: protocol.TransportWebSocket,
		EncodingKind:  protocol.EncodingCBOR,
	})

	return conn, func() {
		conn.Disconnect()
		httpSrv.Close()
	}
}

func waitForInit(t *testing.T, conn *Connection) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.connMu.Lock()
		id := conn.connectionID
		conn.connMu.Unlock()
		if id != "" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for session to open")
}

func TestActionRoundTrip(t *testing.T) {
	srv := mockserver.New(nil)
	rec := srv.CreateForTest("counter", nil)
	srv.HandleAction("increment", func(_ context.Context, actorID string, args []any) (any, error) {
		if actorID != rec.ID {
			t.Errorf("handler saw actor id %q, want %q", actorID, rec.ID)
		}
		by := args[0].(uint64)
		return map[string]any{"count": by + 1}, nil
	})

	conn, cleanup := newTestConnection(t, srv, rec.ID)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Start(ctx)
	waitForInit(t, conn)

	out, err := conn.Action(context.Background(), "increment", []any{int64(4)})
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Action output type = %T, want map[string]any", out)
	}
	if m["count"] != uint64(5) {
		t.Fatalf("Action output = %+v, want count=5", m)
	}
}

func TestActionPropagatesApplicationError(t *testing.T) {
	srv := mockserver.New(nil)
	rec := srv.CreateForTest("counter", nil)
	srv.HandleAction("boom", func(context.Context, string, []any) (any, error) {
		return nil, errBoom
	})

	conn, cleanup := newTestConnection(t, srv, rec.ID)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Start(ctx)
	waitForInit(t, conn)

	_, err := conn.Action(context.Background(), "boom", nil)
	if err == nil {
		t.Fatal("expected Action to return an error")
	}
}

func TestOnEventReceivesPublishedEvents(t *testing.T) {
	srv := mockserver.New(nil)
	rec := srv.CreateForTest("counter", nil)

	conn, cleanup := newTestConnection(t, srv, rec.ID)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Start(ctx)
	waitForInit(t, conn)

	received := make(chan []any, 1)
	conn.OnEvent("tick", func(args []any) {
		received <- args
	})

	// Give the subscription request a moment to reach the session before
	// publishing (the mock server doesn't gate on it, but this keeps the
	// test deterministic rather than racing the handshake).
	time.Sleep(20 * time.Millisecond)

	if err := srv.PublishEvent(rec.ID, "tick", []any{int64(42)}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case args := <-received:
		if len(args) != 1 || args[0] != uint64(42) {
			t.Fatalf("event args = %v, want [42]", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestDisconnectIsIdempotentAndUnblocksPendingActions(t *testing.T) {
	srv := mockserver.New(nil)
	rec := srv.CreateForTest("counter", nil)
	block := make(chan struct{})
	srv.HandleAction("stall", func(ctx context.Context, _ string, _ []any) (any, error) {
		<-block
		return nil, nil
	})

	conn, cleanup := newTestConnection(t, srv, rec.ID)
	defer close(block)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn.Start(ctx)
	waitForInit(t, conn)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Action(context.Background(), "stall", nil)
		done <- err
	}()

	// Let the action reach the in-flight table before tearing the session down.
	time.Sleep(20 * time.Millisecond)
	conn.Disconnect()
	conn.Disconnect() // idempotent

	select {
	case err := <-done:
		if err != ErrSocketClosed {
			t.Fatalf("Action after Disconnect = %v, want ErrSocketClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Disconnect to unblock pending Action")
	}

	select {
	case <-conn.Done():
	default:
		t.Fatal("expected Done() to be closed after Disconnect")
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
