package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/protocol"
)

// pingInterval/pongWait bound how long a silent connection is tolerated
// before the read loop treats it as dead, mirroring the liveness pattern in
// teacher/server/internal/websocket/client.go (ping ticker + pong deadline
// reset) rather than relying on TCP keepalive alone.
const (
	pingInterval = 25 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// WebSocketDriver is the Driver implementation backing the default
// transport. Each Connect resolves the actor id via the remote manager (the
// ws.rs placement — see driver.go) and then performs the subprotocol
// handshake dial.
type WebSocketDriver struct {
	remoteMgr *remote.Manager
	logger    *zap.Logger
}

// NewWebSocketDriver constructs a driver bound to one remote manager.
func NewWebSocketDriver(remoteMgr *remote.Manager, logger *zap.Logger) *WebSocketDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketDriver{remoteMgr: remoteMgr, logger: logger.Named("transport.ws")}
}

// Connect resolves args.Query to an actor id, then dials the gateway
// WebSocket upgrade with the prescribed subprotocol list. On success it
// spawns a background read loop and returns immediately; a failure at any
// point here means did_open=false and no goroutine is started.
func (d *WebSocketDriver) Connect(ctx context.Context, args ConnectArgs) (*Handle, error) {
	actorID, err := d.remoteMgr.ResolveActorID(ctx, args.Query)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve actor id: %w", err)
	}

	conn, err := d.remoteMgr.OpenWebSocket(ctx, actorID, args.Encoding, args.Params, args.ConnectionID, args.ConnectionToken)
	if err != nil {
		return nil, fmt.Errorf("transport: open websocket: %w", err)
	}

	inbound := make(chan []byte, 16)
	done := make(chan Stop, 1)

	frameType := websocket.BinaryMessage
	if args.Encoding == protocol.EncodingJSON {
		frameType = websocket.TextMessage
	}

	h := &Handle{
		Inbound: inbound,
		Done:    done,
		sendFn: func(data []byte) error {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteMessage(frameType, data)
		},
		closeFn: func() error {
			return conn.Close()
		},
	}

	go d.readLoop(conn, inbound, done)
	go d.pingLoop(conn)

	return h, nil
}

func (d *WebSocketDriver) readLoop(conn *websocket.Conn, inbound chan<- []byte, done chan<- Stop) {
	defer close(inbound)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			reason := TaskError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = ServerDisconnect
			}
			done <- Stop{Reason: reason, Err: err}
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		frame := make([]byte, len(data))
		copy(frame, data)
		select {
		case inbound <- frame:
		default:
			d.logger.Warn("dropping inbound frame, consumer too slow")
		}
	}
}

func (d *WebSocketDriver) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

var _ Driver = (*WebSocketDriver)(nil)
