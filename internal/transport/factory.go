package transport

import (
	"go.uber.org/zap"

	"github.com/rivet-dev/rivetkit/internal/remote"
	"github.com/rivet-dev/rivetkit/protocol"
)

// New selects the Driver implementation for kind. Unknown kinds fall back to
// the SSE stub rather than silently defaulting to WebSocket, so a typo'd
// TransportKind fails loudly instead of masquerading as a different
// transport.
func New(kind protocol.TransportKind, remoteMgr *remote.Manager, logger *zap.Logger) Driver {
	switch kind {
	case protocol.TransportWebSocket:
		return NewWebSocketDriver(remoteMgr, logger)
	default:
		return NewSSEDriver(logger)
	}
}
