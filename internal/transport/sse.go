package transport

import (
	"context"

	"go.uber.org/zap"
)

// SSEDriver is a reserved stub. clients/rust/src/drivers/sse.rs returns
// "unsupported transport" immediately on connect; this does the same rather
// than silently degrading to WebSocket.
type SSEDriver struct {
	logger *zap.Logger
}

// NewSSEDriver constructs the stub driver.
func NewSSEDriver(logger *zap.Logger) *SSEDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEDriver{logger: logger.Named("transport.sse")}
}

// Connect always fails with ErrUnsupportedTransport.
func (d *SSEDriver) Connect(ctx context.Context, args ConnectArgs) (*Handle, error) {
	return nil, ErrUnsupportedTransport
}

var _ Driver = (*SSEDriver)(nil)
