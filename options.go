package rivetkit

// GetOptions configures Client.Get and Client.GetForID.
type GetOptions struct {
	// Params are sent as connection parameters (x-rivet-conn-params) on
	// every unary action call and on the WebSocket handshake.
	Params any
}

// GetOrCreateOptions configures Client.GetOrCreate.
type GetOrCreateOptions struct {
	Params any
	// CreateInRegion is forwarded to the control plane if the actor needs
	// creating, unlike the original Rust client (which never forwards a
	// region hint at all).
	CreateInRegion string
	// CreateWithInput is the constructor input passed if the actor needs
	// creating.
	CreateWithInput any
}

// CreateOptions configures Client.Create.
type CreateOptions struct {
	Params any
	Region string
	Input  any
}
