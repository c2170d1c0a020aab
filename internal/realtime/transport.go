package realtime

// Transport is the duplex message channel between the engine and one client.
// Implementations dispatch inbound messages to subscribed handlers and report
// readiness once the client has completed the ready handshake. Handlers for a
// given transport are invoked sequentially, never concurrently.
type Transport interface {
	// Send writes a message to the client. Implementations return an error
	// once the transport is disconnected.
	Send(message Message) error
	// IsReady reports whether the ready handshake has completed. Messages
	// must not be pushed to a client before it is ready.
	IsReady() bool
	// Disconnect tears the channel down; disconnect handlers fire exactly
	// once regardless of how the teardown was initiated.
	Disconnect()
	// Subscribe registers a handler for one message type and returns the
	// matching unsubscribe function.
	Subscribe(messageType MessageType, handler func(Message)) func()
	// OnReady registers a handler invoked when the ready handshake
	// completes. Returns the matching unsubscribe function.
	OnReady(handler func()) func()
	// OnDisconnect registers a handler invoked when the transport
	// disconnects. Returns the matching unsubscribe function.
	OnDisconnect(handler func()) func()
}
