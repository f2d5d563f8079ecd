package interfaces

// Channel is a duplex, message-oriented client connection.
// ARCHITECTURAL DISCOVERY: the registry and the hub only need identity, write and
// close, so tests can substitute in-memory channels for real sockets
type Channel interface {
	// Identity returns the key the channel is registered under (account email).
	// It never changes over the channel's lifetime.
	Identity() string

	// WriteJSON queues v for delivery. It must be safe for concurrent use
	// and must preserve call order on a single channel.
	WriteJSON(v interface{}) error

	// Close releases the underlying transport. Calling it more than once is allowed.
	Close() error
}
