// Package tcp implements the stream-oriented ingress server of the runtime.
//
// The server owns the accept loop and one goroutine per connection. Each
// connection reads into a fixed-capacity buffer and offers the buffered bytes
// to a Handler, which consumes complete frames and leaves partial frames for
// the next read. Handler failures terminate only the connection they occurred
// on; the server keeps accepting.
package tcp

// ConnInfo identifies a single accepted connection.
type ConnInfo struct {
	// ID is unique per accepted connection.
	ID string
	// RemoteAddr is the peer address.
	RemoteAddr string
	// LocalAddr is the local listener address.
	LocalAddr string
}

// Handler processes the byte stream of one connection. The server creates a
// handler per connection and calls it from a single goroutine, so
// implementations keep per-connection state without locking.
type Handler interface {
	// OnConnect is called once, before any data is processed.
	OnConnect(info ConnInfo)

	// Process consumes complete frames from data and returns the number of
	// bytes consumed. Returning 0 means data contains no complete frame and
	// more bytes are needed. Returning an error closes the connection after
	// OnError is invoked.
	Process(data []byte) (int, error)

	// OnDisconnect is called when the peer closes the connection cleanly.
	OnDisconnect(info ConnInfo)

	// OnError is called for transport errors and processing failures. The
	// connection is closed after it returns.
	OnError(info ConnInfo, err error)
}

// HandlerFactory creates one Handler per accepted connection.
type HandlerFactory interface {
	Create() Handler
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func() Handler

// Create implements HandlerFactory.
func (f HandlerFactoryFunc) Create() Handler {
	return f()
}
