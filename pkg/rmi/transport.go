package rmi

// Interface is one side of a bidirectional message channel. An endpoint is
// bound to exactly one Interface, the router may hold many.
type Interface interface {
	// Send hands msg to the peer without waiting for delivery.
	Send(tag Tag, msg *Message) error

	// RegisterReceiver sets the callback invoked once per inbound message
	// carrying tag. A later registration for the same tag replaces it.
	RegisterReceiver(tag Tag, fn Receiver)
}

// Receiver is invoked for every inbound message. Calls for a given Interface
// are never concurrent with each other.
type Receiver func(iface Interface, msg *Message)

// Connection represents a bidirectional byte channel
type Connection interface {
	// Send sends a frame to the remote peer
	Send(data []byte) error

	// Receive blocks until a frame is received from the remote peer
	Receive() ([]byte, error)

	// Close closes the connection
	Close() error
}

// ServerTransport handles incoming connections for a hub
type ServerTransport interface {
	// Listen starts listening for incoming connections
	Listen() error

	// Accept blocks until a new connection is available
	Accept() (Connection, error)

	// Close stops listening and closes the transport
	Close() error
}

// ClientTransport handles outgoing connections for an endpoint
type ClientTransport interface {
	// Connect establishes a connection to the hub
	Connect() (Connection, error)
}
