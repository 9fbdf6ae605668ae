package mq

import (
	"context"
	"errors"
)

// Handler processes one inbound message. A nil return acknowledges the
// message; an error asks the bus to redeliver it where the bus supports that.
type Handler func(ctx context.Context, payload []byte) error

// Subscriber delivers messages from one topic or queue to a Handler.
type Subscriber interface {
	// Subscribe blocks, calling handler for every message, until ctx is
	// cancelled or the client is closed.
	Subscribe(ctx context.Context, handler Handler) error
}

// Publisher sends messages to one topic or queue.
type Publisher interface {
	// Publish sends payload and waits for the broker to accept it.
	Publish(ctx context.Context, payload []byte) error
}

// Bus is a connected message bus client.
type Bus interface {
	Subscriber
	Publisher

	// WaitReady blocks until the client is connected or ctx is done.
	WaitReady(ctx context.Context) error

	// IsConnected reports whether the broker connection is currently up.
	IsConnected() bool

	// Close shuts down the connection.
	Close() error
}

// ErrShutdown is returned by operations on a closed client.
var ErrShutdown = errors.New("client is shutting down")

// Ensure Client implements Bus.
var _ Bus = (*Client)(nil)
