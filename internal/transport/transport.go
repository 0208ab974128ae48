// Package transport carries raw frames between the client and a kernel
// session. The WebSocket transport is the real thing; the static transport
// satisfies the same interface for exported, kernel-less notebooks.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotConnected     = errors.New("transport: not connected")
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrClosed           = errors.New("transport: closed")
)

// Handler receives transport events. Callbacks for a single connection are
// invoked from one goroutine, so message order is preserved.
type Handler struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(code int, reason string)
	OnError   func(err error)
}

// Transport is a single logical session channel.
//
// Connect establishes the channel and starts delivering events to h.
// Reconnect tears down the current connection, if any, and dials again;
// it is the manager's lever for driving recovery and never loops on its own.
type Transport interface {
	Connect(ctx context.Context, h Handler) error
	Send(data []byte) error
	Reconnect()
	Close() error
}
