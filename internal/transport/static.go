package transport

import (
	"context"
	"sync"
)

// Static is the transport for exported notebooks that run without a kernel.
// It reports open exactly once, asynchronously, and silently discards writes
// so callers need no static-mode branches.
type Static struct {
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func NewStatic() *Static { return &Static{} }

func (s *Static) Connect(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	s.once.Do(func() {
		go func() {
			if h.OnOpen != nil {
				h.OnOpen()
			}
		}()
	})
	return nil
}

func (s *Static) Send(data []byte) error { return nil }

func (s *Static) Reconnect() {}

func (s *Static) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
