// Package registry holds the client-side mirrors of kernel state: in-flight
// request correlation, cells, variables and datasets. Everything here is
// safe for concurrent use; mutation happens on the connection manager's
// dispatch goroutine while readers come from anywhere.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type outcome[T any] struct {
	value T
	err   error
}

// Pending is one in-flight request awaiting its correlated response.
type Pending[T any] struct {
	id string
	ch chan outcome[T]
}

// ID is the request_id carried on the wire for correlation.
func (p *Pending[T]) ID() string { return p.id }

// Await blocks until the request is resolved, rejected, or ctx is done.
// It imposes no timeout of its own.
func (p *Pending[T]) Await(ctx context.Context) (T, error) {
	select {
	case out := <-p.ch:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Requests correlates outbound requests with their eventual responses.
type Requests[T any] struct {
	mu      sync.Mutex
	pending map[string]*Pending[T]
}

func NewRequests[T any]() *Requests[T] {
	return &Requests[T]{pending: make(map[string]*Pending[T])}
}

// Create registers a new pending request under a fresh id.
func (r *Requests[T]) Create() *Pending[T] {
	p := &Pending[T]{
		id: uuid.NewString(),
		ch: make(chan outcome[T], 1),
	}
	r.mu.Lock()
	r.pending[p.id] = p
	r.mu.Unlock()
	return p
}

// Resolve completes the request with a value. Unknown or already-settled ids
// are ignored: a late or duplicate response must not disturb anything.
func (r *Requests[T]) Resolve(id string, value T) {
	if p := r.take(id); p != nil {
		p.ch <- outcome[T]{value: value}
	}
}

// Reject completes the request with an error. Unknown ids are ignored.
func (r *Requests[T]) Reject(id string, err error) {
	if p := r.take(id); p != nil {
		p.ch <- outcome[T]{err: err}
	}
}

// Len reports the number of requests still in flight.
func (r *Requests[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Requests[T]) take(id string) *Pending[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}
