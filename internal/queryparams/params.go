// Package queryparams mirrors kernel-driven query parameter mutations onto
// the page URL.
package queryparams

import (
	"net/url"
	"sync"
)

// Mutator applies kernel-originated query parameter operations.
type Mutator interface {
	Append(key, value string)
	Set(key, value string)
	// Delete removes the whole key when value is nil, otherwise only the
	// matching value.
	Delete(key string, value *string)
	Clear()
}

// URLParams is a Mutator over an in-memory url.Values snapshot.
type URLParams struct {
	mu     sync.Mutex
	values url.Values
}

func NewURLParams(initial url.Values) *URLParams {
	values := url.Values{}
	for k, vs := range initial {
		values[k] = append([]string(nil), vs...)
	}
	return &URLParams{values: values}
}

func (p *URLParams) Append(key, value string) {
	p.mu.Lock()
	p.values.Add(key, value)
	p.mu.Unlock()
}

func (p *URLParams) Set(key, value string) {
	p.mu.Lock()
	p.values.Set(key, value)
	p.mu.Unlock()
}

func (p *URLParams) Delete(key string, value *string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == nil {
		p.values.Del(key)
		return
	}
	kept := p.values[key][:0]
	for _, v := range p.values[key] {
		if v != *value {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		p.values.Del(key)
		return
	}
	p.values[key] = kept
}

func (p *URLParams) Clear() {
	p.mu.Lock()
	p.values = url.Values{}
	p.mu.Unlock()
}

// Snapshot returns a copy of the current parameters.
func (p *URLParams) Snapshot() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := url.Values{}
	for k, vs := range p.values {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Encode returns the current parameters in query string form.
func (p *URLParams) Encode() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values.Encode()
}
