package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
)

// Pending is the handle of a request awaiting its correlated response.
type Pending struct {
	ID     string
	Method string

	done chan struct{}
	resp *protocol.Response
	err  error
}

// Done is closed once the response arrived or the connection failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Await blocks until the response arrives, the connection fails, or ctx ends.
// A response that arrives after ctx ended is still matched and not reported as
// unexpected.
func (p *Pending) Await(ctx context.Context) (*protocol.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, fmt.Errorf("await %s #%s: %w", p.Method, p.ID, ctx.Err())
	}
}

// pendingTable maps outstanding request ids to their handles.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*Pending
	closed  error
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*Pending)}
}

func (t *pendingTable) register(id, method string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != nil {
		return nil, t.closed
	}
	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("request id %s is still pending", id)
	}
	p := &Pending{ID: id, Method: method, done: make(chan struct{})}
	t.entries[id] = p
	return p, nil
}

// resolve fulfils the handle for resp.ID. It returns nil when no request with
// that id is outstanding.
func (t *pendingTable) resolve(resp *protocol.Response) *Pending {
	t.mu.Lock()
	p, ok := t.entries[resp.ID]
	if ok {
		delete(t.entries, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	p.resp = resp
	close(p.done)
	return p
}

// drop removes a handle whose request could not be written.
func (t *pendingTable) drop(id string, err error) {
	t.mu.Lock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if ok {
		p.err = err
		close(p.done)
	}
}

// failAll fails every outstanding handle and refuses new registrations.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*Pending)
	if t.closed == nil {
		t.closed = err
	}
	t.mu.Unlock()

	for _, p := range entries {
		p.err = err
		close(p.done)
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
