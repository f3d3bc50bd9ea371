// Package handle provides the shared completion handle used for objects whose
// durable storage may still be pending. A handle is a memoized one-shot
// asynchronous result: the producer completes it at most once, any number of
// observers wait on it without re-triggering the computation.
package handle

import (
	"context"
	"sync"

	"github.com/i5heu/revstream/pkg/types"
)

type Handle struct {
	done chan struct{}
	once sync.Once
	node *types.BlobNode
	err  error
}

func New() *Handle {
	return &Handle{done: make(chan struct{})}
}

// FromNode returns an already-completed handle, used when the object is known
// to be durably stored (e.g. a parent uploaded in a prior session).
func FromNode(node *types.BlobNode) *Handle {
	h := New()
	h.Complete(node, nil)
	return h
}

// FromError returns an already-failed handle.
func FromError(err error) *Handle {
	h := New()
	h.Complete(nil, err)
	return h
}

// Complete resolves the handle. Only the first call has any effect.
func (h *Handle) Complete(node *types.BlobNode, err error) {
	h.once.Do(func() {
		h.node = node
		h.err = err
		close(h.done)
	})
}

// Completed blocks until the handle resolves or ctx is done and returns the
// stored node or the failure that prevented it.
func (h *Handle) Completed(ctx context.Context) (*types.BlobNode, error) {
	select {
	case <-h.done:
		return h.node, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
