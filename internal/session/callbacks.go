package session

import (
	"sync"

	"torrentd/internal/engine"
	"torrentd/internal/torrentid"
)

// callbackKey identifies a one-shot callback registration: a specific
// alert kind for a specific torrent (spec §4.C "Recheck").
type callbackKey struct {
	kind engine.Kind
	hash string
}

// callbackRegistry holds one-shot callbacks keyed by (kind, info_hash).
// If a second registration for the same key arrives before the first
// fires, both are kept and fire in FIFO registration order on the next
// matching alert - the source's documented retained behavior.
type callbackRegistry struct {
	mu  sync.Mutex
	cbs map[callbackKey][]func()
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{cbs: make(map[callbackKey][]func())}
}

// add registers fn to run the next time kind fires for hash.
func (r *callbackRegistry) add(kind engine.Kind, hash torrentid.Hash, fn func()) {
	key := callbackKey{kind: kind, hash: hash.Key()}
	r.mu.Lock()
	r.cbs[key] = append(r.cbs[key], fn)
	r.mu.Unlock()
}

// fire runs and clears every callback registered for (kind, hash), in
// FIFO order.
func (r *callbackRegistry) fire(kind engine.Kind, hash torrentid.Hash) {
	key := callbackKey{kind: kind, hash: hash.Key()}

	r.mu.Lock()
	fns := r.cbs[key]
	delete(r.cbs, key)
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
