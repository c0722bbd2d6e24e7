// Package events implements the synchronous, in-process publish/subscribe
// bus that carries the daemon's published events (SPEC_FULL §6) from the
// Session Supervisor to subscribers such as the Workflow Runner.
package events

import "sync"

// Name identifies an event kind by its published name, e.g. "torrent-added".
type Name string

// Event kinds published by the Session Supervisor (SPEC_FULL §6), kept as
// typed constants so callers get compile-time checking instead of
// stringly-typed event names.
const (
	TorrentAdded     Name = "torrent-added"
	TorrentPaused    Name = "torrent-paused"
	TorrentResumed   Name = "torrent-resumed"
	TorrentFinished  Name = "torrent-finished"
	TorrentRemoved   Name = "torrent-removed"
	StorageMoved     Name = "storage-moved"
	StateUpdate      Name = "state-update"
	SessionStats     Name = "session-stats"
	TorrentMediaInfo Name = "torrent-mediainfo"
)

// Handler receives a published event's payload. Handlers run synchronously,
// on the caller's goroutine, in subscription order - matching spec §5's
// "delivered synchronously on the event-loop thread" contract.
type Handler func(payload any)

// Bus is a synchronous multi-producer, multi-consumer fan-out keyed by
// event name. It has no buffering and no delivery guarantees beyond
// "call every currently-subscribed handler once, in order".
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

// Subscribe registers h to be called whenever name is published. Returns
// an unsubscribe function.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
	idx := len(b.handlers[name]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[name]
		if idx < len(hs) {
			hs[idx] = nil // preserve indices of other unsubscribe closures
		}
	}
}

// Publish invokes every handler currently subscribed to name, in
// subscription order, synchronously on the calling goroutine.
func (b *Bus) Publish(name Name, payload any) {
	b.mu.RLock()
	// Copy the slice header under lock so a handler subscribing/
	// unsubscribing during dispatch can't race the iteration.
	hs := make([]Handler, len(b.handlers[name]))
	copy(hs, b.handlers[name])
	b.mu.RUnlock()

	for _, h := range hs {
		if h != nil {
			h(payload)
		}
	}
}
