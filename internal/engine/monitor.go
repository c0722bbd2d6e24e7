package engine

import (
	"fmt"
)

// monitor starts the goroutines that translate h's anacrolix/torrent
// channels and subscriptions into alerts. Each goroutine exits once its
// underlying signal fires or the torrent closes, so no explicit
// cancellation plumbing is needed beyond that.
func (e *Engine) monitor(h *Handle) {
	go e.watchMetadata(h)
	go e.watchPieces(h)
	go e.watchFinished(h)
	go e.watchRemoved(h)
}

func (e *Engine) watchMetadata(h *Handle) {
	select {
	case <-h.t.GotInfo():
	case <-h.t.Closed():
		return
	}

	status := h.Status()

	e.postAlert(Alert{
		Kind:     KindMetadataReceived,
		InfoHash: h.hash,
		Status:   &status,
		Message:  fmt.Sprintf("metadata received for torrent %s", status.Name),
	})
}

// watchPieces translates anacrolix/torrent's piece-state-change
// subscription into piece_finished alerts, filtering for the
// not-complete -> complete transition.
func (e *Engine) watchPieces(h *Handle) {
	select {
	case <-h.t.GotInfo():
	case <-h.t.Closed():
		return
	}

	sub := h.t.SubscribePieceStateChanges()
	defer sub.Close()

	seen := make([]bool, h.NumPieces())

	for {
		select {
		case psc, ok := <-sub.Values:
			if !ok {
				return
			}

			if !psc.Complete || psc.Index < 0 || psc.Index >= len(seen) || seen[psc.Index] {
				continue
			}
			seen[psc.Index] = true

			e.postAlert(Alert{
				Kind:       KindPieceFinished,
				InfoHash:   h.hash,
				PieceIndex: psc.Index,
				Message:    fmt.Sprintf("piece %d finished", psc.Index),
			})
		case <-h.t.Closed():
			return
		}
	}
}

// torrent_finished: anacrolix/torrent exposes this as a chansync.Flag
// whose On() channel closes once every wanted piece is complete.
func (e *Engine) watchFinished(h *Handle) {
	select {
	case <-h.t.Complete.On():
	case <-h.t.Closed():
		return
	}

	status := h.Status()

	e.postAlert(Alert{
		Kind:     KindTorrentFinished,
		InfoHash: h.hash,
		Status:   &status,
		Message:  fmt.Sprintf("torrent %s finished", status.Name),
	})
}

func (e *Engine) watchRemoved(h *Handle) {
	<-h.t.Closed()

	e.Forget(h.hash)

	e.postAlert(Alert{
		Kind:     KindTorrentRemoved,
		InfoHash: h.hash,
		Message:  "torrent removed",
	})
}
