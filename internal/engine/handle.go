package engine

import (
	"sync"

	atorrent "github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/types"

	"torrentd/internal/torrentid"
)

// Handle is a thread-safe reference to a single live torrent, the Go
// analogue of libtorrent's torrent_handle (spec §6). The bookkeeping
// fields here (autoManaged, paused, needSaveResume, userdata) exist
// because anacrolix/torrent has no equivalent concept; the adapter owns
// them instead.
type Handle struct {
	t      *atorrent.Torrent
	hash   torrentid.Hash
	engine *Engine

	mu             sync.Mutex
	savePath       string
	autoManaged    bool
	paused         bool
	needSaveResume bool
	valid          bool
	userdata       any
}

// InfoHash returns the handle's dual-hash identity.
func (h *Handle) InfoHash() torrentid.Hash { return h.hash }

// IsValid reports whether the handle still refers to a live torrent.
func (h *Handle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid
}

// Userdata returns the opaque per-torrent client data attached by the
// Session Supervisor (spec §6 "userdata"). Callers type-assert to the
// concrete TorrentClientData type they attached.
func (h *Handle) Userdata() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userdata
}

// SetUserdata attaches opaque per-torrent client data.
func (h *Handle) SetUserdata(v any) {
	h.mu.Lock()
	h.userdata = v
	h.mu.Unlock()
}

// Flags returns the currently tracked auto_managed/paused flags.
func (h *Handle) Flags() Flags {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Flags{AutoManaged: h.autoManaged, Paused: h.paused}
}

// SetFlags sets the flags named in f to true; flags not named are
// untouched.
func (h *Handle) SetFlags(f Flags) {
	h.mu.Lock()
	if f.AutoManaged {
		h.autoManaged = true
	}
	if f.Paused {
		h.paused = true
	}
	h.mu.Unlock()
}

// UnsetFlags clears the flags named in f to false; flags not named are
// untouched.
func (h *Handle) UnsetFlags(f Flags) {
	h.mu.Lock()
	if f.AutoManaged {
		h.autoManaged = false
	}
	if f.Paused {
		h.paused = false
	}
	h.mu.Unlock()
}

// Status snapshots the handle's current state (spec §6 "status").
func (h *Handle) Status() TorrentStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := h.t.Info()
	hasMetadata := info != nil

	status := TorrentStatus{
		InfoHash:       h.hash,
		Name:           h.t.Name(),
		SavePath:       h.savePath,
		QueuePosition:  0,
		HasMetadata:    hasMetadata,
		NeedSaveResume: h.needSaveResume,
		AutoManaged:    h.autoManaged,
		Paused:         h.paused,
	}

	if hasMetadata {
		status.NumPieces = h.t.NumPieces()
	}

	stats := h.t.Stats()
	status.TotalDownload = stats.BytesReadUsefulData.Int64()

	return status
}

// Files returns the per-file layout, used by the Media-info Prefetcher.
// Returns nil if metadata has not arrived yet.
func (h *Handle) Files() []FileInfo {
	info := h.t.Info()
	if info == nil {
		return nil
	}

	files := h.t.Files()
	out := make([]FileInfo, len(files))
	for i, f := range files {
		out[i] = FileInfo{
			Index:           i,
			Path:            f.Path(),
			Size:            f.Length(),
			BeginPieceIndex: f.BeginPieceIndex(),
			EndPieceIndex:   f.EndPieceIndex(),
		}
	}
	return out
}

// NumPieces returns the torrent's total piece count, or 0 if metadata
// has not arrived.
func (h *Handle) NumPieces() int {
	if h.t.Info() == nil {
		return 0
	}
	return h.t.NumPieces()
}

// PieceSize returns the length of piece i.
func (h *Handle) PieceSize(i int) int64 {
	return h.t.Piece(i).Info().Length()
}

func toAnacrolixPriority(p PiecePriority) types.PiecePriority {
	switch p {
	case PriorityDontDownload:
		return atorrent.PiecePriorityNone
	case PriorityTop:
		return atorrent.PiecePriorityNow
	default:
		return atorrent.PiecePriorityNormal
	}
}

// PrioritizePieces applies priority to every piece named by indices,
// leaving all others untouched (spec §4.D composes this with a prior
// full-dont_download pass to emulate libtorrent's vector-based API).
func (h *Handle) PrioritizePieces(indices []int, priority PiecePriority) {
	p := toAnacrolixPriority(priority)
	for _, idx := range indices {
		h.t.Piece(idx).SetPriority(p)
	}
	h.markDirty()
}

// PrioritizeAllPieces sets every piece in the torrent to priority.
func (h *Handle) PrioritizeAllPieces(priority PiecePriority) {
	n := h.NumPieces()
	p := toAnacrolixPriority(priority)
	for i := 0; i < n; i++ {
		h.t.Piece(i).SetPriority(p)
	}
	h.markDirty()
}

// GetPiecePriorities returns the current priority of every piece, in the
// vocabulary of PiecePriority (coarsened from anacrolix's finer scale).
func (h *Handle) GetPiecePriorities() []PiecePriority {
	n := h.NumPieces()
	out := make([]PiecePriority, n)
	for i := 0; i < n; i++ {
		switch h.t.Piece(i).State().Priority {
		case atorrent.PiecePriorityNone:
			out[i] = PriorityDontDownload
		case atorrent.PiecePriorityNormal:
			out[i] = PriorityDefault
		default:
			out[i] = PriorityTop
		}
	}
	return out
}

// Pause stops the torrent from requesting further data. anacrolix/torrent
// has no first-class pause concept; the adapter models it by cancelling
// all outstanding piece requests, mirroring the teacher's
// PauseTorrent/ResumeTorrent pairing in torrent_operations.go.
func (h *Handle) Pause() {
	h.t.CancelPieces(0, h.NumPieces())
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
	h.markDirty()

	if h.engine != nil {
		status := h.Status()
		h.engine.postAlert(Alert{Kind: KindTorrentPaused, InfoHash: h.hash, Status: &status})
	}
}

// Resume re-requests all pieces that are not yet complete.
func (h *Handle) Resume() {
	h.t.DownloadAll()
	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
	h.markDirty()

	if h.engine != nil {
		status := h.Status()
		h.engine.postAlert(Alert{Kind: KindTorrentResumed, InfoHash: h.hash, Status: &status})
	}
}

// SetSavePath records the directory the torrent's files are stored
// under, so subsequent Status() snapshots report it.
func (h *Handle) SetSavePath(path string) {
	h.mu.Lock()
	h.savePath = path
	h.mu.Unlock()
}

func (h *Handle) markDirty() {
	h.mu.Lock()
	h.needSaveResume = true
	h.mu.Unlock()
}

func (h *Handle) clearDirty() {
	h.mu.Lock()
	h.needSaveResume = false
	h.mu.Unlock()
}
