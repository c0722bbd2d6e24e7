package mediainfo

import (
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"torrentd/internal/engine"
)

// Config is the daemon-wide media-info prefetch configuration named in
// spec §4.D.
type Config struct {
	Enabled        bool
	FileExtensions map[string]struct{} // e.g. {".mp4": {}, ".mkv": {}}
	MinSize        int64
	WantedSize     int64
}

// Prefetcher runs the setup/piece-finished state machine and caches
// parsed containers so a file whose metadata was already extracted isn't
// re-parsed if queried again, adapted from the teacher's
// internal/storage.FileStore LRU usage (there: cached stream segments;
// here: cached parse results).
type Prefetcher struct {
	cfg   Config
	cache *lru.Cache
	log   zerolog.Logger
}

// Handle is the subset of *engine.Handle the prefetch state machine
// needs, kept as an interface so it can be driven by a fake in tests
// without standing up a real BitTorrent client.
type Handle interface {
	Files() []engine.FileInfo
	PieceSize(i int) int64
	PrioritizeAllPieces(priority engine.PiecePriority)
	PrioritizePieces(indices []int, priority engine.PiecePriority)
	Status() engine.TorrentStatus
	Userdata() any
}

// New builds a Prefetcher. cacheSize bounds the number of cached parsed
// containers.
func New(cfg Config, cacheSize int, log zerolog.Logger) (*Prefetcher, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Prefetcher{cfg: cfg, cache: cache, log: log}, nil
}

// Enabled reports whether the daemon-wide prefetch feature is on.
func (p *Prefetcher) Enabled() bool { return p.cfg.Enabled }

// Setup runs the §4.D "Setup on AddTorrent" algorithm against h, mutating
// cd in place and applying piece priorities to h. Returns cd for
// convenience (it may be the same pointer passed in).
func (p *Prefetcher) Setup(h Handle, cd *ClientData) *ClientData {
	if !p.cfg.Enabled {
		return cd
	}

	files := h.Files()
	if len(files) == 0 {
		return cd
	}

	var piecePrio []int
	wanted := make(map[int][]int)
	completed := make(map[int][]int)

	for _, f := range files {
		if f.Size < p.cfg.MinSize {
			p.log.Debug().Str("file", f.Path).Msg("skipping file - too small")
			continue
		}

		ext := strings.ToLower(filepath.Ext(f.Path))
		if _, ok := p.cfg.FileExtensions[ext]; !ok {
			continue
		}

		var (
			askedSize  int64
			filePieces []int
		)

		piece := f.BeginPieceIndex
		for askedSize < p.cfg.WantedSize && piece < f.EndPieceIndex {
			askedSize += h.PieceSize(piece)
			piecePrio = append(piecePrio, piece)
			filePieces = append(filePieces, piece)
			piece++
		}

		wanted[f.Index] = filePieces
		completed[f.Index] = nil
	}

	if len(piecePrio) == 0 {
		return cd
	}

	h.PrioritizeAllPieces(engine.PriorityDontDownload)
	h.PrioritizePieces(piecePrio, engine.PriorityTop)

	cd.PiecesWanted = wanted
	cd.PiecesCompleted = completed
	cd.MediaInfoEnabled = true

	p.log.Info().Int("pieces", len(piecePrio)).Msg("prioritizing pieces for media-info prefetch")

	return cd
}

// Result is returned by OnPieceFinished describing what happened, so the
// Session Supervisor can publish torrent-mediainfo and restore priorities
// (both side effects live in the caller since they touch the event bus
// and engine handle, which this package intentionally does not own).
type Result struct {
	// Completed is true exactly once: when every file's wanted set has
	// been fully downloaded and priorities should be restored.
	Completed bool
}

// OnPieceFinished advances the prefetch state machine for one completed
// piece (spec §4.D "On each piece_finished"). cd is mutated in place.
func (p *Prefetcher) OnPieceFinished(h Handle, cd *ClientData, pieceIndex int) Result {
	if cd.PiecesWanted == nil || !cd.MediaInfoEnabled {
		return Result{}
	}

	for file, wantedSlice := range cd.PiecesWanted {
		wantedSet := toSet(wantedSlice)
		if len(wantedSet) == 0 {
			continue
		}

		completedSet := cd.completedSet(file)

		if _, ok := wantedSet[pieceIndex]; ok {
			completedSet[pieceIndex] = struct{}{}
		}

		if len(completedSet) == len(wantedSet) {
			p.extract(h, file)
			completedSet = map[int]struct{}{}
			wantedSet = map[int]struct{}{}
		}

		cd.PiecesCompleted[file] = fromSet(completedSet)
		cd.PiecesWanted[file] = fromSet(wantedSet)
	}

	allDone := true
	for _, wanted := range cd.PiecesWanted {
		if len(wanted) > 0 {
			allDone = false
			break
		}
	}

	if !allDone {
		return Result{}
	}

	h.PrioritizeAllPieces(engine.PriorityDefault)

	cd.PiecesCompleted = nil
	cd.PiecesWanted = nil
	cd.MediaInfoEnabled = false
	cd.MediaInfoEnabledStaggered = true

	return Result{Completed: true}
}

func (p *Prefetcher) extract(h Handle, fileIndex int) {
	files := h.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return
	}

	status := h.Status()
	path := filepath.Join(status.SavePath, files[fileIndex].Path)

	if c, ok := p.cache.Get(path); ok {
		container := c.(*Container)
		p.attach(h, container)
		return
	}

	container, err := ParseHead(path)
	if err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("failed to parse media-info head")
		return
	}

	p.cache.Add(path, container)
	p.attach(h, container)
}

func (p *Prefetcher) attach(h Handle, c *Container) {
	if cd, ok := h.Userdata().(*ClientData); ok && cd != nil {
		cd.MediaInfo = c
	}
}
