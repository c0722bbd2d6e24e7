package mediainfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentd/internal/engine"
)

// fakeHandle is a test-only Handle that never touches a real BitTorrent
// client, driven entirely by in-memory state.
type fakeHandle struct {
	files      []engine.FileInfo
	pieceSize  int64
	savePath   string
	userdata   any
	prioAll    []engine.PiecePriority
	prioCalls  [][2]any // {indices, priority}
}

func (f *fakeHandle) Files() []engine.FileInfo { return f.files }
func (f *fakeHandle) PieceSize(i int) int64    { return f.pieceSize }
func (f *fakeHandle) PrioritizeAllPieces(priority engine.PiecePriority) {
	f.prioAll = append(f.prioAll, priority)
}
func (f *fakeHandle) PrioritizePieces(indices []int, priority engine.PiecePriority) {
	f.prioCalls = append(f.prioCalls, [2]any{indices, priority})
}
func (f *fakeHandle) Status() engine.TorrentStatus {
	return engine.TorrentStatus{SavePath: f.savePath}
}
func (f *fakeHandle) Userdata() any { return f.userdata }

func newPrefetcher(t *testing.T, cfg Config) *Prefetcher {
	t.Helper()
	p, err := New(cfg, 16, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func baseConfig() Config {
	return Config{
		Enabled:        true,
		FileExtensions: map[string]struct{}{".mp4": {}},
		MinSize:        1000,
		WantedSize:     300,
	}
}

func TestSetup_Disabled_ReturnsUnchanged(t *testing.T) {
	p := newPrefetcher(t, Config{Enabled: false})
	h := &fakeHandle{files: []engine.FileInfo{{Index: 0, Path: "a.mp4", Size: 10000}}}

	cd := &ClientData{}
	got := p.Setup(h, cd)

	assert.Same(t, cd, got)
	assert.False(t, cd.MediaInfoEnabled)
	assert.Nil(t, cd.PiecesWanted)
	assert.Empty(t, h.prioAll, "disabled prefetcher must not touch piece priorities")
}

func TestSetup_SkipsFilesBelowMinSize(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	h := &fakeHandle{
		pieceSize: 100,
		files: []engine.FileInfo{
			{Index: 0, Path: "small.mp4", Size: 500, BeginPieceIndex: 0, EndPieceIndex: 5},
		},
	}

	cd := p.Setup(h, &ClientData{})

	assert.False(t, cd.MediaInfoEnabled, "a file below MinSize must not enable prefetch")
	assert.Empty(t, h.prioAll)
}

func TestSetup_SkipsNonMatchingExtensions(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	h := &fakeHandle{
		pieceSize: 100,
		files: []engine.FileInfo{
			{Index: 0, Path: "movie.srt", Size: 10000, BeginPieceIndex: 0, EndPieceIndex: 5},
		},
	}

	cd := p.Setup(h, &ClientData{})

	assert.False(t, cd.MediaInfoEnabled)
	assert.Empty(t, h.prioAll)
}

func TestSetup_AccumulatesPiecesUpToWantedSize(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	h := &fakeHandle{
		pieceSize: 100, // 3 pieces needed to reach WantedSize of 300
		files: []engine.FileInfo{
			{Index: 0, Path: "movie.mp4", Size: 10000, BeginPieceIndex: 10, EndPieceIndex: 20},
		},
	}

	cd := p.Setup(h, &ClientData{})

	require.True(t, cd.MediaInfoEnabled)
	assert.Equal(t, []int{10, 11, 12}, cd.PiecesWanted[0])
	assert.Contains(t, cd.PiecesCompleted, 0)
	assert.Empty(t, cd.PiecesCompleted[0])

	require.Len(t, h.prioAll, 1)
	assert.Equal(t, engine.PriorityDontDownload, h.prioAll[0])
	require.Len(t, h.prioCalls, 1)
	assert.Equal(t, []int{10, 11, 12}, h.prioCalls[0][0])
	assert.Equal(t, engine.PriorityTop, h.prioCalls[0][1])
}

func TestSetup_StopsAtEndPieceIndexEvenIfBelowWantedSize(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	h := &fakeHandle{
		pieceSize: 100,
		files: []engine.FileInfo{
			{Index: 0, Path: "movie.mp4", Size: 10000, BeginPieceIndex: 0, EndPieceIndex: 2},
		},
	}

	cd := p.Setup(h, &ClientData{})

	require.True(t, cd.MediaInfoEnabled)
	assert.Equal(t, []int{0, 1}, cd.PiecesWanted[0])
}

func TestOnPieceFinished_IgnoresWhenNotEnabled(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	h := &fakeHandle{}

	cd := &ClientData{}
	result := p.OnPieceFinished(h, cd, 0)

	assert.False(t, result.Completed)
}

func TestOnPieceFinished_CompletesAndRestoresPriorityWhenAllPiecesSeen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.mp4")
	writeFakeMP4(t, path)

	p := newPrefetcher(t, baseConfig())
	cd := &ClientData{}
	h := &fakeHandle{
		pieceSize: 100,
		savePath:  dir,
		userdata:  cd,
		files: []engine.FileInfo{
			{Index: 0, Path: "movie.mp4", Size: 10000, BeginPieceIndex: 0, EndPieceIndex: 5},
		},
	}

	p.Setup(h, cd)
	require.True(t, cd.MediaInfoEnabled)
	wanted := append([]int(nil), cd.PiecesWanted[0]...)
	require.NotEmpty(t, wanted)

	var last Result
	for _, piece := range wanted {
		last = p.OnPieceFinished(h, cd, piece)
	}

	assert.True(t, last.Completed)
	assert.False(t, cd.MediaInfoEnabled)
	assert.True(t, cd.MediaInfoEnabledStaggered)
	assert.Nil(t, cd.PiecesWanted)
	assert.Nil(t, cd.PiecesCompleted)

	require.Len(t, h.prioAll, 2, "setup's dont_download plus the restore-to-default call")
	assert.Equal(t, engine.PriorityDefault, h.prioAll[len(h.prioAll)-1])

	require.NotNil(t, cd.MediaInfo, "extract must have parsed the file and attached it via Userdata")
	assert.Equal(t, "mp4", cd.MediaInfo.Format)
}

func TestOnPieceFinished_UnrelatedPieceDoesNotAdvance(t *testing.T) {
	p := newPrefetcher(t, baseConfig())
	cd := &ClientData{
		MediaInfoEnabled: true,
		PiecesWanted:     map[int][]int{0: {5, 6, 7}},
		PiecesCompleted:  map[int][]int{0: {}},
	}
	h := &fakeHandle{pieceSize: 100, files: []engine.FileInfo{{Index: 0, Path: "movie.mp4"}}}

	result := p.OnPieceFinished(h, cd, 999)

	assert.False(t, result.Completed)
	assert.True(t, cd.MediaInfoEnabled)
	assert.Empty(t, h.prioAll)
}

func writeFakeMP4(t *testing.T, path string) {
	t.Helper()
	// minimal ftyp box: size(4) + "ftyp" + brand, enough for ParseHead's sniff.
	data := []byte{0, 0, 0, 16, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 0, 0}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
