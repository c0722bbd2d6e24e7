package session

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"torrentd/internal/config"
	"torrentd/internal/engine"
	"torrentd/internal/events"
	"torrentd/internal/mediainfo"
	"torrentd/internal/store"
	"torrentd/internal/torrentid"
)

// newTorrentRecord builds a minimal store.TorrentRecord for hash, enough
// to seed a store before exercising a dispatch handler that updates or
// deletes it.
func newTorrentRecord(hash torrentid.Hash) store.TorrentRecord {
	return store.TorrentRecord{InfoHash: hash, Name: "seed", SavePath: "/data/seed"}
}

// buildTestTorrentBytes assembles the raw bencoded bytes of a minimal
// single-file, single-piece, tracker-less .torrent (an info dict only:
// length/name/piece length/pieces, in the format's required
// lexicographic key order), so Engine.AddTorrent's existing metainfo.Load path
// can parse it into a torrent with metadata immediately present - no
// network round-trip needed to exercise Status()/Files() on a real
// *engine.Handle.
func buildTestTorrentBytes(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	sum := sha1.Sum(content)

	var info bytes.Buffer
	info.WriteString("d")
	writeBencodeString(&info, "length")
	fmt.Fprintf(&info, "i%de", len(content))
	writeBencodeString(&info, "name")
	writeBencodeString(&info, name)
	writeBencodeString(&info, "piece length")
	fmt.Fprintf(&info, "i%de", len(content))
	writeBencodeString(&info, "pieces")
	fmt.Fprintf(&info, "%d:", len(sum))
	info.Write(sum[:])
	info.WriteString("e")

	var top bytes.Buffer
	top.WriteString("d")
	writeBencodeString(&top, "info")
	top.Write(info.Bytes())
	top.WriteString("e")

	return top.Bytes()
}

func writeBencodeString(buf *bytes.Buffer, s string) {
	fmt.Fprintf(buf, "%d:%s", len(s), s)
}

// newRealHandle adds a small local torrent to a throwaway real engine and
// returns the resulting handle. Used wherever a test needs a genuine
// *engine.Handle whose Status()/Files() calls dereference a live
// *atorrent.Torrent rather than a nil one.
func newRealHandle(t *testing.T, savePath string) *engine.Handle {
	t.Helper()

	eng, err := engine.New(engine.ClientOptions{
		DataDir:        savePath,
		MaxConnections: 0,
		NoDHT:          true,
		Seed:           false,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("build local engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	raw := buildTestTorrentBytes(t, "testfile.bin", bytes.Repeat([]byte{0x42}, 16384))
	h, err := eng.AddTorrent(engine.AddParams{TorrentRaw: raw, SavePath: savePath})
	if err != nil {
		t.Fatalf("add local torrent: %v", err)
	}
	return h
}

// fakeEngine implements sessionEngine, recording every call for
// assertions. AddTorrent delegates to a caller-supplied func so tests can
// hand back a real *engine.Handle (obtained via newRealHandle) without
// this fake ever touching a live *atorrent.Client itself.
type fakeEngine struct {
	appliedSettings map[string]string
	addedExtensions []string
	notify          func()

	addTorrentFunc func(engine.AddParams) (*engine.Handle, error)

	saveResumeCalls   []*engine.Handle
	forceRecheckCalls []*engine.Handle
	removeCalls       []*engine.Handle

	sessionStateBlob []byte
	pauseCalls       int

	popAlertsQueue [][]engine.Alert
}

func (f *fakeEngine) ApplySettings(s map[string]string) { f.appliedSettings = s }
func (f *fakeEngine) AddExtension(name string)          { f.addedExtensions = append(f.addedExtensions, name) }
func (f *fakeEngine) SetAlertNotify(fn func())          { f.notify = fn }
func (f *fakeEngine) PostDHTStats()                     {}
func (f *fakeEngine) PostSessionStats()                 {}
func (f *fakeEngine) PostTorrentUpdates()               {}

func (f *fakeEngine) AddTorrent(p engine.AddParams) (*engine.Handle, error) {
	return f.addTorrentFunc(p)
}

func (f *fakeEngine) SaveResumeData(h *engine.Handle, _ engine.SaveResumeFlags) {
	f.saveResumeCalls = append(f.saveResumeCalls, h)
}

func (f *fakeEngine) ForceRecheck(h *engine.Handle) {
	f.forceRecheckCalls = append(f.forceRecheckCalls, h)
}

func (f *fakeEngine) RemoveTorrent(h *engine.Handle, _ bool) {
	f.removeCalls = append(f.removeCalls, h)
}

func (f *fakeEngine) SessionState() []byte { return f.sessionStateBlob }
func (f *fakeEngine) Pause()               { f.pauseCalls++ }

func (f *fakeEngine) WaitForAlert(_ time.Duration) bool { return true }

func (f *fakeEngine) PopAlerts() []engine.Alert {
	if len(f.popAlertsQueue) == 0 {
		return nil
	}
	next := f.popAlertsQueue[0]
	f.popAlertsQueue = f.popAlertsQueue[1:]
	return next
}

// newFakeSupervisor builds a Supervisor by struct literal, bypassing New
// (and so the real engine.New/goroutine startup it performs): the
// Supervisor's own logic (AddTorrent/Recheck/Shutdown/dispatch) is what's
// under test here, not construction.
func newFakeSupervisor(t *testing.T, eng *fakeEngine) (*Supervisor, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	mi, err := mediainfo.New(mediainfo.Config{Enabled: false}, 16, zerolog.Nop())
	if err != nil {
		t.Fatalf("build prefetcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &Supervisor{
		cfg: &config.Config{
			ConfigPath:           t.TempDir() + "/session-params.json",
			ShutdownChunkSize:    1000,
			ShutdownAlertTimeout: 10 * time.Millisecond,
		},
		store:       st,
		engine:      eng,
		events:      events.New(),
		mi:          mi,
		log:         zerolog.Nop(),
		torrents:    make(map[string]*tracked),
		callbacks:   newCallbackRegistry(),
		ctx:         ctx,
		cancel:      cancel,
		drainSignal: make(chan struct{}, 1),
	}, st
}
