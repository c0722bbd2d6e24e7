package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentd/internal/engine"
	"torrentd/internal/events"
	"torrentd/internal/store"
)

func TestSupervisor_AddTorrent_PersistsRecordAndTracksHandle(t *testing.T) {
	dir := t.TempDir()
	handle := newRealHandle(t, dir)

	eng := &fakeEngine{addTorrentFunc: func(engine.AddParams) (*engine.Handle, error) {
		return handle, nil
	}}
	s, st := newFakeSupervisor(t, eng)

	var added any
	s.events.Subscribe(events.TorrentAdded, func(payload any) { added = payload })

	hash, err := s.AddTorrent(s.ctx, engine.AddParams{SavePath: dir})
	require.NoError(t, err)
	assert.Equal(t, handle.InfoHash(), hash)

	tr, ok := s.lookup(hash)
	require.True(t, ok, "AddTorrent must track the new handle")
	assert.Same(t, handle, tr.handle)

	count, err := st.CountTorrents(s.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, eng.saveResumeCalls, 1, "AddTorrent must request an initial resume-data save")
	require.NotNil(t, added)
}

func TestSupervisor_AddTorrent_PropagatesEngineError(t *testing.T) {
	eng := &fakeEngine{addTorrentFunc: func(engine.AddParams) (*engine.Handle, error) {
		return nil, assertError{"boom"}
	}}
	s, _ := newFakeSupervisor(t, eng)

	_, err := s.AddTorrent(s.ctx, engine.AddParams{})
	assert.Error(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestSupervisor_Recheck_RestoresAutoManagedFlagAfterCheck(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 5)
	handle := &engine.Handle{}
	handle.SetFlags(engine.Flags{AutoManaged: true})
	s.torrents[hash.Key()] = &tracked{handle: handle}

	require.NoError(t, s.Recheck(hash))

	assert.False(t, handle.Flags().AutoManaged, "Recheck must unset auto_managed before the recheck runs")
	require.Len(t, eng.forceRecheckCalls, 1)
	assert.Same(t, handle, eng.forceRecheckCalls[0])

	s.callbacks.fire(engine.KindTorrentChecked, hash)

	assert.True(t, handle.Flags().AutoManaged, "the torrent_checked callback must restore auto_managed")
}

// TestSupervisor_Recheck_GuardsAgainstTorrentRemovedBeforeCallbackFires is
// the regression test for the fix to Recheck's one-shot callback: it
// must re-check the torrent is still tracked before touching its flags,
// not blindly mutate the handle it captured at Recheck() time.
func TestSupervisor_Recheck_GuardsAgainstTorrentRemovedBeforeCallbackFires(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 6)
	handle := &engine.Handle{}
	handle.SetFlags(engine.Flags{AutoManaged: true})
	s.torrents[hash.Key()] = &tracked{handle: handle}

	require.NoError(t, s.Recheck(hash))
	assert.False(t, handle.Flags().AutoManaged)

	// The torrent is removed before the torrent_checked alert arrives.
	s.forget(hash)

	assert.NotPanics(t, func() {
		s.callbacks.fire(engine.KindTorrentChecked, hash)
	})
	assert.False(t, handle.Flags().AutoManaged, "a removed torrent's handle must not be mutated by a stale callback")
}

func TestSupervisor_Remove_ForwardsToEngine(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 7)
	handle := &engine.Handle{}
	s.torrents[hash.Key()] = &tracked{handle: handle}

	require.NoError(t, s.Remove(hash, true))
	require.Len(t, eng.removeCalls, 1)
	assert.Same(t, handle, eng.removeCalls[0])
}

func TestSupervisor_Remove_UnknownTorrentIsAnError(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	assert.Error(t, s.Remove(hashFor(t, 8), false))
}

func TestSupervisor_Shutdown_PersistsResumeDataForDirtyTorrents(t *testing.T) {
	dir := t.TempDir()
	handle := newRealHandle(t, dir)
	hash := handle.InfoHash()

	eng := &fakeEngine{
		popAlertsQueue: [][]engine.Alert{
			{{
				Kind:     engine.KindSaveResumeData,
				InfoHash: hash,
				Resume: &engine.ResumeParams{
					InfoHash: hash,
					Name:     "shutdown-persisted",
					SavePath: dir,
					Blob:     []byte("resume"),
				},
			}},
		},
	}
	s, st := newFakeSupervisor(t, eng)
	s.torrents[hash.Key()] = &tracked{handle: handle}

	// Shutdown persists with a fresh background context (s.ctx is
	// already cancelled by then), so the read below must use one too.
	if err := st.InsertTorrent(context.Background(), newTorrentRecord(hash)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	require.NoError(t, s.Shutdown())

	assert.Equal(t, 1, eng.pauseCalls)
	require.Len(t, eng.saveResumeCalls, 1, "a handle whose NeedSaveResume is true must be asked to save")

	var got string
	err := st.ForEachTorrent(context.Background(), func(rec store.TorrentRecord) error {
		if rec.InfoHash.Equal(hash) {
			got = rec.Name
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "shutdown-persisted", got)
}
