package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentd/internal/engine"
	"torrentd/internal/events"
	"torrentd/internal/mediainfo"
	"torrentd/internal/store"
)

// TestOnTorrentFinished_StaggeredFlagSuppressesExactlyOneEvent is the
// regression test for the fix to onTorrentFinished: the flag must
// suppress exactly the one notification it was set for, then clear
// itself so every subsequent finish is reported.
func TestOnTorrentFinished_StaggeredFlagSuppressesExactlyOneEvent(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 1)
	cd := &mediainfo.ClientData{MediaInfoEnabledStaggered: true}
	s.torrents[hash.Key()] = &tracked{handle: &engine.Handle{}, clientData: cd}

	var received []engine.TorrentStatus
	s.events.Subscribe(events.TorrentFinished, func(payload any) {
		received = append(received, payload.(engine.TorrentStatus))
	})

	s.onTorrentFinished(engine.Alert{
		InfoHash: hash,
		Status:   &engine.TorrentStatus{InfoHash: hash, TotalDownload: 100, NeedSaveResume: false},
	})
	assert.Empty(t, received, "the staggered flag must suppress the first finish notification")
	assert.False(t, cd.MediaInfoEnabledStaggered, "the flag must be cleared once it has suppressed one event")

	s.onTorrentFinished(engine.Alert{
		InfoHash: hash,
		Status:   &engine.TorrentStatus{InfoHash: hash, TotalDownload: 200, NeedSaveResume: false},
	})
	require.Len(t, received, 1, "the flag must not suppress any later finish notification")
	assert.Equal(t, int64(200), received[0].TotalDownload)
}

func TestOnTorrentFinished_UnstaggeredWithNoDownloadIsNotPublished(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 1)
	cd := &mediainfo.ClientData{}
	s.torrents[hash.Key()] = &tracked{handle: &engine.Handle{}, clientData: cd}

	var received []engine.TorrentStatus
	s.events.Subscribe(events.TorrentFinished, func(payload any) {
		received = append(received, payload.(engine.TorrentStatus))
	})

	s.onTorrentFinished(engine.Alert{
		InfoHash: hash,
		Status:   &engine.TorrentStatus{InfoHash: hash, TotalDownload: 0, NeedSaveResume: false},
	})
	assert.Empty(t, received)
}

func TestOnTorrentFinished_RequestsResumeDataWhenNeeded(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 1)
	handle := &engine.Handle{}
	s.torrents[hash.Key()] = &tracked{handle: handle, clientData: &mediainfo.ClientData{}}

	s.onTorrentFinished(engine.Alert{
		InfoHash: hash,
		Status:   &engine.TorrentStatus{InfoHash: hash, TotalDownload: 1, NeedSaveResume: true},
	})

	require.Len(t, eng.saveResumeCalls, 1)
	assert.Same(t, handle, eng.saveResumeCalls[0])
}

func TestOnTorrentFinished_IgnoresUntrackedTorrent(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	assert.NotPanics(t, func() {
		s.onTorrentFinished(engine.Alert{
			InfoHash: hashFor(t, 9),
			Status:   &engine.TorrentStatus{TotalDownload: 1},
		})
	})
}

func TestOnMetadataReceived_RequestsResumeSave(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	hash := hashFor(t, 2)
	handle := &engine.Handle{}
	s.torrents[hash.Key()] = &tracked{handle: handle, clientData: &mediainfo.ClientData{}}

	s.onMetadataReceived(engine.Alert{InfoHash: hash})

	require.Len(t, eng.saveResumeCalls, 1)
	assert.Same(t, handle, eng.saveResumeCalls[0])
}

func TestOnSaveResumeData_PersistsRecord(t *testing.T) {
	eng := &fakeEngine{}
	s, st := newFakeSupervisor(t, eng)

	hash := hashFor(t, 3)
	if err := st.InsertTorrent(s.ctx, newTorrentRecord(hash)); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	s.torrents[hash.Key()] = &tracked{handle: &engine.Handle{}, clientData: &mediainfo.ClientData{MediaInfoEnabledStaggered: true}}

	s.onSaveResumeData(engine.Alert{
		InfoHash: hash,
		Resume: &engine.ResumeParams{
			InfoHash: hash,
			Name:     "updated-name",
			SavePath: "/data/updated",
			Blob:     []byte("resume-blob"),
		},
	})

	var got string
	err := st.ForEachTorrent(s.ctx, func(rec store.TorrentRecord) error {
		if rec.InfoHash.Equal(hash) {
			got = rec.Name
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "updated-name", got)
}

func TestOnTorrentRemoved_DeletesRecordAndPublishes(t *testing.T) {
	eng := &fakeEngine{}
	s, st := newFakeSupervisor(t, eng)

	hash := hashFor(t, 4)
	if err := st.InsertTorrent(s.ctx, newTorrentRecord(hash)); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	s.torrents[hash.Key()] = &tracked{handle: &engine.Handle{}, clientData: &mediainfo.ClientData{}}

	var publishedHash any
	s.events.Subscribe(events.TorrentRemoved, func(payload any) { publishedHash = payload })

	s.onTorrentRemoved(engine.Alert{InfoHash: hash})

	_, stillTracked := s.lookup(hash)
	assert.False(t, stillTracked, "torrent must be untracked after removal")
	assert.Equal(t, hash, publishedHash)

	count, err := st.CountTorrents(s.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatch_SessionStatsAndStateUpdatePassThrough(t *testing.T) {
	eng := &fakeEngine{}
	s, _ := newFakeSupervisor(t, eng)

	var stats, state any
	s.events.Subscribe(events.SessionStats, func(payload any) { stats = payload })
	s.events.Subscribe(events.StateUpdate, func(payload any) { state = payload })

	s.dispatch(engine.Alert{Kind: engine.KindSessionStats, Metrics: map[string]int64{"peers": 3}})
	s.dispatch(engine.Alert{Kind: engine.KindStateUpdate, StatusList: []engine.TorrentStatus{{Name: "a"}}})

	require.NotNil(t, stats)
	assert.Equal(t, int64(3), stats.(map[string]int64)["peers"])
	require.NotNil(t, state)
	assert.Len(t, state.([]engine.TorrentStatus), 1)
}
