package engine

import "torrentd/internal/torrentid"

// Kind enumerates the alert kinds the core dispatches on (spec §4.B/§4.C).
// github.com/anacrolix/torrent has no native alert queue; this whole
// package is the adapter that synthesizes one from the library's
// channel- and subscription-based API, named after the libtorrent
// vocabulary the spec was written against.
type Kind string

const (
	KindMetadataReceived     Kind = "metadata_received"
	KindPieceFinished        Kind = "piece_finished"
	KindSaveResumeData       Kind = "save_resume_data"
	KindSaveResumeDataFailed Kind = "save_resume_data_failed"
	KindSessionStats         Kind = "session_stats"
	KindStateUpdate          Kind = "state_update"
	KindStorageMoved         Kind = "storage_moved"
	KindTorrentChecked       Kind = "torrent_checked"
	KindTorrentFinished      Kind = "torrent_finished"
	KindTorrentPaused        Kind = "torrent_paused"
	KindTorrentRemoved       Kind = "torrent_removed"
	KindTorrentResumed       Kind = "torrent_resumed"
)

// Alert is the sum type popped off the queue. Only the fields relevant
// to Kind are populated; the rest are zero. This mirrors libtorrent's
// alert_cast pattern without needing a cast - callers switch on Kind.
type Alert struct {
	Kind    Kind
	Message string // for trace logging (§4.B step 2)

	InfoHash torrentid.Hash // zero if the alert is not torrent-scoped

	Status     *TorrentStatus  // metadata_received, torrent_{finished,paused,resumed}, storage_moved
	StatusList []TorrentStatus // state_update
	Resume     *ResumeParams   // save_resume_data
	Err        error           // save_resume_data_failed
	PieceIndex int             // piece_finished
	Metrics    map[string]int64 // session_stats
}
