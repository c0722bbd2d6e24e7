package engine

import "torrentd/internal/torrentid"

// PiecePriority mirrors the handful of priority levels the core cares
// about, mapped onto github.com/anacrolix/torrent's own PiecePriority
// scale by the adapter in handle.go. Named after the libtorrent
// vocabulary the spec uses (dont_download / default / top) rather than
// anacrolix's (None / Normal / Now) so callers read naturally against
// SPEC_FULL §4.D.
type PiecePriority int

const (
	PriorityDontDownload PiecePriority = iota
	PriorityDefault
	PriorityTop
)

// SaveResumeFlags mirrors the flag bundle the spec always passes
// together ({flush_disk_cache, save_info_dict, only_if_modified}); kept
// as a named type rather than three bools because every call site in
// this repo passes the same literal value (StandardSaveResumeFlags).
type SaveResumeFlags struct {
	FlushDiskCache bool
	SaveInfoDict   bool
	OnlyIfModified bool
}

// StandardSaveResumeFlags is the flag bundle named throughout SPEC_FULL
// §4.C/§4.D - every save_resume_data request in the core uses it.
var StandardSaveResumeFlags = SaveResumeFlags{
	FlushDiskCache: true,
	SaveInfoDict:   true,
	OnlyIfModified: true,
}

// Flags captures the two torrent flags Recheck needs to snapshot and
// restore (spec §4.C).
type Flags struct {
	AutoManaged bool
	Paused      bool
}

// FileInfo describes one file inside a torrent, enough for the
// Media-info Prefetcher's piece-window accumulation (§4.D).
type FileInfo struct {
	Index           int
	Path            string
	Size            int64
	BeginPieceIndex int
	EndPieceIndex   int // exclusive
}

// TorrentStatus is a point-in-time snapshot of a torrent handle's state,
// the payload type for most published events (§6).
type TorrentStatus struct {
	InfoHash       torrentid.Hash
	Name           string
	SavePath       string
	QueuePosition  int
	HasMetadata    bool
	NeedSaveResume bool
	TotalDownload  int64
	AutoManaged    bool
	Paused         bool
	NumPieces      int
}

// ResumeParams is the payload carried by save_resume_data alerts
// (save_resume_data_failed carries only Err): the opaque add-params blob plus the handle status fields the
// spec says get upserted alongside it.
type ResumeParams struct {
	InfoHash      torrentid.Hash
	Name          string
	SavePath      string
	QueuePosition int
	Blob          []byte
}

// AddParams is what callers pass to AddTorrent: either a magnet URI or
// raw torrent file bytes, plus the save path and any previously
// persisted opaque resume blob (when re-adding from the store on Load).
type AddParams struct {
	MagnetURI  string
	TorrentRaw []byte
	SavePath   string
	ResumeBlob []byte // opaque; when set, takes precedence over MagnetURI/TorrentRaw
}
