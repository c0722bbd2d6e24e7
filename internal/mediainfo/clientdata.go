// Package mediainfo implements the Media-info Prefetcher (SPEC_FULL
// §4.D): the state machine that prioritizes the head pieces of selected
// media files just enough to extract container metadata, then restores
// normal piece priorities.
package mediainfo

// ClientData is the per-torrent auxiliary state not owned by the engine
// (spec §3 TorrentClientData). It is attached to an engine.Handle's
// Userdata and persisted via TorrentRecord.client_data_blob.
type ClientData struct {
	MediaInfo                 *Container     `json:"media_info,omitempty"`
	MediaInfoEnabled          bool           `json:"mediainfo_enabled,omitempty"`
	MediaInfoEnabledStaggered bool           `json:"mediainfo_enabled_staggered,omitempty"`
	PiecesWanted              map[int][]int  `json:"pieces_wanted,omitempty"`   // file index -> piece indices
	PiecesCompleted           map[int][]int  `json:"pieces_completed,omitempty"` // file index -> completed piece indices
}

// Container is the result of parsing a media file's head bytes.
type Container struct {
	Format          string  `json:"format"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

func (c *ClientData) wantedSet(file int) map[int]struct{} {
	return toSet(c.PiecesWanted[file])
}

func (c *ClientData) completedSet(file int) map[int]struct{} {
	return toSet(c.PiecesCompleted[file])
}

func toSet(s []int) map[int]struct{} {
	out := make(map[int]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

func fromSet(s map[int]struct{}) []int {
	out := make([]int, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	return out
}
