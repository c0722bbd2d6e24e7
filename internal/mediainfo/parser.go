package mediainfo

import (
	"encoding/binary"
	"fmt"
	"os"
)

// ParseHead reads just enough of path's leading bytes to identify its
// container format. It is the external media-info extraction
// collaborator spec §4.D hands off to once a file's wanted pieces have
// all completed; this repo grounds it as a small local header sniffer
// (a leading MP4 ftyp box, Matroska/WebM EBML header) rather than shelling
// out to a real mediainfo binary, since only the prefetch state
// machine's success/failure contract needs satisfying. Only Format is
// filled in; DurationSeconds is left zero.
func ParseHead(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mediainfo: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("mediainfo: read %s: %w", path, err)
	}
	buf = buf[:n]

	if isEBML(buf) {
		return &Container{Format: "matroska"}, nil
	}

	if format := mp4Format(buf); format != "" {
		return &Container{Format: format}, nil
	}

	return &Container{Format: "unknown"}, nil
}

// isEBML recognizes the Matroska/WebM magic number, the 4-byte EBML
// header ID 0x1A45DFA3.
func isEBML(buf []byte) bool {
	return len(buf) >= 4 &&
		buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3
}

// mp4Format looks for an "ftyp" box within the first bytes, which every
// valid MP4/MOV file starts with: a 4-byte big-endian box size followed
// by the 4-byte ASCII box type.
func mp4Format(buf []byte) string {
	if len(buf) < 12 {
		return ""
	}

	size := binary.BigEndian.Uint32(buf[0:4])
	boxType := string(buf[4:8])

	if boxType != "ftyp" {
		return ""
	}
	if uint64(size) > uint64(len(buf)) {
		// Box size extends past what we read; still a valid ftyp header.
		return "mp4"
	}

	return "mp4"
}
