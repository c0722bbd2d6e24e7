// Package torrentid implements the dual-hash (BitTorrent v1/v2) torrent
// identity used as the primary key across the store and the in-memory
// session maps.
package torrentid

import (
	"encoding/hex"
	"errors"
)

// ErrEmpty is returned by Parse when neither hash component is present.
var ErrEmpty = errors.New("torrentid: info hash has no v1 or v2 component")

// Hash is a torrent's dual-hash identity. Either component may be absent
// (HasV1/HasV2 report false) for a torrent that only has one flavor of
// hash, but at least one must be present for a valid Hash.
type Hash struct {
	V1 [20]byte // SHA-1; meaningful only when HasV1 is true
	V2 [32]byte // SHA-256; meaningful only when HasV2 is true

	hasV1 bool
	hasV2 bool
}

// NewV1 builds a Hash carrying only a v1 (SHA-1) component.
func NewV1(sum [20]byte) Hash {
	return Hash{V1: sum, hasV1: true}
}

// NewV2 builds a Hash carrying only a v2 (SHA-256) component.
func NewV2(sum [32]byte) Hash {
	return Hash{V2: sum, hasV2: true}
}

// NewHybrid builds a Hash carrying both components.
func NewHybrid(v1 [20]byte, v2 [32]byte) Hash {
	return Hash{V1: v1, hasV1: true, V2: v2, hasV2: true}
}

// HasV1 reports whether the v1 component is present.
func (h Hash) HasV1() bool { return h.hasV1 }

// HasV2 reports whether the v2 component is present.
func (h Hash) HasV2() bool { return h.hasV2 }

// IsZero reports whether h carries neither component.
func (h Hash) IsZero() bool { return !h.hasV1 && !h.hasV2 }

// Equal reports whether h and other identify the same torrent. Per spec,
// two InfoHashes are equal iff any present hash member matches - this is
// deliberately not full struct equality, since a hybrid torrent's info
// hash must compare equal to a v1-only or v2-only reference to the same
// content.
func (h Hash) Equal(other Hash) bool {
	if h.hasV1 && other.hasV1 && h.V1 == other.V1 {
		return true
	}
	if h.hasV2 && other.hasV2 && h.V2 == other.V2 {
		return true
	}
	return false
}

// Key returns a value suitable for use as a map key: the v1 component
// when present, else the v2 component. A hybrid and a v1-only Hash with
// the same v1 component share a key; a v2-only Hash never shares a key
// with a hybrid, even when the two are Equal.
//
// Because Equal is not transitive in the general case (a v1-only hash and
// a v2-only hash can each be Equal to the same hybrid without being Equal
// to each other), a plain comparable Go value cannot represent this
// relation exactly. In practice the session only ever holds hashes that
// originated from a single engine per torrent, so within one process a
// hybrid's v1 and v2 components are never used to key two conflicting
// entries; Key prefers the v1 component when present for stability with
// pre-v2 records, falling back to v2.
func (h Hash) Key() string {
	if h.hasV1 {
		return "1:" + hex.EncodeToString(h.V1[:])
	}
	if h.hasV2 {
		return "2:" + hex.EncodeToString(h.V2[:])
	}
	return ""
}

// String renders the hash for logging: prefers v1, falls back to v2, or
// "<none>" if both are absent.
func (h Hash) String() string {
	switch {
	case h.hasV1:
		return hex.EncodeToString(h.V1[:])
	case h.hasV2:
		return hex.EncodeToString(h.V2[:])
	default:
		return "<none>"
	}
}

// Parse decodes a hash previously rendered by String back into a Hash
// (Key's prefixed form is not accepted).
// It accepts a bare v1-length (40 hex chars) or v2-length (64 hex chars)
// string, as persisted in the store's info_hash column.
func Parse(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}

	switch len(raw) {
	case 20:
		var v1 [20]byte
		copy(v1[:], raw)
		return NewV1(v1), nil
	case 32:
		var v2 [32]byte
		copy(v2[:], raw)
		return NewV2(v2), nil
	default:
		return Hash{}, ErrEmpty
	}
}
