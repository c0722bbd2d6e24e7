package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"torrentd/internal/torrentid"
)

// ErrDuplicateKey is returned by InsertTorrent when a record with the same
// info hash already exists.
var ErrDuplicateKey = errors.New("store: torrent record already exists")

// TorrentRecord is the persisted form of a torrent's resume state
// (spec §3 TorrentRecord).
type TorrentRecord struct {
	InfoHash       torrentid.Hash
	Name           string
	SavePath       string
	QueuePosition  int
	ResumeBlob     []byte // opaque, engine-produced add-params
	ClientDataBlob []byte // opaque, serialized TorrentClientData
}

// CountTorrents returns the number of persisted torrent records.
func (s *Store) CountTorrents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM torrents").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count torrents: %w", err)
	}
	return n, nil
}

// ForEachTorrent yields every persisted record, in unspecified order. The
// visitor may return an error to abort the walk early.
func (s *Store) ForEachTorrent(ctx context.Context, visit func(TorrentRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT info_hash, name, save_path, queue_position, resume_blob, client_data_blob
		FROM torrents
	`)
	if err != nil {
		return fmt.Errorf("for each torrent: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hashStr  string
			rec      TorrentRecord
			resume   sql.NullString
			clientDb sql.NullString
		)

		if err := rows.Scan(&hashStr, &rec.Name, &rec.SavePath, &rec.QueuePosition, &resume, &clientDb); err != nil {
			return fmt.Errorf("scan torrent row: %w", err)
		}

		hash, err := torrentid.Parse(hashStr)
		if err != nil {
			return fmt.Errorf("parse info hash %q: %w", hashStr, err)
		}
		rec.InfoHash = hash
		if resume.Valid {
			rec.ResumeBlob = []byte(resume.String)
		}
		if clientDb.Valid {
			rec.ClientDataBlob = []byte(clientDb.String)
		}

		if err := visit(rec); err != nil {
			return err
		}
	}

	return rows.Err()
}

// InsertTorrent inserts a new record, failing with ErrDuplicateKey if one
// already exists for rec.InfoHash.
func (s *Store) InsertTorrent(ctx context.Context, rec TorrentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (info_hash, name, save_path, queue_position, resume_blob, client_data_blob)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.InfoHash.String(), rec.Name, rec.SavePath, rec.QueuePosition, rec.ResumeBlob, rec.ClientDataBlob)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert torrent %s: %w", rec.InfoHash, err)
	}
	return nil
}

// UpdateTorrent upserts the resume fields for rec.InfoHash. Per spec, the
// source always issues updates unconditionally, so an absent row is
// created rather than treated as an error (upsert-on-update).
func (s *Store) UpdateTorrent(ctx context.Context, rec TorrentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (info_hash, name, save_path, queue_position, resume_blob, client_data_blob)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(info_hash) DO UPDATE SET
			name = excluded.name,
			save_path = excluded.save_path,
			queue_position = excluded.queue_position,
			resume_blob = excluded.resume_blob,
			client_data_blob = excluded.client_data_blob
	`, rec.InfoHash.String(), rec.Name, rec.SavePath, rec.QueuePosition, rec.ResumeBlob, rec.ClientDataBlob)
	if err != nil {
		return fmt.Errorf("update torrent %s: %w", rec.InfoHash, err)
	}
	return nil
}

// RemoveTorrent deletes the record for hash. Idempotent: removing an
// absent record is not an error.
func (s *Store) RemoveTorrent(ctx context.Context, hash torrentid.Hash) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM torrents WHERE info_hash = ?", hash.String())
	if err != nil {
		return fmt.Errorf("remove torrent %s: %w", hash, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations with this
	// substring in the driver error message; there is no typed sentinel
	// exported for it.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
