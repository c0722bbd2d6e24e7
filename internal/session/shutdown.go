package session

import (
	"context"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"torrentd/internal/engine"
	"torrentd/internal/store"
)

// Shutdown implements spec §4.C's crash-safe shutdown sequence. It must
// not return until every torrent that needed a resume-data save at the
// time shutdown began has either a persisted up-to-date resume blob or a
// logged failure.
func (s *Supervisor) Shutdown() error {
	// Step 1: replace the notify callback with a no-op. New alerts may
	// still accumulate but no further drain tasks will be posted.
	s.engine.SetAlertNotify(func() {})

	// Step 2: cancel and destroy all timers (and the drain loop, which
	// is superseded by the explicit pop_alerts loop in step 5b below).
	s.cancel()
	s.wg.Wait()

	// Step 3: write SessionParamsFile (DHT state only).
	// Written to a temp file and renamed into place, so a crash mid-write
	// never leaves a truncated params file behind.
	blob := s.engine.SessionState()
	tmp := s.cfg.ConfigPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		s.log.Error().Err(err).Msg("failed to write session params file")
	} else if err := os.Rename(tmp, s.cfg.ConfigPath); err != nil {
		s.log.Error().Err(err).Msg("failed to write session params file")
	}

	// Step 4: pause the engine.
	s.engine.Pause()

	// Step 5: partition active torrents into chunks and save resume data.
	chunkSize := s.cfg.ShutdownChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	s.mu.RLock()
	all := make([]*tracked, 0, len(s.torrents))
	for _, t := range s.torrents {
		all = append(all, t)
	}
	s.mu.RUnlock()

	for start := 0; start < len(all); start += chunkSize {
		end := start + chunkSize
		if end > len(all) {
			end = len(all)
		}
		s.shutdownChunk(all[start:end])
	}

	s.log.Info().Int("torrents", len(all)).Msg("shutdown complete")
	return nil
}

// shutdownChunk implements spec §4.C step 5a/5b for one chunk of
// torrents. Step 5a's per-torrent checks are independent, so they fan
// out concurrently via errgroup, grounded on the teacher's
// Manager.Close (parallel torrent drop joined with errgroup.Group).
func (s *Supervisor) shutdownChunk(chunk []*tracked) {
	var requested int64

	var g errgroup.Group
	for _, t := range chunk {
		t := t
		g.Go(func() error {
			if !t.handle.IsValid() {
				return nil
			}
			status := t.handle.Status()
			if !status.HasMetadata || !status.NeedSaveResume {
				return nil
			}
			s.engine.SaveResumeData(t.handle, engine.StandardSaveResumeFlags)
			atomic.AddInt64(&requested, 1)
			return nil
		})
	}
	_ = g.Wait()

	outstanding := int(requested)

	for outstanding > 0 {
		s.engine.WaitForAlert(s.cfg.ShutdownAlertTimeout)
		alerts := s.engine.PopAlerts()

		for _, a := range alerts {
			switch a.Kind {
			case engine.KindTorrentPaused:
				// ignored during shutdown
			case engine.KindSaveResumeDataFailed:
				s.log.Error().Str("info_hash", a.InfoHash.String()).Err(a.Err).Msg("save_resume_data failed during shutdown")
				outstanding--
			case engine.KindSaveResumeData:
				outstanding--
				s.persistShutdownResume(a)
			}
		}
	}
}

func (s *Supervisor) persistShutdownResume(a engine.Alert) {
	if a.Resume == nil {
		return
	}

	t, ok := s.lookup(a.InfoHash)
	var blob []byte
	if ok {
		blob, _ = serializeClientData(t.clientData)
	}

	rec := store.TorrentRecord{
		InfoHash:       a.Resume.InfoHash,
		Name:           a.Resume.Name,
		SavePath:       a.Resume.SavePath,
		QueuePosition:  a.Resume.QueuePosition,
		ResumeBlob:     a.Resume.Blob,
		ClientDataBlob: blob,
	}
	// s.ctx is already cancelled by step 2; persistence during shutdown
	// uses a fresh background context so it can still complete.
	if err := s.store.UpdateTorrent(context.Background(), rec); err != nil {
		s.log.Error().Err(err).Str("info_hash", a.InfoHash.String()).Msg("failed to persist resume data during shutdown")
	}
}
