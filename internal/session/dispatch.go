package session

import (
	"encoding/json"

	"torrentd/internal/engine"
	"torrentd/internal/events"
	"torrentd/internal/mediainfo"
	"torrentd/internal/store"
)

// drainLoop is the Alert Dispatcher's event-loop goroutine (spec §4.B):
// it wakes on notify() and drains every alert currently queued, in
// order, with no parallelism across alerts.
func (s *Supervisor) drainLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.drainSignal:
			s.drainAlerts()
		}
	}
}

// drainAlerts implements the drain task's three steps (spec §4.B).
func (s *Supervisor) drainAlerts() {
	alerts := s.engine.PopAlerts()
	for _, a := range alerts {
		s.log.Trace().Str("kind", string(a.Kind)).Str("message", a.Message).Msg("alert")
		s.dispatch(a)
	}
}

// dispatch implements spec §4.C's alert-handler table. Unknown kinds are
// ignored (none exist today since engine.Kind is a closed enum, but the
// default case documents the contract).
func (s *Supervisor) dispatch(a engine.Alert) {
	switch a.Kind {
	case engine.KindMetadataReceived:
		s.onMetadataReceived(a)
	case engine.KindPieceFinished:
		s.onPieceFinished(a)
	case engine.KindSaveResumeData:
		s.onSaveResumeData(a)
	case engine.KindSaveResumeDataFailed:
		s.log.Warn().Str("info_hash", a.InfoHash.String()).Err(a.Err).Msg("save_resume_data failed")
	case engine.KindSessionStats:
		s.events.Publish(events.SessionStats, a.Metrics)
	case engine.KindStateUpdate:
		s.events.Publish(events.StateUpdate, a.StatusList)
	case engine.KindStorageMoved:
		s.onStorageMoved(a)
	case engine.KindTorrentChecked:
		s.callbacks.fire(engine.KindTorrentChecked, a.InfoHash)
	case engine.KindTorrentFinished:
		s.onTorrentFinished(a)
	case engine.KindTorrentPaused:
		s.events.Publish(events.TorrentPaused, derefStatus(a.Status))
	case engine.KindTorrentRemoved:
		s.onTorrentRemoved(a)
	case engine.KindTorrentResumed:
		s.events.Publish(events.TorrentResumed, derefStatus(a.Status))
	}
}

func (s *Supervisor) onMetadataReceived(a engine.Alert) {
	t, ok := s.lookup(a.InfoHash)
	if !ok {
		return
	}
	s.engine.SaveResumeData(t.handle, engine.StandardSaveResumeFlags)
}

func (s *Supervisor) onPieceFinished(a engine.Alert) {
	t, ok := s.lookup(a.InfoHash)
	if !ok {
		return
	}

	result := s.mi.OnPieceFinished(t.handle, t.clientData, a.PieceIndex)
	if result.Completed {
		s.events.Publish(events.TorrentMediaInfo, t.handle.Status())
	}
}

func (s *Supervisor) onSaveResumeData(a engine.Alert) {
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

	if err := s.store.UpdateTorrent(s.ctx, rec); err != nil {
		s.log.Error().Err(err).Str("info_hash", a.InfoHash.String()).Msg("failed to persist resume data")
		return
	}
	s.log.Debug().Str("info_hash", a.InfoHash.String()).Msg("resume data saved")
}

func (s *Supervisor) onStorageMoved(a engine.Alert) {
	t, ok := s.lookup(a.InfoHash)
	if ok && t.handle.Status().NeedSaveResume {
		s.engine.SaveResumeData(t.handle, engine.StandardSaveResumeFlags)
	}
	s.events.Publish(events.StorageMoved, derefStatus(a.Status))
}

// onTorrentFinished implements the intended source behavior (session.cpp
// torrent_finished_alert handling): the mediainfo_enabled_staggered flag
// suppresses exactly one finish notification, the one caused by the
// prefetch's own early piece-selection completion, then clears itself so
// every later finish is reported normally.
func (s *Supervisor) onTorrentFinished(a engine.Alert) {
	t, ok := s.lookup(a.InfoHash)
	if !ok || a.Status == nil {
		return
	}

	status := *a.Status
	if t.clientData.MediaInfoEnabledStaggered {
		t.clientData.MediaInfoEnabledStaggered = false
	} else if status.TotalDownload > 0 {
		s.events.Publish(events.TorrentFinished, status)
	}

	if status.NeedSaveResume {
		s.engine.SaveResumeData(t.handle, engine.StandardSaveResumeFlags)
	}
}

func (s *Supervisor) onTorrentRemoved(a engine.Alert) {
	if err := s.store.RemoveTorrent(s.ctx, a.InfoHash); err != nil {
		s.log.Error().Err(err).Str("info_hash", a.InfoHash.String()).Msg("failed to delete torrent record")
	}
	s.forget(a.InfoHash)
	s.events.Publish(events.TorrentRemoved, a.InfoHash)
}

func derefStatus(s *engine.TorrentStatus) engine.TorrentStatus {
	if s == nil {
		return engine.TorrentStatus{}
	}
	return *s
}

func decodeClientData(blob []byte) (*mediainfo.ClientData, error) {
	cd := &mediainfo.ClientData{}
	if len(blob) == 0 {
		return cd, nil
	}
	if err := json.Unmarshal(blob, cd); err != nil {
		return nil, err
	}
	return cd, nil
}

func serializeClientData(cd *mediainfo.ClientData) ([]byte, error) {
	if cd == nil {
		return nil, nil
	}
	return json.Marshal(cd)
}
