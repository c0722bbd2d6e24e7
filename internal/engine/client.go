package engine

import (
	"time"

	atorrent "github.com/anacrolix/torrent"
	"golang.org/x/time/rate"
)

// ClientOptions configures the wrapped anacrolix/torrent client. Field
// names and defaults mirror the teacher's internal/torrent/client.go and
// internal/config.Config, extended with the options this spec's timers
// and prefetcher need.
type ClientOptions struct {
	DataDir           string
	DownloadRateLimit int64 // bytes/sec, 0 = unlimited
	UploadRateLimit   int64 // bytes/sec, 0 = unlimited
	MaxConnections    int
	NoDHT             bool
	Seed              bool
}

// newClientConfig builds an *atorrent.ClientConfig the way the teacher's
// newTorrentClient does: data directory, rate limiters, connection caps.
func newClientConfig(opts ClientOptions) *atorrent.ClientConfig {
	cfg := atorrent.NewDefaultClientConfig()
	cfg.DataDir = opts.DataDir
	cfg.Seed = opts.Seed
	cfg.NoDHT = opts.NoDHT
	cfg.EstablishedConnsPerTorrent = opts.MaxConnections

	if opts.DownloadRateLimit > 0 {
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(opts.DownloadRateLimit), int(opts.DownloadRateLimit))
	}
	if opts.UploadRateLimit > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(opts.UploadRateLimit), int(opts.UploadRateLimit))
	}

	return cfg
}

// pollInterval is how often recheck-quiescence and piece-state polling
// loops wake up; short enough to feel synchronous at the scale this
// daemon operates at, grounded on the teacher's types.go pollInterval
// constant (50ms).
const pollInterval = 50 * time.Millisecond
