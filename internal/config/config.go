// Package config loads the daemon's configuration (SPEC_FULL §10
// "Configuration"). Grounded on the teacher's internal/config/config.go
// (viper, mapstructure tags, SetDefault calls), extended with this
// spec's timer, mediainfo, and resume-chunking fields.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon's full configuration surface.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	DataDir      string `mapstructure:"data_dir"`
	StorePath    string `mapstructure:"store_path"`
	ConfigPath   string `mapstructure:"config_path"`
	WorkflowsDir string `mapstructure:"workflows_dir"`

	MaxConnections    int   `mapstructure:"max_connections"`
	DownloadRateLimit int64 `mapstructure:"download_rate_limit"`
	UploadRateLimit   int64 `mapstructure:"upload_rate_limit"`
	NoDHT             bool  `mapstructure:"no_dht"`
	Seed              bool  `mapstructure:"seed"`

	// Periodic timer intervals (SPEC_FULL §4.C step 6). Zero disables
	// the corresponding timer.
	DHTStatsInterval      time.Duration `mapstructure:"dht_stats_interval"`
	SessionStatsInterval  time.Duration `mapstructure:"session_stats_interval"`
	TorrentUpdatesInterval time.Duration `mapstructure:"torrent_updates_interval"`

	// Shutdown chunking (SPEC_FULL §4.C "Shutdown" step 5).
	ShutdownChunkSize    int           `mapstructure:"shutdown_chunk_size"`
	ShutdownAlertTimeout time.Duration `mapstructure:"shutdown_alert_timeout"`

	// Media-info Prefetcher thresholds (SPEC_FULL §4.D).
	MediaInfoEnabled        bool     `mapstructure:"mediainfo_enabled"`
	MediaInfoMinSize        int64    `mapstructure:"mediainfo_min_size"`
	MediaInfoWantedSize     int64    `mapstructure:"mediainfo_wanted_size"`
	MediaInfoFileExtensions []string `mapstructure:"mediainfo_file_extensions"`
	MediaInfoCacheSize      int      `mapstructure:"mediainfo_cache_size"`

	// Engine extensions (SPEC_FULL §4.C step 4); empty means the
	// default trio.
	Extensions []string `mapstructure:"extensions"`

	// Bulk-load throttling (SPEC_FULL §11, "golang.org/x/time/rate").
	LoadRateLimit float64 `mapstructure:"load_rate_limit"`
}

// Load reads config.yaml from the working directory, applies environment
// overrides, and fills in this daemon's defaults for anything unset.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("log_level", "info")
	viper.SetDefault("data_dir", "./data")
	viper.SetDefault("store_path", "./data/torrentd.db")
	viper.SetDefault("config_path", "./data/session-params.json")
	viper.SetDefault("workflows_dir", "./workflows")

	viper.SetDefault("max_connections", 200)
	viper.SetDefault("download_rate_limit", 0)
	viper.SetDefault("upload_rate_limit", 0)
	viper.SetDefault("no_dht", false)
	viper.SetDefault("seed", true)

	viper.SetDefault("dht_stats_interval", "30s")
	viper.SetDefault("session_stats_interval", "5s")
	viper.SetDefault("torrent_updates_interval", "1s")

	viper.SetDefault("shutdown_chunk_size", 1000)
	viper.SetDefault("shutdown_alert_timeout", "10s")

	viper.SetDefault("mediainfo_enabled", true)
	viper.SetDefault("mediainfo_min_size", int64(10*1024*1024))
	viper.SetDefault("mediainfo_wanted_size", int64(2*1024*1024))
	viper.SetDefault("mediainfo_file_extensions", []string{".mp4", ".mkv", ".avi", ".mov"})
	viper.SetDefault("mediainfo_cache_size", 256)

	viper.SetDefault("extensions", []string{})
	viper.SetDefault("load_rate_limit", 50.0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
