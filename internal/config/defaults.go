package config

const (
	defaultListen                = ":3000"
	defaultFFmpegBinary          = "ffmpeg"
	defaultVersionTimeoutSeconds = 3
	defaultTitleTimeoutSeconds   = 10
	defaultLibraryTimeoutSeconds = 180
	defaultProgressGraceSeconds  = 5
	defaultSessionTTLSeconds     = 3600
	defaultSweepIntervalSeconds  = 60
	defaultAudioBitrate          = "192k"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultHistoryDSN            = "file:tubeflow-history?mode=memory&cache=shared"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Listen: defaultListen,
		},
		Backend: Backend{
			FFmpegPath:            defaultFFmpegBinary,
			VersionTimeoutSeconds: defaultVersionTimeoutSeconds,
			TitleTimeoutSeconds:   defaultTitleTimeoutSeconds,
			LibraryTimeoutSeconds: defaultLibraryTimeoutSeconds,
			LibraryFallback:       true,
		},
		Retention: Retention{
			ProgressGraceSeconds: defaultProgressGraceSeconds,
			SessionTTLSeconds:    defaultSessionTTLSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Audio: Audio{
			Bitrate: defaultAudioBitrate,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		History: History{
			Enabled: true,
			DSN:     defaultHistoryDSN,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}

const sampleConfig = `# tubeflow configuration

[server]
listen = ":3000"
# static_dir = "~/tubeflow/web"   # serve the UI from disk instead of the embedded shell

[paths]
# temp_dir = "/var/tmp/tubeflow"   # defaults to the OS temp directory
# tool_dir = "~/bin"               # extra directory searched for yt-dlp

[backend]
# ytdlp_path = "/usr/local/bin/yt-dlp"
ffmpeg_path = "ffmpeg"
version_timeout_seconds = 3
title_timeout_seconds = 10
library_timeout_seconds = 180
library_fallback = true

[retention]
progress_grace_seconds = 5
session_ttl_seconds = 3600
sweep_interval_seconds = 60

[audio]
bitrate = "192k"

[logging]
level = "info"     # debug, info, warn, error
format = "console" # console or json

[history]
enabled = true
# Point at a file to keep history across restarts, e.g. "file:/var/lib/tubeflow/history.db"
dsn = "file:tubeflow-history?mode=memory&cache=shared"

[metrics]
enabled = true
`
