package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const sampleConfig = `# cutroom agent configuration.
# Environment variables (CUTROOM_*) override values set here.

# HTTP API port.
port = %d

# debug, info, warn, error
log_level = "%s"

# json, console or auto (console when attached to a terminal)
log_format = "%s"

# Rendered files go here unless an export names another directory.
# exports_dir = "~/Movies/cutroom"

# Binaries; empty means look up on PATH.
# ffmpeg = "/usr/local/bin/ffmpeg"
# ffprobe = "/usr/local/bin/ffprobe"

export_timeout = "%s"
poll_interval = "%s"

# Undo steps kept per project (1-50).
history_size = %d

# Disable the system tray.
headless = false

[encoder]
video_codec = "%s"
preset = "%s"
crf = %d
audio_codec = "%s"
audio_bitrate = "%s"
`

// Sample returns a commented TOML file holding the defaults.
func Sample() string {
	return fmt.Sprintf(sampleConfig,
		DefaultPort, DefaultLogLevel, DefaultLogFormat,
		DefaultExportTimeout, DefaultPollInterval, DefaultHistorySize,
		DefaultVideoCodec, DefaultPreset, DefaultCRF, DefaultAudioCodec, DefaultAudioBitrate,
	)
}

// WriteSample writes Sample to path. An existing file is left untouched.
func WriteSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.WriteString(Sample()); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
