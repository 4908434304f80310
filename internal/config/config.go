// Package config provides configuration management for the cutroom agent.
// Values come from built-in defaults, then an optional TOML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort          = 8797
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultDataDir       = ".cutroom"
	DefaultExportTimeout = 2 * time.Hour
	DefaultHistorySize   = 50
	DefaultPollInterval  = 2 * time.Second

	// Encoder defaults
	DefaultVideoCodec   = "libx264"
	DefaultPreset       = "veryfast"
	DefaultCRF          = 23
	DefaultAudioCodec   = "aac"
	DefaultAudioBitrate = "192k"

	// Environment variable names
	EnvConfigFile    = "CUTROOM_CONFIG"
	EnvPort          = "CUTROOM_PORT"
	EnvLogLevel      = "CUTROOM_LOG_LEVEL"
	EnvLogFormat     = "CUTROOM_LOG_FORMAT"
	EnvDataDir       = "CUTROOM_DATA_DIR"
	EnvFFmpeg        = "CUTROOM_FFMPEG"
	EnvFFprobe       = "CUTROOM_FFPROBE"
	EnvHeadless      = "CUTROOM_HEADLESS"
	EnvHistorySize   = "CUTROOM_HISTORY_SIZE"
	EnvExportTimeout = "CUTROOM_EXPORT_TIMEOUT"
	EnvAuthToken     = "CUTROOM_AUTH_TOKEN"

	// Filenames under the data directory
	DBFilename     = "cutroom.db"
	ConfigFilename = "config.toml"
	LockFilename   = "export.lock"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	ExportsDir() string
	ThumbnailsDir() string
	LockPath() string
	FFmpegPath() string
	FFprobePath() string
	ExportTimeout() time.Duration
	HistorySize() int
	PollInterval() time.Duration
	Headless() bool
	AuthToken() string
	Encoder() EncoderSettings
}

// EncoderSettings are the output codec settings used for exports.
type EncoderSettings struct {
	VideoCodec   string `toml:"video_codec"`
	Preset       string `toml:"preset"`
	CRF          int    `toml:"crf"`
	AudioCodec   string `toml:"audio_codec"`
	AudioBitrate string `toml:"audio_bitrate"`
}

// fileConfig mirrors the TOML file. Zero values leave defaults in place.
type fileConfig struct {
	Port          int             `toml:"port"`
	LogLevel      string          `toml:"log_level"`
	LogFormat     string          `toml:"log_format"`
	DataDir       string          `toml:"data_dir"`
	ExportsDir    string          `toml:"exports_dir"`
	FFmpeg        string          `toml:"ffmpeg"`
	FFprobe       string          `toml:"ffprobe"`
	ExportTimeout string          `toml:"export_timeout"`
	HistorySize   int             `toml:"history_size"`
	PollInterval  string          `toml:"poll_interval"`
	Headless      bool            `toml:"headless"`
	AuthToken     string          `toml:"auth_token"`
	Encoder       EncoderSettings `toml:"encoder"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port          int
	logLevel      string
	logFormat     string
	dataDir       string
	exportsDir    string
	ffmpeg        string
	ffprobe       string
	exportTimeout time.Duration
	historySize   int
	pollInterval  time.Duration
	headless      bool
	authToken     string
	encoder       EncoderSettings
	source        string
}

// New creates a new EnvConfig with defaults, file values and environment
// variable overrides.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		logFormat:     DefaultLogFormat,
		dataDir:       defaultDataDir(),
		exportTimeout: DefaultExportTimeout,
		historySize:   DefaultHistorySize,
		pollInterval:  DefaultPollInterval,
		encoder: EncoderSettings{
			VideoCodec:   DefaultVideoCodec,
			Preset:       DefaultPreset,
			CRF:          DefaultCRF,
			AudioCodec:   DefaultAudioCodec,
			AudioBitrate: DefaultAudioBitrate,
		},
	}

	// The data dir may move the config file, so it is read from the
	// environment first.
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.source = path

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.logFormat, fc.LogFormat)
	if fc.DataDir != "" && os.Getenv(EnvDataDir) == "" {
		c.dataDir = expandHome(fc.DataDir)
	}
	setString(&c.exportsDir, expandHome(fc.ExportsDir))
	setString(&c.ffmpeg, fc.FFmpeg)
	setString(&c.ffprobe, fc.FFprobe)
	if fc.ExportTimeout != "" {
		d, err := time.ParseDuration(fc.ExportTimeout)
		if err != nil {
			return fmt.Errorf("config %s: export_timeout: %w", path, err)
		}
		c.exportTimeout = d
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("config %s: poll_interval: %w", path, err)
		}
		c.pollInterval = d
	}
	if fc.HistorySize != 0 {
		c.historySize = fc.HistorySize
	}
	c.headless = fc.Headless
	setString(&c.authToken, fc.AuthToken)

	setString(&c.encoder.VideoCodec, fc.Encoder.VideoCodec)
	setString(&c.encoder.Preset, fc.Encoder.Preset)
	setString(&c.encoder.AudioCodec, fc.Encoder.AudioCodec)
	setString(&c.encoder.AudioBitrate, fc.Encoder.AudioBitrate)
	if fc.Encoder.CRF != 0 {
		c.encoder.CRF = fc.Encoder.CRF
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.logFormat, os.Getenv(EnvLogFormat))
	setString(&c.ffmpeg, os.Getenv(EnvFFmpeg))
	setString(&c.ffprobe, os.Getenv(EnvFFprobe))
	setString(&c.authToken, os.Getenv(EnvAuthToken))

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = v
	}
	if hs := os.Getenv(EnvHistorySize); hs != "" {
		n, err := strconv.Atoi(hs)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHistorySize, err)
		}
		c.historySize = n
	}
	if et := os.Getenv(EnvExportTimeout); et != "" {
		d, err := time.ParseDuration(et)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportTimeout, err)
		}
		c.exportTimeout = d
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	switch strings.ToLower(c.logFormat) {
	case "json", "console", "auto":
	default:
		return fmt.Errorf("invalid log format %q", c.logFormat)
	}
	if c.exportTimeout <= 0 {
		return fmt.Errorf("invalid export timeout %s", c.exportTimeout)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval %s", c.pollInterval)
	}
	if c.historySize < 1 {
		c.historySize = 1
	}
	if c.historySize > DefaultHistorySize {
		c.historySize = DefaultHistorySize
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns json, console or auto.
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportsDir returns the default directory for rendered files.
func (c *EnvConfig) ExportsDir() string {
	if c.exportsDir != "" {
		return c.exportsDir
	}
	return filepath.Join(c.dataDir, "exports")
}

// ThumbnailsDir returns the directory for generated asset thumbnails.
func (c *EnvConfig) ThumbnailsDir() string {
	return filepath.Join(c.dataDir, "thumbnails")
}

// LockPath returns the export lock file path.
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// FFmpegPath returns the configured ffmpeg binary; empty means PATH lookup.
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

// FFprobePath returns the configured ffprobe binary; empty means PATH lookup.
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) ExportTimeout() time.Duration {
	return c.exportTimeout
}

// HistorySize returns the undo history capacity, within 1..50.
func (c *EnvConfig) HistorySize() int {
	return c.historySize
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// Headless reports whether the tray UI is disabled.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// AuthToken returns a fixed API token; empty means one is generated at start.
func (c *EnvConfig) AuthToken() string {
	return c.authToken
}

func (c *EnvConfig) Encoder() EncoderSettings {
	return c.encoder
}

// Source returns the config file that was loaded, or "".
func (c *EnvConfig) Source() string {
	return c.source
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
