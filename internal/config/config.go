// Package config provides the configuration schema, loader, and provider registry
// for the Kindred call engine.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MemoryDriver selects the memory backend.
type MemoryDriver string

const (
	// DriverSQLite stores memory in an embedded SQLite file.
	DriverSQLite MemoryDriver = "sqlite"

	// DriverPostgres stores memory in a PostgreSQL database.
	DriverPostgres MemoryDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d MemoryDriver) IsValid() bool {
	return d == DriverSQLite || d == DriverPostgres
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":9090"
	DefaultTransportProvider  = "openai-realtime"
	DefaultTranscriptionModel = "whisper-1"
	DefaultVADThreshold       = 0.5
	DefaultSQLitePath         = "kindred.db"
	DefaultFactWindow         = 10
	DefaultSummaryWindow      = 5
	DefaultRelationshipStep   = 5
	DefaultMemoryOpTimeout    = 2 * time.Second
	DefaultPersonasDir        = "personas"
	DefaultSegment            = 200 * time.Millisecond
	DefaultSuppressPoll       = 100 * time.Millisecond
	DefaultSettleDelay        = 800 * time.Millisecond
	DefaultRetryDelay         = 250 * time.Millisecond
	DefaultConnectTimeout     = 15 * time.Second
)

// Config is the root configuration structure for Kindred.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Memory    MemoryConfig    `yaml:"memory"`
	Personas  PersonasConfig  `yaml:"personas"`
	Call      CallConfig      `yaml:"call"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics endpoint
	// (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig selects and configures the speech-to-speech transport.
type TransportConfig struct {
	// Provider selects the registered transport implementation
	// (e.g., "openai-realtime").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the provider. Use ${ENV_VAR} to keep it
	// out of the file.
	APIKey string `yaml:"api_key"`

	// Model selects the realtime model. Empty uses the provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's websocket endpoint.
	BaseURL string `yaml:"base_url"`

	// Voice is used for personas that do not name one.
	Voice string `yaml:"voice"`

	// VADThreshold is the server-side voice activity threshold in (0,1].
	VADThreshold float64 `yaml:"vad_threshold"`

	// TranscriptionModel transcribes the user's speech.
	TranscriptionModel string `yaml:"transcription_model"`
}

// MemoryConfig configures the companion memory store.
type MemoryConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver MemoryDriver `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// PostgresDSN is the PostgreSQL connection string.
	PostgresDSN string `yaml:"postgres_dsn"`

	// FactWindow is how many recent facts go into the prompt.
	FactWindow int `yaml:"fact_window"`

	// SummaryWindow is how many recent call summaries go into the prompt.
	SummaryWindow int `yaml:"summary_window"`

	// RelationshipStepCalls is how many completed calls raise the
	// relationship level by one.
	RelationshipStepCalls int `yaml:"relationship_step_calls"`

	// OpTimeout bounds every single store operation.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// PersonasConfig locates the companion persona files.
type PersonasConfig struct {
	// Dir holds one YAML file per companion.
	Dir string `yaml:"dir"`

	// Watch reloads the directory when files change.
	Watch bool `yaml:"watch"`
}

// CallConfig tunes the call pipelines.
type CallConfig struct {
	Segment        time.Duration `yaml:"segment"`
	SuppressPoll   time.Duration `yaml:"suppress_poll"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Tools offers the remember tool to the model.
	Tools bool `yaml:"tools"`

	// PlaybackDir holds transient playback files. Empty uses the system
	// temp directory.
	PlaybackDir string `yaml:"playback_dir"`
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Transport.Provider, DefaultTransportProvider)
	setDefault(&cfg.Transport.TranscriptionModel, DefaultTranscriptionModel)
	setDefault(&cfg.Transport.VADThreshold, DefaultVADThreshold)

	setDefault(&cfg.Memory.Driver, DriverSQLite)
	if cfg.Memory.Driver == DriverSQLite {
		setDefault(&cfg.Memory.Path, DefaultSQLitePath)
	}
	setDefault(&cfg.Memory.FactWindow, DefaultFactWindow)
	setDefault(&cfg.Memory.SummaryWindow, DefaultSummaryWindow)
	setDefault(&cfg.Memory.RelationshipStepCalls, DefaultRelationshipStep)
	setDefault(&cfg.Memory.OpTimeout, DefaultMemoryOpTimeout)

	setDefault(&cfg.Personas.Dir, DefaultPersonasDir)

	setDefault(&cfg.Call.Segment, DefaultSegment)
	setDefault(&cfg.Call.SuppressPoll, DefaultSuppressPoll)
	setDefault(&cfg.Call.SettleDelay, DefaultSettleDelay)
	setDefault(&cfg.Call.RetryDelay, DefaultRetryDelay)
	setDefault(&cfg.Call.ConnectTimeout, DefaultConnectTimeout)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}
