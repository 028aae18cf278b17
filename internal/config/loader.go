package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidTransportNames lists the known transport provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidTransportNames = []string{"openai-realtime"}

// envRef matches ${NAME} references expanded by [LoadFromReader].
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${ENV} references,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	raw = expandEnv(raw)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${NAME} with the value of the environment variable
// NAME. Unset variables expand to the empty string.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transport
	if cfg.Transport.Provider == "" {
		errs = append(errs, errors.New("transport.provider is required"))
	} else if !slices.Contains(ValidTransportNames, cfg.Transport.Provider) {
		slog.Warn("unknown transport provider, may be a typo or third-party provider",
			"name", cfg.Transport.Provider,
			"known", ValidTransportNames,
		)
	}
	if cfg.Transport.APIKey == "" {
		slog.Warn("transport.api_key is empty; calls will fail to connect")
	}
	if v := cfg.Transport.VADThreshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("transport.vad_threshold %.2f is out of range [0, 1]", v))
	}

	// Memory
	switch cfg.Memory.Driver {
	case DriverSQLite:
		if cfg.Memory.Path == "" {
			errs = append(errs, errors.New("memory.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if cfg.Memory.PostgresDSN == "" {
			errs = append(errs, errors.New("memory.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.driver %q is invalid; valid values: sqlite, postgres", cfg.Memory.Driver))
	}
	errs = appendMin(errs, "memory.fact_window", cfg.Memory.FactWindow)
	errs = appendMin(errs, "memory.summary_window", cfg.Memory.SummaryWindow)
	errs = appendMin(errs, "memory.relationship_step_calls", cfg.Memory.RelationshipStepCalls)
	errs = appendPositive(errs, "memory.op_timeout", cfg.Memory.OpTimeout)

	// Personas
	if cfg.Personas.Dir == "" {
		errs = append(errs, errors.New("personas.dir is required"))
	}

	// Call
	errs = appendPositive(errs, "call.segment", cfg.Call.Segment)
	errs = appendPositive(errs, "call.suppress_poll", cfg.Call.SuppressPoll)
	errs = appendPositive(errs, "call.settle_delay", cfg.Call.SettleDelay)
	errs = appendPositive(errs, "call.retry_delay", cfg.Call.RetryDelay)
	errs = appendPositive(errs, "call.connect_timeout", cfg.Call.ConnectTimeout)

	return errors.Join(errs...)
}

func appendMin(errs []error, field string, v int) []error {
	if v < 1 {
		return append(errs, fmt.Errorf("%s must be at least 1, got %d", field, v))
	}
	return errs
}

func appendPositive(errs []error, field string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, fmt.Errorf("%s must be positive, got %s", field, d))
	}
	return errs
}
