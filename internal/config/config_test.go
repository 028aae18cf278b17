package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/kindred/internal/config"
	"github.com/MrWong99/kindred/pkg/memory"
	memorymock "github.com/MrWong99/kindred/pkg/memory/mock"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
	s2smock "github.com/MrWong99/kindred/pkg/provider/s2s/mock"
)

const validYAML = `
server:
  log_level: debug
  listen_addr: ":8081"
transport:
  provider: openai-realtime
  api_key: sk-test
  model: gpt-4o-realtime-preview
  voice: echo
  vad_threshold: 0.6
memory:
  driver: postgres
  postgres_dsn: "postgres://localhost/kindred"
  fact_window: 20
personas:
  dir: ./companions
  watch: true
call:
  segment: 250ms
  settle_delay: 1s
  tools: true
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Transport.VADThreshold != 0.6 || cfg.Transport.Voice != "echo" {
		t.Errorf("transport: got %+v", cfg.Transport)
	}
	if cfg.Memory.Driver != config.DriverPostgres || cfg.Memory.FactWindow != 20 {
		t.Errorf("memory: got %+v", cfg.Memory)
	}
	if cfg.Memory.Path != "" {
		t.Errorf("sqlite path defaulted for the postgres driver: %q", cfg.Memory.Path)
	}
	if cfg.Call.Segment != 250*time.Millisecond || cfg.Call.SettleDelay != time.Second || !cfg.Call.Tools {
		t.Errorf("call: got %+v", cfg.Call)
	}
	// Unset fields take their defaults.
	if cfg.Memory.SummaryWindow != config.DefaultSummaryWindow {
		t.Errorf("summary_window: got %d, want %d", cfg.Memory.SummaryWindow, config.DefaultSummaryWindow)
	}
	if cfg.Call.RetryDelay != config.DefaultRetryDelay {
		t.Errorf("retry_delay: got %v, want %v", cfg.Call.RetryDelay, config.DefaultRetryDelay)
	}
	if cfg.Transport.TranscriptionModel != config.DefaultTranscriptionModel {
		t.Errorf("transcription_model: got %q", cfg.Transport.TranscriptionModel)
	}
}

func TestLoadFromReader_EmptyIsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Memory.Driver != config.DriverSQLite || cfg.Memory.Path != config.DefaultSQLitePath {
		t.Errorf("memory defaults: got %+v", cfg.Memory)
	}
	if cfg.Transport.Provider != config.DefaultTransportProvider {
		t.Errorf("transport.provider: got %q", cfg.Transport.Provider)
	}
	if cfg.Call.ConnectTimeout != config.DefaultConnectTimeout {
		t.Errorf("connect_timeout: got %v", cfg.Call.ConnectTimeout)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("server defaults: got %+v", cfg.Server)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("memory:\n  dirver: sqlite\n"))
	if err == nil {
		t.Fatal("expected an error for a misspelled key")
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("KINDRED_TEST_KEY", "sk-from-env")
	cfg, err := config.LoadFromReader(strings.NewReader("transport:\n  api_key: ${KINDRED_TEST_KEY}\n  base_url: ${KINDRED_TEST_UNSET}\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.APIKey != "sk-from-env" {
		t.Errorf("api_key: got %q, want sk-from-env", cfg.Transport.APIKey)
	}
	if cfg.Transport.BaseURL != "" {
		t.Errorf("base_url: got %q, want empty", cfg.Transport.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*config.Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "chatty" },
			wantErr: "server.log_level",
		},
		{
			name:    "vad threshold out of range",
			mutate:  func(c *config.Config) { c.Transport.VADThreshold = 1.5 },
			wantErr: "transport.vad_threshold",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *config.Config) { c.Memory.Driver = "redis" },
			wantErr: "memory.driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *config.Config) { c.Memory.Driver = config.DriverPostgres },
			wantErr: "memory.postgres_dsn",
		},
		{
			name:    "zero fact window",
			mutate:  func(c *config.Config) { c.Memory.FactWindow = 0 },
			wantErr: "memory.fact_window",
		},
		{
			name:    "negative settle delay",
			mutate:  func(c *config.Config) { c.Call.SettleDelay = -time.Second },
			wantErr: "call.settle_delay",
		},
		{
			name:    "no personas dir",
			mutate:  func(c *config.Config) { c.Personas.Dir = "" },
			wantErr: "personas.dir",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Transport: config.TransportConfig{APIKey: "sk"}}
			config.ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.LogLevel = "loud"
	cfg.Memory.Driver = "mongo"
	cfg.Call.Segment = 0

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "memory.driver", "call.segment"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q missing %q", err, want)
		}
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	if config.LogDebug.Level().String() != "DEBUG" || config.LogLevel("").Level().String() != "INFO" {
		t.Error("unexpected slog level mapping")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	if _, err := r.CreateTransport(config.TransportConfig{Provider: "carrier-pigeon"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTransport error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateMemory(context.Background(), config.MemoryConfig{Driver: "redis"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateMemory error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var gotKey string
	r.RegisterTransport("fake", func(c config.TransportConfig) (s2s.Provider, error) {
		gotKey = c.APIKey
		return &s2smock.Provider{}, nil
	})
	r.RegisterMemory(config.DriverSQLite, func(context.Context, config.MemoryConfig) (memory.Store, error) {
		return memorymock.NewStore(), nil
	})

	if _, err := r.CreateTransport(config.TransportConfig{Provider: "fake", APIKey: "sk"}); err != nil {
		t.Fatalf("CreateTransport: %v", err)
	}
	if gotKey != "sk" {
		t.Errorf("factory got api key %q", gotKey)
	}
	if _, err := r.CreateMemory(context.Background(), config.MemoryConfig{Driver: config.DriverSQLite}); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("boom")
	r.RegisterMemory(config.DriverPostgres, func(context.Context, config.MemoryConfig) (memory.Store, error) {
		return nil, boom
	})
	if _, err := r.CreateMemory(context.Background(), config.MemoryConfig{Driver: config.DriverPostgres}); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped boom", err)
	}
}
