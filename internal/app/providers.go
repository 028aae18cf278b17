package app

import (
	"context"

	"github.com/MrWong99/kindred/internal/config"
	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/memory/postgres"
	"github.com/MrWong99/kindred/pkg/memory/sqlite"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
	oais2s "github.com/MrWong99/kindred/pkg/provider/s2s/openai"
)

// RegisterBuiltins registers the transports and memory drivers that ship
// with Kindred.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterTransport("openai-realtime", func(tc config.TransportConfig) (s2s.Provider, error) {
		var opts []oais2s.Option
		if tc.Model != "" {
			opts = append(opts, oais2s.WithModel(tc.Model))
		}
		if tc.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(tc.BaseURL))
		}
		return oais2s.New(tc.APIKey, opts...), nil
	})

	reg.RegisterMemory(config.DriverSQLite, func(ctx context.Context, mc config.MemoryConfig) (memory.Store, error) {
		return sqlite.Open(ctx, mc.Path)
	})
	reg.RegisterMemory(config.DriverPostgres, func(ctx context.Context, mc config.MemoryConfig) (memory.Store, error) {
		return postgres.NewStore(ctx, mc.PostgresDSN)
	})
}
