package cli

import (
	"context"
	"fmt"

	"github.com/danuwira/engram/internal/config"
	"github.com/danuwira/engram/internal/logger"
	"github.com/danuwira/engram/internal/store"
	"github.com/danuwira/engram/pkg/memory"
)

// app bundles the wired components a command needs
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	runtime *memory.Runtime
}

// newApp is the composition root: config, logger, optional Postgres store,
// then the runtime. A missing or unreachable database is reported and the
// runtime runs on the filesystem fallback.
func newApp(ctx context.Context, watch bool) (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:  level,
		File:   cfg.Logging.File,
		Pretty: cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zl := log.Zerolog()

	var st memory.Store
	if cfg.Database.URL != "" {
		pg, err := store.Open(ctx, store.Config{
			URL:    cfg.Database.URL,
			Schema: cfg.Database.Schema,
		}, zl)
		if err != nil {
			zl.Warn().Err(err).Msg("store unavailable, running on filesystem fallback")
		} else {
			st = pg
		}
	}

	providers := make([]memory.ProviderConfig, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, memory.ProviderConfig{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
		})
	}

	rt, err := memory.New(memory.Config{
		Workspace:          cfg.Workspace,
		Mode:               cfg.Memory.Mode,
		MaxResults:         cfg.Memory.MaxResults,
		MinScore:           cfg.Memory.MinScore,
		VectorWeight:       cfg.Memory.VectorWeight,
		FTSWeight:          cfg.Memory.FTSWeight,
		TranscriptsEnabled: cfg.Memory.TranscriptsEnabled,
		Retention:          cfg.Retention(),
		Watch:              watch && cfg.Memory.Watch,
		Providers:          providers,
	}, st, zl)
	if err != nil {
		if st != nil {
			st.Close()
		}
		log.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, runtime: rt}, nil
}

func (a *app) close() {
	a.runtime.Close()
	a.log.Close()
}
