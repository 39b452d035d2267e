package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/dropzone/internal/config"
	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/JonMunkholm/dropzone/internal/store"
)

// openGateway connects to the database and applies pending migrations.
func openGateway(ctx context.Context, cfg *config.Config) (*store.Gateway, error) {
	gw, err := store.Connect(ctx, storeConfig(cfg.Database))
	if err != nil {
		return nil, err
	}
	if err := gw.Migrate(); err != nil {
		gw.Close()
		return nil, err
	}
	return gw, nil
}

func storeConfig(c config.DatabaseConfig) store.Config {
	return store.Config{
		URL:             c.URL,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
		ConnectAttempts: c.ConnectAttempts,
		ConnectTimeout:  c.ConnectTimeout,
	}
}

func engineConfig(cfg *config.Config) core.EngineConfig {
	return core.EngineConfig{
		BatchSize:        cfg.Ingest.BatchSize,
		SampleLines:      cfg.Ingest.SampleLines,
		PreCount:         cfg.Ingest.PreCount,
		DefaultDelimiter: cfg.Ingest.Delimiter(),
		DefaultHasHeader: cfg.Ingest.DefaultHasHeader,
		BatchTimeout:     cfg.Ingest.BatchTimeout,
		JobTimeout:       cfg.Ingest.JobTimeout,
		Retry: core.RetryPolicy{
			Attempts: cfg.Database.ConnectAttempts,
			Initial:  core.DefaultRetryPolicy.Initial,
			Max:      core.DefaultRetryPolicy.Max,
		},
		ReferenceSchema: cfg.Store.ReferenceSchema,
		DataSchema:      cfg.Store.DataSchema,
		MatchThreshold:  cfg.Store.MatchThreshold,
		ProcessedDir:    cfg.Watch.ProcessedDir,
		ErrorDir:        cfg.Watch.ErrorDir,
		KeepSource:      cfg.Ingest.KeepSource,
	}
}

func layout(c config.WatchConfig) core.Layout {
	return core.Layout{
		ReferenceDir:    c.ReferenceDir,
		NonReferenceDir: c.NonReferenceDir,
		FullloadDir:     c.FullloadDir,
		AppendDir:       c.AppendDir,
		ProcessedDir:    c.ProcessedDir,
		ErrorDir:        c.ErrorDir,
	}
}

func schedulerConfig(cfg *config.Config) core.SchedulerConfig {
	return core.SchedulerConfig{
		Root:               cfg.Watch.Root,
		Layout:             layout(cfg.Watch),
		PollInterval:       cfg.Watch.PollInterval,
		StabilityThreshold: cfg.Watch.StabilityThreshold,
	}
}

// parseTable accepts "schema.table" or a bare table name in defaultSchema.
func parseTable(s, defaultSchema string) (core.TableRef, error) {
	schema, name, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		schema, name = defaultSchema, schema
	}
	if schema == "" || name == "" || strings.Contains(name, ".") {
		return core.TableRef{}, fmt.Errorf("invalid table %q: want schema.table", s)
	}
	return core.TableRef{Schema: schema, Name: name}, nil
}

// parseMode accepts the load mode names used by the folder layout.
func parseMode(s string) (core.LoadMode, error) {
	switch core.LoadMode(strings.ToLower(s)) {
	case core.LoadFull:
		return core.LoadFull, nil
	case core.LoadAppend:
		return core.LoadAppend, nil
	}
	return "", fmt.Errorf("invalid mode %q: want %s or %s", s, core.LoadFull, core.LoadAppend)
}
