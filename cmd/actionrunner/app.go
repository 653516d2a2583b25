package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deixis/actionrunner/internal/config"
	"github.com/deixis/actionrunner/internal/engine"
	"github.com/deixis/actionrunner/internal/logging"
	"github.com/deixis/actionrunner/internal/metrics"
	"github.com/deixis/actionrunner/internal/outputstore"
	"github.com/deixis/actionrunner/internal/pack"
	"github.com/deixis/actionrunner/internal/packconfig"
	"github.com/deixis/actionrunner/internal/report"
	"github.com/deixis/actionrunner/internal/runner"
	"github.com/deixis/actionrunner/internal/runtime"
	"go.uber.org/zap"
)

// datastore is what the CLI needs from a packconfig backend.
type datastore interface {
	packconfig.Datastore
	packconfig.Writer
	Delete(ctx context.Context, pack, key, user string) error
}

// app is the wired set of components a command works with.
type app struct {
	loaded  *config.LoadResult
	logger  *zap.Logger
	packs   *pack.Loader
	engine  *engine.Engine
	reports report.Store
	metrics *metrics.Collector
	store   datastore
	cipher  *packconfig.Cipher
	outputs *outputstore.Store

	closers []func() error
}

// appOptions select optional components.
type appOptions struct {
	// outputs opens the output store even when stream_output is off.
	outputs bool
}

func loadConfig(g *globalFlags) (*config.LoadResult, error) {
	if g.config != "" {
		return config.LoadFile(g.config)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	return config.Load(wd)
}

func newApp(g *globalFlags, opts appOptions) (*app, error) {
	loaded, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config

	logCfg := logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		File:       loaded.Resolve(cfg.Log.File),
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}
	if g.logLevel != "" {
		logCfg.Level = g.logLevel
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &app{loaded: loaded, logger: logger}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })

	if err := a.openDatastore(); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.StreamOutput || opts.outputs {
		if cfg.OutputDriver() == "sqlite" {
			if err := os.MkdirAll(filepath.Dir(loaded.OutputDSN()), 0o755); err != nil {
				a.Close()
				return nil, fmt.Errorf("creating state directory: %w", err)
			}
		}
		store, err := outputstore.Open(cfg.OutputDriver(), loaded.OutputDSN(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.outputs = store
		a.closers = append(a.closers, store.Close)
	}

	packsDir := loaded.PacksDir()
	a.packs = &pack.Loader{Base: packsDir}
	a.reports = report.NewLRUStore(cfg.History(), report.NewDiskStore(loaded.ExecutionsDir()))
	a.metrics = metrics.NewCollector(logger)

	resolver := &packconfig.Resolver{Store: a.store, Logger: logger}
	if a.cipher != nil {
		resolver.Secrets = a.cipher
	}
	a.engine = &engine.Engine{
		Runner: &runner.Runner{
			Workspace:    packsDir,
			DrainTimeout: cfg.DrainTimeout(),
			Logger:       logger,
		},
		Runtime: runtime.VirtualenvProvider{
			Base:    loaded.Resolve(cfg.VirtualenvsBase),
			Python:  cfg.Python,
			Wrapper: loaded.Resolve(cfg.Wrapper),
		},
		Config:         resolver,
		Blacklist:      cfg.EnvBlacklist(),
		APIURL:         cfg.APIURL,
		DefaultTimeout: cfg.Timeout(),
		StreamOutput:   cfg.StreamOutput,
		Reports:        a.reports,
		Metrics:        a.metrics,
		Logger:         logger,
	}
	if a.outputs != nil {
		a.engine.Outputs = a.outputs
	}
	return a, nil
}

func (a *app) openDatastore() error {
	cfg := a.loaded.Config
	switch cfg.DatastoreDriver() {
	case "redis":
		s := packconfig.NewRedisStore(packconfig.RedisConfig{
			Addr:     cfg.Datastore.Addr,
			Password: cfg.Datastore.Password,
			DB:       cfg.Datastore.DB,
			Prefix:   cfg.Datastore.Prefix,
		}, a.logger)
		a.store = s
		a.closers = append(a.closers, s.Close)
	default:
		a.store = packconfig.NewMemoryStore()
	}

	var err error
	switch {
	case cfg.Crypto.Key != "":
		a.cipher, err = packconfig.NewCipherFromHex(cfg.Crypto.Key)
	case cfg.Crypto.Passphrase != "":
		a.cipher, err = packconfig.NewCipherFromPassphrase(cfg.Crypto.Passphrase)
	}
	if err != nil {
		return fmt.Errorf("configuring crypto key: %w", err)
	}
	return nil
}

// Close releases the components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
