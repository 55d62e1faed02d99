package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rendis/jobflow/internal/actions"
	"github.com/rendis/jobflow/internal/catalog"
	"github.com/rendis/jobflow/internal/deciders"
	"github.com/rendis/jobflow/internal/engine"
	"github.com/rendis/jobflow/internal/expressions"
	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/samples"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/internal/streaming"
)

// app is the wired process: one repository and event hub, and a catalog
// plus launcher that are rebuilt when definitions are reloaded.
type app struct {
	cfg    Config
	logger *slog.Logger
	level  *slog.LevelVar
	repo   store.Store
	hub    *streaming.MemoryHub
	engine *engine.Engine

	mu       sync.Mutex // guards catalog and launcher
	catalog  *catalog.Catalog
	launcher *engine.Launcher
}

func newLogger(level string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(level))
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return slog.New(logging.NewCorrelationHandler(h)), lv
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger, level := newLogger(cfg.LogLevel)

	repo, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	hub := streaming.NewMemoryHub()
	a := &app{
		cfg:    cfg,
		logger: logger,
		level:  level,
		repo:   repo,
		hub:    hub,
		engine: engine.NewEngine(repo, engine.WithEventHub(hub), engine.WithLogger(logger)),
	}
	if err := a.reloadJobs(cfg); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	var (
		repo store.Store
		err  error
	)
	switch cfg.Store {
	case storeMemory:
		repo = store.NewMemoryStore()
	case storeLibSQL:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		repo, err = store.NewLibSQLStore("file:" + cfg.DBPath)
	case storeBadger:
		repo, err = store.NewBadgerStore(cfg.DBPath, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Store, err)
	}
	logger.Info("step repository ready", "store", cfg.Store, "path", cfg.DBPath)
	return repo, nil
}

// newCatalog builds an empty catalog over the built-in actions and deciders.
func newCatalog(logger *slog.Logger) (*catalog.Catalog, error) {
	reg := actions.NewRegistry()
	if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{Output: os.Stdout, Logger: logger}); err != nil {
		return nil, err
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return nil, err
	}
	return catalog.New(catalog.Config{
		Actions:  reg,
		Deciders: deciders.NewRegistry(deciders.DefaultSource, engines),
		Engines:  engines,
		Logger:   logger,
	})
}

// loadDefinitions fills a new catalog with the samples and the jobs dir.
func loadDefinitions(cfg Config, logger *slog.Logger) (*catalog.Catalog, error) {
	c, err := newCatalog(logger)
	if err != nil {
		return nil, err
	}
	if cfg.Samples {
		if _, err := samples.Load(c); err != nil {
			return nil, fmt.Errorf("load samples: %w", err)
		}
	}
	if cfg.JobsDir != "" {
		if _, err := c.LoadDir(cfg.JobsDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return c, nil
}

// reloadJobs builds a fresh catalog and launcher from cfg. The previous
// launcher, if any, drains its queued launches in the background.
func (a *app) reloadJobs(cfg Config) error {
	c, err := loadDefinitions(cfg, a.logger)
	if err != nil {
		return err
	}
	l := engine.NewLauncher(a.engine, a.repo, engine.LauncherConfig{
		PoolSize:  cfg.PoolSize,
		Validator: c.Validator(),
		Logger:    a.logger,
	})
	if err := l.Register(c.Jobs()...); err != nil {
		l.Shutdown()
		return err
	}

	a.mu.Lock()
	old := a.launcher
	a.catalog, a.launcher = c, l
	a.mu.Unlock()
	if old != nil {
		go old.Shutdown()
	}
	a.logger.Info("jobs loaded", "count", len(l.Jobs()))
	return nil
}

func (a *app) close() {
	a.mu.Lock()
	l := a.launcher
	a.mu.Unlock()
	if l != nil {
		l.Shutdown()
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Error("close store", logging.Err(err))
	}
}
