// Package app assembles the service from configuration with a dig
// container.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/dig"

	"docfill/internal/api"
	"docfill/internal/config"
	"docfill/internal/conversation"
	"docfill/internal/extract"
	"docfill/internal/logger"
	"docfill/internal/redis"
	"docfill/internal/service/ai"
	"docfill/internal/storage"
	"docfill/internal/store"
	"docfill/internal/worker"
)

// App holds the long-lived components of a running service.
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     store.Store
	Workers   *worker.Manager
	Driver    *conversation.Driver
	Processor *extract.Processor
	Cleaner   *extract.Cleaner
	Router    *gin.Engine

	cache *store.CachedStore
	redis *redis.Client
}

type storeOut struct {
	dig.Out

	Store store.Store
	Cache *store.CachedStore
	Redis *redis.Client
}

type appIn struct {
	dig.In

	Config    *config.Config
	Log       *logger.Logger
	Store     store.Store
	Cache     *store.CachedStore
	Redis     *redis.Client
	Workers   *worker.Manager
	Driver    *conversation.Driver
	Processor *extract.Processor
	Cleaner   *extract.Cleaner
	Router    *gin.Engine
}

// New builds every component described by cfg.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BasicConfig.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	c := dig.New()
	providers := []any{
		func() *config.Config { return cfg },
		func() *logger.Logger { return log },
		provideStore,
		provideWorkers,
		provideAI,
		provideDriver,
		provideProcessor,
		provideCleaner,
		provideHandler,
		provideRouter,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("provide dependency: %w", err)
		}
	}

	var app *App
	if err := c.Invoke(func(in appIn) {
		app = &App{
			Config:    in.Config,
			Log:       in.Log,
			Store:     in.Store,
			Workers:   in.Workers,
			Driver:    in.Driver,
			Processor: in.Processor,
			Cleaner:   in.Cleaner,
			Router:    in.Router,
			cache:     in.Cache,
			redis:     in.Redis,
		}
	}); err != nil {
		return nil, fmt.Errorf("build app: %w", dig.RootCause(err))
	}
	return app, nil
}

// Start runs background work that lives until ctx ends: the upload
// sweeper and, with a redis cache, the subscription that drops the local
// conversation session for documents mutated by other instances.
func (a *App) Start(ctx context.Context) error {
	a.Cleaner.Start(ctx, time.Duration(a.Config.BasicConfig.UploadCleanPeriod)*time.Minute)
	if a.cache == nil {
		return nil
	}
	err := a.cache.Subscribe(ctx, func(documentID string) {
		a.Log.Debug("document changed elsewhere, dropping session", "document_id", documentID)
		a.Driver.Forget(documentID)
	})
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() error {
	a.Processor.Close()
	a.Workers.Stop()
	err := a.Store.Close()
	if a.redis != nil {
		if rerr := a.redis.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func provideStore(cfg *config.Config, log *logger.Logger) (storeOut, error) {
	var (
		out   storeOut
		inner store.Store
	)
	switch kind := strings.ToLower(cfg.BasicConfig.Store); kind {
	case config.StoreMemory:
		inner = store.NewMemoryStore()
	case config.StoreSQLite, "sqlite", config.StoreMySQL:
		if kind == "sqlite" {
			kind = config.StoreSQLite
		}
		db, err := storage.Open(kind, cfg)
		if err != nil {
			return out, fmt.Errorf("open database: %w", err)
		}
		if err := storage.Migrate(db, kind); err != nil {
			db.Close()
			return out, fmt.Errorf("migrate database: %w", err)
		}
		inner = store.NewSQLStore(db)
	default:
		return out, fmt.Errorf("unknown store %q", cfg.BasicConfig.Store)
	}
	log.Info("field store ready", "store", cfg.BasicConfig.Store)

	out.Store = inner
	if !cfg.Redis.Enabled {
		return out, nil
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		inner.Close()
		return out, fmt.Errorf("create redis client: %w", err)
	}
	cached := store.NewCachedStore(inner, client, time.Duration(cfg.Redis.TTLMinutes)*time.Minute, log)
	out.Store, out.Cache, out.Redis = cached, cached, client
	log.Info("redis snapshot cache enabled", "host", cfg.Redis.Host, "ttl_minutes", cfg.Redis.TTLMinutes)
	return out, nil
}

func provideWorkers(cfg *config.Config, log *logger.Logger) *worker.Manager {
	return worker.NewManager(worker.Config{
		QueueSize:   cfg.BasicConfig.WorkerQueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	}, log)
}

// provideAI returns nil when no question provider is configured.
func provideAI(cfg *config.Config, log *logger.Logger) (*ai.Service, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.QuestionProvider))
	if name == "" {
		return nil, nil
	}
	provCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("question provider %s is not configured", name)
	}
	svc, err := ai.NewService(context.Background(), name, provCfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("model-backed questions enabled", "provider", name, "model", provCfg.Model)
	return svc, nil
}

func provideDriver(cfg *config.Config, st store.Store, workers *worker.Manager, svc *ai.Service, log *logger.Logger) *conversation.Driver {
	var questions conversation.Questioner = conversation.TemplateQuestioner{}
	if svc != nil {
		questions = svc
	}
	return conversation.NewDriver(st, workers, questions, log, conversation.Options{
		QuestionTimeout: time.Duration(cfg.BasicConfig.QuestionTimeout) * time.Second,
	})
}

func provideProcessor(cfg *config.Config, st store.Store, svc *ai.Service, log *logger.Logger) (*extract.Processor, error) {
	loader, err := extract.NewFileLoader(context.Background())
	if err != nil {
		return nil, err
	}
	var proposer extract.Proposer
	if svc != nil {
		proposer = svc
	}
	return extract.NewProcessor(st, loader, proposer, cfg.BasicConfig.MaxConcurrentExtractions, log), nil
}

func provideCleaner(cfg *config.Config, st store.Store, log *logger.Logger) *extract.Cleaner {
	return extract.NewCleaner(st, time.Duration(cfg.BasicConfig.UploadRetention)*time.Minute, log)
}

func provideHandler(cfg *config.Config, st store.Store, driver *conversation.Driver, processor *extract.Processor, log *logger.Logger) *api.Handler {
	fileBase := cfg.BasicConfig.FileBaseDir
	if abs, err := filepath.Abs(fileBase); err == nil {
		fileBase = abs
	}
	return api.NewHandler(st, driver, processor, fileBase, cfg.BasicConfig.MaxFileSizeMB<<20, log)
}

func provideRouter(cfg *config.Config, h *api.Handler, log *logger.Logger) *gin.Engine {
	return api.NewRouter(h, cfg.BasicConfig.AllowedOrigins, log)
}
