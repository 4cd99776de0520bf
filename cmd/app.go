package cmd

import (
	"context"
	"fmt"

	"headersmanager/api/router/handlers"
	"headersmanager/config"
	"headersmanager/core"
	"headersmanager/database"
	"headersmanager/logger"
	"headersmanager/storage"
)

// application wires storage, the reloader and the consumers together.
type application struct {
	selector *storage.Selector
	table    *core.RuleTable
	reloader *core.Reloader
	identity *core.IdentityCache
	service  *core.ConfigService
	redis    *storage.RedisBackend // nil unless storage.primary is redis
}

var app *application

// primaryBackend opens the synced backend selected by storage.primary.
func primaryBackend(ctx context.Context) (storage.Backend, *storage.RedisBackend, error) {
	cfg := config.AppConfig.Storage
	switch cfg.Primary {
	case config.PrimaryRedis:
		client, err := storage.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		rb := storage.NewRedisBackend(client, cfg.Redis.Namespace, cfg.QuotaBytes)
		return rb, rb, nil
	case config.PrimaryMemory:
		return storage.NewMemoryBackend(storage.AreaSync, cfg.QuotaBytes), nil, nil
	default:
		return database.NewSyncStore(database.DB, cfg.QuotaBytes), nil, nil
	}
}

// loadApplication builds the application on first use.
func loadApplication(ctx context.Context) (*application, error) {
	if app != nil {
		return app, nil
	}
	if database.DB == nil {
		return nil, fmt.Errorf("database is not initialized")
	}

	primary, rb, err := primaryBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening synced storage: %w", err)
	}
	selector := storage.NewSelector(primary, database.NewLocalStore(database.DB),
		storage.WithQuota(config.AppConfig.Storage.QuotaBytes),
		storage.WithThresholdRatio(config.AppConfig.Storage.ThresholdRatio))
	if err := selector.Init(ctx); err != nil {
		logger.Error("Storage selector init: %v", err)
	}

	table := core.NewRuleTable()
	reloader := core.NewReloader(selector, table, nil, config.AppConfig.Reload.SettleDelay)
	identity := core.NewIdentityCache(selector)
	reloader.AddNotifier(identity)
	if rb != nil {
		reloader.AddNotifier(rb)
	}

	app = &application{
		selector: selector,
		table:    table,
		reloader: reloader,
		identity: identity,
		service:  core.NewConfigService(selector, reloader),
		redis:    rb,
	}
	return app, nil
}

func (a *application) handlers() *handlers.Handlers {
	return &handlers.Handlers{Config: a.service, Table: a.table, Identity: a.identity}
}

// run prepares a long-running process: defaults are seeded, storage changes trigger
// reloads, remote changes are followed and the first pass is installed.
func (a *application) run(ctx context.Context) {
	if seeded, err := a.service.SeedDefaults(ctx); err != nil {
		logger.Error("Seeding default configuration failed: %v", err)
	} else if seeded {
		logger.Info("Default configuration stored")
	}

	a.reloader.Watch(a.selector)
	if a.redis != nil {
		go func() {
			if err := a.redis.Listen(ctx); err != nil {
				logger.Error("Redis change listener stopped: %v", err)
			}
		}()
	}

	if err := a.reloader.Reload(ctx); err != nil {
		logger.Error("Initial configuration load failed: %v", err)
	}
}

func closeApplication() {
	if app == nil {
		return
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error("Closing redis client: %v", err)
		}
	}
	app = nil
}
