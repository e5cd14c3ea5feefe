package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"drainvoice/internal/caching"
	"drainvoice/internal/config"
	"drainvoice/internal/connectivity"
	"drainvoice/internal/handlers"
	"drainvoice/internal/logger"
	"drainvoice/internal/repositories"
	"drainvoice/internal/services"
	"drainvoice/pkg/database"
)

const pingTimeout = 5 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	local   *repositories.SQLiteLocalStore
	remote  repositories.RemoteStore
	cache   caching.CacheService
	tracker *connectivity.Tracker
	engine  *services.SyncEngine
	manager *services.InvoiceManager
	backup  *services.BackupService
	log     zerolog.Logger

	schemaReady bool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.WithComponent("app")}

	if cfg.Remote.DatabaseURL == "" {
		return nil, errors.New("remote.database_url (DATABASE_URL) is required")
	}

	local, err := repositories.OpenLocalStore(ctx, cfg.Local.Path)
	if err != nil {
		a.log.Error().Err(err).Str("path", cfg.Local.Path).Msg("Local store unavailable; running remote-only, offline changes will be rejected")
	} else {
		a.local = local
	}

	pool, err := database.NewPool(ctx, cfg.Remote.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pool = pool

	var remote repositories.RemoteStore = repositories.NewInvoiceRepo(pool, cfg.Remote.CallTimeout)
	if cfg.Cache.Enabled {
		a.cache = caching.NewRedisCacheService(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		remote = repositories.NewCachedRemoteStore(remote, a.cache, cfg.Cache.TTL)
	}
	a.remote = remote

	a.schemaReady = a.ensureRemote(ctx)
	online := cfg.Sync.StartOnline && a.schemaReady
	a.tracker = connectivity.NewTracker(online)

	backoff := services.BackoffPolicy{Base: cfg.Sync.BackoffBase, Max: cfg.Sync.BackoffMax}
	if a.local != nil {
		a.engine = services.NewSyncEngine(a.local, a.remote, a.tracker, backoff)
	}
	a.manager = services.NewInvoiceManager(a.localStore(), a.remote, a.tracker, a.engine, cfg.Remote.PageSize)

	if cfg.Backup.Enabled {
		storage, err := services.NewMinioStorage(cfg.Backup.Endpoint, cfg.Backup.AccessKey, cfg.Backup.SecretKey, cfg.Backup.UseSSL)
		if err != nil {
			a.log.Error().Err(err).Msg("Backup storage unavailable; backups disabled")
		} else {
			a.backup = services.NewBackupService(a.exporter(), storage, cfg.Backup.Bucket)
		}
	}

	a.log.Info().
		Bool("offline_capable", a.local != nil).
		Bool("online", online).
		Bool("cache", a.cache != nil).
		Bool("backup", a.backup != nil).
		Msg("Application wired")

	return a, nil
}

// ensureRemote pings the remote database and creates its schema. It reports
// whether the remote store is reachable.
func (a *app) ensureRemote(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := a.remote.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Remote store unreachable; starting offline")
		return false
	}
	if err := repositories.EnsureSchema(ctx, a.pool); err != nil {
		a.log.Error().Err(err).Msg("Failed to ensure remote schema")
		return false
	}
	return true
}

// watchSchema makes sure the remote schema exists the first time the
// service comes online after starting offline. The tracker calls subscribers
// one after another in registration order and this one runs synchronously,
// so registering it before the sync engine's watcher creates the schema
// before a reconnect pass starts.
func (a *app) watchSchema(ctx context.Context, ready bool) func() {
	var mu sync.Mutex
	return a.tracker.Subscribe(func(event connectivity.Event) {
		if event != connectivity.WentOnline {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !ready {
			ready = a.ensureRemote(ctx)
		}
	})
}

// The accessors below return untyped nils for missing components so that
// interface nil checks downstream hold.

func (a *app) localStore() repositories.LocalStore {
	if a.local == nil {
		return nil
	}
	return a.local
}

func (a *app) exporter() services.Exporter {
	if a.local == nil {
		return nil
	}
	return a.local
}

func (a *app) localPinger() handlers.Pinger {
	if a.local == nil {
		return nil
	}
	return a.local
}

func (a *app) cachePinger() handlers.Pinger {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	database.ClosePool(a.pool)
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close local store")
		}
	}
}
