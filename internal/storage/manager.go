package storage

import (
	"context"
	"fmt"
	"sync"

	"taller/internal/config"
	"taller/internal/database"
	"taller/internal/domain"
	"taller/internal/logging"
	"taller/internal/repository"

	"github.com/rs/zerolog"
)

// Manager owns the lifecycle of the local durable store.
// Opening the configured backend is idempotent; when it fails the manager keeps
// working on an in-memory store and reports the failure through InitErr.
type Manager struct {
	storeCfg config.StoreConfig
	redisCfg config.RedisConfig
	logger   *zerolog.Logger

	mu          sync.Mutex
	initialized bool
	initErr     error
	durable     bool
	store       domain.Store
	cache       domain.CacheStore
	sqlite      *database.DB
}

func NewManager(storeCfg config.StoreConfig, redisCfg config.RedisConfig, logger *zerolog.Logger) *Manager {
	l := logging.Component(logger, "storage")
	return &Manager{
		storeCfg: storeCfg,
		redisCfg: redisCfg,
		logger:   l,
	}
}

// InitOfflineDB opens the configured backend once. Later calls return the first result.
// A non-nil error means the store is running without durability, not that it is unusable.
func (m *Manager) InitOfflineDB(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return m.initErr
	}
	m.initialized = true

	store, err := m.open(ctx)
	if err != nil {
		m.initErr = fmt.Errorf("open %s store: %w", m.storeCfg.Driver, err)
		m.logger.Error().Err(m.initErr).Msg("Offline store unavailable, continuing without durability")
		mem := repository.NewMemoryStore()
		m.store = mem
		m.cache = mem
		m.durable = false
		return m.initErr
	}

	m.store = store
	if m.durable {
		m.cache = repository.NewFailoverCacheStore(store, repository.NewMemoryStore(), m.logger)
	} else {
		m.cache = store
	}

	m.logger.Info().Str("driver", m.storeCfg.Driver).Bool("durable", m.durable).Msg("Offline store initialized")
	return nil
}

func (m *Manager) open(ctx context.Context) (domain.Store, error) {
	switch m.storeCfg.Driver {
	case config.DriverSQLite, "":
		db, err := database.NewDB(m.storeCfg.Path, m.logger)
		if err != nil {
			return nil, err
		}
		m.sqlite = db
		m.durable = true
		return db, nil

	case config.DriverRedis:
		client := repository.NewRedisClient(m.redisCfg)
		if err := repository.Ping(ctx, client); err != nil {
			client.Close()
			return nil, err
		}
		m.durable = true
		return repository.NewRedisStore(client, m.redisCfg.KeyPrefix), nil

	case config.DriverMemory:
		m.durable = false
		return repository.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", m.storeCfg.Driver)
	}
}

// Initialized reports whether InitOfflineDB has run.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Queue returns the active queue store, or nil before InitOfflineDB.
func (m *Manager) Queue() domain.QueueStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.store
}

// Cache returns the active entity cache, or nil before InitOfflineDB.
func (m *Manager) Cache() domain.CacheStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache
}

// Durable reports whether queued entries survive a restart.
func (m *Manager) Durable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durable
}

// InitErr is the cause of a failed initialization, if any.
func (m *Manager) InitErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initErr
}

// SQLite returns the sqlite backend when it is the active one.
func (m *Manager) SQLite() *database.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sqlite
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	m.cache = nil
	m.sqlite = nil
	return err
}
