package vectordb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/compozy/kbchat/pkg/logger"
)

// Manager shares one store per connection signature between the server,
// the background runner and CLI commands living in the same process.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*sharedStoreEntry
	open   func(context.Context, *Config) (Store, error)
}

type sharedStoreEntry struct {
	store Store
	refs  int
}

var defaultManager = NewManager()

// NewManager constructs an empty shared vector store manager.
func NewManager() *Manager {
	return &Manager{stores: make(map[string]*sharedStoreEntry), open: New}
}

// AcquireShared returns a shared vector store instance along with a release function.
func AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	return defaultManager.AcquireShared(ctx, cfg)
}

// AcquireShared returns the cached store for cfg, opening it on first use.
// The store is closed when the last holder releases it.
func (m *Manager) AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, nil, err
	}
	key := signatureKey(cfg)
	m.mu.Lock()
	if entry, ok := m.stores[key]; ok {
		entry.refs++
		m.mu.Unlock()
		return entry.store, m.releaseFunc(key), nil
	}
	m.mu.Unlock()
	store, err := m.open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	if entry, ok := m.stores[key]; ok {
		entry.refs++
		m.mu.Unlock()
		closeRedundantStore(ctx, cfg.Provider, store)
		return entry.store, m.releaseFunc(key), nil
	}
	m.stores[key] = &sharedStoreEntry{store: store, refs: 1}
	m.mu.Unlock()
	return store, m.releaseFunc(key), nil
}

// closeRedundantStore closes a store that lost the race to register.
func closeRedundantStore(ctx context.Context, provider Provider, store Store) {
	if err := store.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("Failed to close redundant vector store", "provider", provider, "error", err)
	}
}

func (m *Manager) releaseFunc(key string) func(context.Context) error {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			m.mu.Lock()
			entry, ok := m.stores[key]
			if !ok {
				m.mu.Unlock()
				return
			}
			entry.refs--
			if entry.refs > 0 {
				m.mu.Unlock()
				return
			}
			delete(m.stores, key)
			m.mu.Unlock()
			err = entry.store.Close(ctx)
		})
		return err
	}
}

func signatureKey(cfg *Config) string {
	const sigSep = "\x1f"
	return strings.Join([]string{
		string(cfg.Provider),
		cfg.DSN,
		cfg.Path,
		cfg.Table,
		cfg.Collection,
		cfg.Index,
		fmt.Sprint(cfg.Dimension),
		fmt.Sprint(cfg.EnsureIndex),
	}, sigSep)
}
