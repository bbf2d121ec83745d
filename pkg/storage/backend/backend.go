// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides the media object stores segments reference.
// All stores implement types.BlobStore.
package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/LeeDigitalWorks/tams/pkg/types"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[types.StorageType]Factory)
)

// Factory creates a BlobStore from config
type Factory func(cfg types.BackendConfig) (types.BlobStore, error)

// Register adds a factory for a storage type
func Register(t types.StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a BlobStore from config
func New(cfg types.BackendConfig) (types.BlobStore, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return f(cfg)
}

// Manager tracks the configured stores by storage id. The first store added
// is the default, used for objects with no recorded storage ids.
type Manager struct {
	mu        sync.RWMutex
	backends  map[string]types.BlobStore
	defaultID string
}

func NewManager() *Manager {
	return &Manager{
		backends: make(map[string]types.BlobStore),
	}
}

// Add creates and registers a store, replacing any store with the same id
func (m *Manager) Add(id string, cfg types.BackendConfig) error {
	store, err := New(cfg)
	if err != nil {
		return fmt.Errorf("create backend %s: %w", id, err)
	}
	m.Put(id, store)
	return nil
}

// Put registers an already constructed store.
func (m *Manager) Put(id string, store types.BlobStore) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.backends[id]; exists {
		old.Close()
	}
	m.backends[id] = store
	if m.defaultID == "" {
		m.defaultID = id
	}
}

func (m *Manager) Get(id string) (types.BlobStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[id]
	return b, ok
}

// Default returns the default store and its id.
func (m *Manager) Default() (string, types.BlobStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[m.defaultID]
	return m.defaultID, b, ok
}

// Remove closes and removes a store
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.backends[id]; ok {
		b.Close()
		delete(m.backends, id)
	}
	if m.defaultID == id {
		m.defaultID = ""
	}
	return nil
}

// List returns all store ids, sorted
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.backends {
		b.Close()
	}
	m.backends = make(map[string]types.BlobStore)
	m.defaultID = ""
	return nil
}
