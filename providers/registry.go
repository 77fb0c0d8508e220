package providers

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"canvasflow/health"
	"canvasflow/models"
)

var ErrProviderNotFound = errors.New("provider not found")

// Registry holds the configured provider adapters keyed by provider id.
// Config-owned entries are reconciled by SyncFromConfig; adapters registered
// directly survive syncs unless the config claims their id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	configs  map[string]models.ProviderConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		configs:  make(map[string]models.ProviderConfig),
	}
}

// Register installs an adapter under the given id, replacing any existing
// one.
func (r *Registry) Register(id string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = adapter
}

// Get returns the adapter for a provider id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return adapter, nil
}

// Remove drops an adapter.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
	delete(r.configs, id)
}

// IDs returns the registered provider ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// SyncFromConfig reconciles the registry against a providers file: enabled
// entries get an HTTP adapter, disabled entries are skipped, and previously
// config-owned ids missing from the file are dropped.
func (r *Registry) SyncFromConfig(file *models.ProvidersFile) {
	if file == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, cfg := range file.Providers {
		if cfg.ID == "" {
			log.Printf("⚠️ [PROVIDERS] Skipping provider entry with no id (name: %q)", cfg.Name)
			continue
		}
		seen[cfg.ID] = true
		if !cfg.Enabled {
			if _, owned := r.configs[cfg.ID]; owned {
				delete(r.adapters, cfg.ID)
				delete(r.configs, cfg.ID)
				log.Printf("🗑️ [PROVIDERS] Provider '%s' disabled, removed", cfg.ID)
			}
			continue
		}
		if prev, ok := r.configs[cfg.ID]; ok && prev == cfg {
			continue // unchanged, keep the adapter and its model cache
		}
		r.adapters[cfg.ID] = NewHTTPAdapter(cfg)
		r.configs[cfg.ID] = cfg
		log.Printf("🔌 [PROVIDERS] Registered provider '%s' (%s)", cfg.Name, cfg.ID)
	}

	for id := range r.configs {
		if !seen[id] {
			delete(r.adapters, id)
			delete(r.configs, id)
			log.Printf("🗑️ [PROVIDERS] Provider '%s' removed from config, dropped", id)
		}
	}
}

// Healthy returns the first registered provider the tracker considers
// usable for the capability, in id order. A nil tracker accepts any
// provider.
func (r *Registry) Healthy(tracker *health.Tracker, c health.Capability) (string, Adapter, error) {
	for _, id := range r.IDs() {
		if tracker != nil && !tracker.IsHealthy(id, c) {
			continue
		}
		adapter, err := r.Get(id)
		if err != nil {
			continue
		}
		return id, adapter, nil
	}
	return "", nil, fmt.Errorf("no healthy provider for capability %s", c)
}
