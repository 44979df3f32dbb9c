// Package catalog holds item presentation metadata used to enrich charts.
package catalog

import (
	"context"
	"sync"

	"github.com/okian/chartsnap/internal/domain/model"
	"github.com/okian/chartsnap/pkg/metrics"
)

// Catalog resolves item ids to metadata.
type Catalog interface {
	Lookup(ctx context.Context, itemID string) (model.ItemMeta, bool, error)
}

// Memory is a Catalog kept in process memory. Replace swaps the whole set
// atomically, so readers never observe a half-loaded catalog.
type Memory struct {
	mu    sync.RWMutex
	items map[string]model.ItemMeta
}

var _ Catalog = (*Memory)(nil)

// NewMemory returns a catalog holding items.
func NewMemory(items ...model.ItemMeta) *Memory {
	m := &Memory{}
	m.Replace(items)
	return m
}

func (m *Memory) Lookup(_ context.Context, itemID string) (model.ItemMeta, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.items[itemID]
	return meta, ok, nil
}

// Replace swaps the catalog contents. Later duplicates win.
func (m *Memory) Replace(items []model.ItemMeta) {
	next := make(map[string]model.ItemMeta, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		next[it.ID] = it
	}
	m.mu.Lock()
	m.items = next
	m.mu.Unlock()
	metrics.UpdateCatalogItems(len(next))
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
