package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/casesync/internal/server/models"
)

// Schema is a registered dictionary with its parsed descriptor.
type Schema struct {
	DictionaryID int64
	Name         string
	Label        string
	Content      string
	*Descriptor
}

// FromDictionary parses the stored descriptor of d.
func FromDictionary(d *models.Dictionary) (*Schema, error) {
	desc, err := Parse([]byte(d.Content))
	if err != nil {
		return nil, err
	}
	return &Schema{DictionaryID: d.ID, Name: d.Name, Label: d.Label, Content: d.Content, Descriptor: desc}, nil
}

// Store keeps schemas by dictionary name. Get reports a miss with ok=false.
type Store interface {
	Get(ctx context.Context, name string) (s *Schema, ok bool, err error)
	Set(ctx context.Context, s *Schema, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}

// LoadFunc reads a dictionary from the database.
type LoadFunc func(ctx context.Context, name string) (*models.Dictionary, error)

// Cache is the schema cache service. Dictionary mutations must call
// Invalidate.
type Cache struct {
	store Store
	load  LoadFunc
	ttl   time.Duration
}

func NewCache(store Store, load LoadFunc, ttl time.Duration) *Cache {
	return &Cache{store: store, load: load, ttl: ttl}
}

// Get returns the schema of name, loading and caching it on a miss. A
// failing store degrades to loading every time. Load errors (including
// common.ErrorNotFound) are returned as is.
func (c *Cache) Get(ctx context.Context, name string) (*Schema, error) {
	if s, ok, err := c.store.Get(ctx, name); err == nil && ok {
		return s, nil
	}

	d, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}
	s, err := FromDictionary(d)
	if err != nil {
		return nil, fmt.Errorf("stored dictionary %s: %w", name, err)
	}
	_ = c.store.Set(ctx, s, c.ttl)
	return s, nil
}

func (c *Cache) Invalidate(ctx context.Context, name string) error {
	return c.store.Delete(ctx, name)
}

type memEntry struct {
	schema  *Schema
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memEntry{}, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, name string) (*Schema, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, name)
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.schema, true, nil
}

func (m *MemoryStore) Set(_ context.Context, s *Schema, ttl time.Duration) error {
	if s == nil {
		return errors.New("nil schema")
	}
	e := memEntry{schema: s}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[s.Name] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.entries, name)
	m.mu.Unlock()
	return nil
}
