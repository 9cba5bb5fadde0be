// Package memgw is an in-process storage.Gateway, used for local
// development and by the bulk of this repository's test suite. It
// mirrors the locking discipline of dexidp/dex's storage/memory package:
// a single mutex guarding a handful of maps, with every exported method
// a short atomic critical section.
package memgw

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lumenid/issuer/storage"
)

type row struct {
	data      json.RawMessage
	expiresAt time.Time // zero value means no expiry
}

// Gateway is an in-memory storage.Gateway. The zero value is not usable;
// construct with New.
type Gateway struct {
	mu       sync.Mutex
	tables   map[string]map[string]row
	counters map[string]map[string]int64
	now      func() time.Time
}

var _ storage.Gateway = (*Gateway)(nil)

// New returns an empty in-memory gateway. now defaults to time.Now if nil
// (tests may supply a deterministic clock).
func New(now func() time.Time) *Gateway {
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		tables:   make(map[string]map[string]row),
		counters: make(map[string]map[string]int64),
		now:      now,
	}
}

func (g *Gateway) table(name string) map[string]row {
	t, ok := g.tables[name]
	if !ok {
		t = make(map[string]row)
		g.tables[name] = t
	}
	return t
}

func (g *Gateway) expired(r row) bool {
	return !r.expiresAt.IsZero() && !g.now().Before(r.expiresAt)
}

func (g *Gateway) Get(_ context.Context, table, key string, dest any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.table(table)[key]
	if !ok || g.expired(r) {
		return storage.ErrNotFound
	}
	return json.Unmarshal(r.data, dest)
}

func (g *Gateway) Upsert(_ context.Context, table, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.table(table)[key] = row{data: data}
	return nil
}

func (g *Gateway) Insert(ctx context.Context, table, key string, value any) error {
	return g.insert(ctx, table, key, value, 0)
}

func (g *Gateway) TTLInsert(ctx context.Context, table, key string, value any, ttl time.Duration) error {
	return g.insert(ctx, table, key, value, ttl)
}

func (g *Gateway) insert(_ context.Context, table, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.table(table)
	if existing, ok := t[key]; ok && !g.expired(existing) {
		return storage.ErrAlreadyExists
	}
	r := row{data: data}
	if ttl > 0 {
		r.expiresAt = g.now().Add(ttl)
	}
	t[key] = r
	return nil
}

func (g *Gateway) ConsumeOnce(_ context.Context, table, key string, dest any) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.table(table)
	r, ok := t[key]
	if !ok {
		return false, nil
	}
	delete(t, key)
	if g.expired(r) {
		return false, nil
	}
	if err := json.Unmarshal(r.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) Delete(_ context.Context, table, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.table(table), key)
	return nil
}

func (g *Gateway) Incr(_ context.Context, table, key, window string, by int64) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bucketKey := table + "|" + key
	counters, ok := g.counters[bucketKey]
	if !ok {
		counters = make(map[string]int64)
		g.counters[bucketKey] = counters
	}
	counters[window] += by
	return counters[window], nil
}

// Sweep deletes every expired row across all tables and returns the
// number removed, grouped by table. It is the in-memory analogue of
// dexidp/dex's GarbageCollect: the DynamoDB gateway relies on native
// item TTL instead and implements this as a no-op.
func (g *Gateway) Sweep(_ context.Context) map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	result := make(map[string]int)
	for tableName, t := range g.tables {
		for key, r := range t {
			if g.expired(r) {
				delete(t, key)
				result[tableName]++
			}
		}
	}
	return result
}

// GarbageCollect adapts Sweep to the server.Sweeper interface.
func (g *Gateway) GarbageCollect(ctx context.Context) (map[string]int, error) {
	return g.Sweep(ctx), nil
}

func (g *Gateway) Close() error { return nil }
