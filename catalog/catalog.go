// Package catalog interns process and domain identities.
//
// The sampler and ingest paths resolve identities on every tick, so both
// catalogs keep an in-memory map in front of the database upsert. Identity
// rows are append-mostly; the cache never needs invalidation, only growth.
package catalog

import (
	"context"
	"sync"

	"netmonitor/store"
)

type appKey struct {
	processName string
	bundleID    string
}

// AppCatalog maps (process name, bundle id) pairs to stable app ids.
type AppCatalog struct {
	store *store.Store

	mu  sync.Mutex
	ids map[appKey]int64
}

// NewAppCatalog returns an empty catalog backed by st.
func NewAppCatalog(st *store.Store) *AppCatalog {
	return &AppCatalog{store: st, ids: make(map[appKey]int64)}
}

// Intern returns the stable id for the identity, inserting it on first
// sighting. Repeated calls with the same identity hit the cache and skip the
// database entirely, so last_seen is advanced by the sample writer instead.
func (c *AppCatalog) Intern(ctx context.Context, processName, bundleID string, now int64) (int64, error) {
	k := appKey{processName, bundleID}

	c.mu.Lock()
	id, ok := c.ids[k]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.store.UpsertApplication(ctx, processName, bundleID, now)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.ids[k] = id
	c.mu.Unlock()
	return id, nil
}

// DomainCatalog maps normalized fqdns to stable domain ids.
type DomainCatalog struct {
	store *store.Store

	mu  sync.Mutex
	ids map[string]int64
}

// NewDomainCatalog returns an empty catalog backed by st.
func NewDomainCatalog(st *store.Store) *DomainCatalog {
	return &DomainCatalog{store: st, ids: make(map[string]int64)}
}

// Intern normalizes raw, derives its parent domain, and returns the stable
// domain id, inserting on first sighting.
func (c *DomainCatalog) Intern(ctx context.Context, raw string, now int64) (int64, error) {
	fqdn, err := Normalize(raw)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	id, ok := c.ids[fqdn]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err = c.store.UpsertDomain(ctx, fqdn, Parent(fqdn), now)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.ids[fqdn] = id
	c.mu.Unlock()
	return id, nil
}
