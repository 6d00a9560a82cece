package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable view of the catalog at one point in time.
type Snapshot struct {
	products []Product
	index    map[string]int
	loadedAt time.Time
}

func newSnapshot(products []Product, loadedAt time.Time) *Snapshot {
	snap := &Snapshot{
		products: make([]Product, 0, len(products)),
		index:    make(map[string]int, len(products)),
		loadedAt: loadedAt,
	}
	for _, p := range products {
		if _, dup := snap.index[p.ID]; dup {
			continue
		}
		snap.index[p.ID] = len(snap.products)
		snap.products = append(snap.products, p)
	}
	return snap
}

// Ready reports whether the snapshot came from a successful load.
func (s *Snapshot) Ready() bool { return !s.loadedAt.IsZero() }

// LoadedAt returns the time the snapshot was fetched.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of products.
func (s *Snapshot) Len() int { return len(s.products) }

// Products returns a copy of all products in upstream order.
func (s *Snapshot) Products() []Product {
	out := make([]Product, len(s.products))
	copy(out, s.products)
	return out
}

// FindByID looks up a product by id.
func (s *Snapshot) FindByID(id string) (Product, error) {
	idx, ok := s.index[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return s.products[idx], nil
}

// Excluding returns products whose ids are not in used, in upstream order.
func (s *Snapshot) Excluding(used map[string]struct{}) []Product {
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if _, taken := used[p.ID]; taken {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Store owns the current snapshot and refreshes it from a Source.
type Store struct {
	source  Source
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
	now     func() time.Time
}

// NewStore builds a Store with an empty, not-ready snapshot.
func NewStore(source Source) *Store {
	s := &Store{source: source, now: time.Now}
	s.current.Store(newSnapshot(nil, time.Time{}))
	return s
}

// Snapshot returns the current snapshot; never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// FindByID looks up a product in the current snapshot.
func (s *Store) FindByID(id string) (Product, error) {
	return s.Snapshot().FindByID(id)
}

// Excluding lists products of the current snapshot not present in used.
func (s *Store) Excluding(used map[string]struct{}) []Product {
	return s.Snapshot().Excluding(used)
}

// Load fetches the catalog and replaces the snapshot wholesale. Concurrent callers
// share one upstream request. On failure the previous snapshot is kept.
func (s *Store) Load(ctx context.Context) ([]Product, error) {
	if s.source == nil {
		return nil, fmt.Errorf("%w: no source configured", ErrCatalogUnavailable)
	}
	resultCh := s.group.DoChan("catalog", func() (interface{}, error) {
		products, err := s.source.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		snap := newSnapshot(products, s.now())
		s.current.Store(snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, ctx.Err())
	case res := <-resultCh:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, res.Err)
		}
		return res.Val.(*Snapshot).Products(), nil
	}
}
