package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/localstore"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

var (
	errCartStoreRequired  = errors.New("cart sync: local store is required")
	errCartRemoteRequired = errors.New("cart sync: remote cart service is required")
)

// CartSynchronizerDeps wires the collaborators of the cart synchronizer.
type CartSynchronizerDeps struct {
	Store   localstore.Store
	Remote  CartRemote
	Keys    localstore.Namespace
	Logger  *zap.Logger
	Metrics *observability.SyncMetrics
}

// CartSynchronizer owns the in-memory cart. Mutations apply to memory first, then to the local
// store, then to the remote service as a fire-and-forget write. None of its operations fail;
// remote trouble degrades to local state.
type CartSynchronizer struct {
	store    localstore.Store
	remote   CartRemote
	ns       localstore.Namespace
	logger   *zap.Logger
	metrics  *observability.SyncMetrics
	dispatch *dispatcher

	mu         sync.Mutex
	keys       localstore.Keys
	items      []domain.CartItem
	generation uint64
}

// NewCartSynchronizer validates dependencies. The synchronizer starts with the anonymous, empty
// cart until Load is called.
func NewCartSynchronizer(deps CartSynchronizerDeps) (*CartSynchronizer, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if deps.Remote == nil {
		return nil, errCartRemoteRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := deps.Keys
	if ns == "" {
		ns = localstore.NewNamespace("")
	}

	return &CartSynchronizer{
		store:    deps.Store,
		remote:   deps.Remote,
		ns:       ns,
		logger:   logger.Named("cart_sync"),
		metrics:  deps.Metrics,
		dispatch: newDispatcher(logger.Named("cart_sync"), deps.Metrics),
		keys:     ns.For(""),
		items:    []domain.CartItem{},
	}, nil
}

// Load swaps the cart to identity. The local copy is adopted immediately; for an identified
// session the remote cart then replaces it. An unknown identity resets the cart to empty, any
// other remote failure keeps the local copy. Anonymous carts never touch the remote service.
func (s *CartSynchronizer) Load(ctx context.Context, identity string) domain.CartSnapshot {
	identity = domain.NormalizeIdentity(identity)
	keys := s.ns.For(identity)

	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.keys = keys
	s.items = s.readLocal(ctx, keys.Cart)
	if identity == "" {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		return snapshot
	}
	s.mu.Unlock()

	fetched, err := s.remote.Fetch(ctx, identity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		// A newer Load owns the state now.
		return s.snapshotLocked()
	}

	logger := s.logger.With(observability.IdentityField(identity))
	switch {
	case err == nil:
		s.items = domain.NormalizeItems(fetched)
		s.writeLocalLocked(ctx)
	case errors.Is(err, ErrIdentityNotFound):
		logger.Info("remote has no cart for identity; starting empty")
		s.items = []domain.CartItem{}
		s.removeLocalLocked(ctx)
	case errors.Is(err, ErrValidation):
		s.metrics.RemoteFailure(ctx, "cart.fetch")
		s.metrics.Fallback(ctx, "cart.load")
		logger.Error("remote cart rejected; keeping local cart", zap.Error(err))
	default:
		s.metrics.RemoteFailure(ctx, "cart.fetch")
		s.metrics.Fallback(ctx, "cart.load")
		logger.Warn("remote cart unavailable; using local cart", zap.Error(err))
	}
	return s.snapshotLocked()
}

// AddToCart merges quantity units of product into the cart. A quantity below one counts as one.
// Products without an identity are rejected with a log line and leave the cart unchanged.
func (s *CartSynchronizer) AddToCart(ctx context.Context, product domain.Product, quantity int) domain.CartSnapshot {
	item, err := domain.NormalizeProduct(product, quantity)
	if err != nil {
		s.logger.Warn("ignoring product without identity", zap.Error(err))
		return s.Snapshot()
	}

	s.mu.Lock()
	merged := false
	for idx := range s.items {
		if s.items[idx].ProductID == item.ProductID {
			s.items[idx].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, item)
	}
	s.writeLocalLocked(ctx)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snapshot)
	return snapshot
}

// RemoveFromCart decrements the matching item by one and drops it when it reaches zero.
// Unknown products are a no-op.
func (s *CartSynchronizer) RemoveFromCart(ctx context.Context, productID string) domain.CartSnapshot {
	productID = strings.TrimSpace(productID)

	s.mu.Lock()
	idx := -1
	for i := range s.items {
		if s.items[i].ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		return snapshot
	}
	s.items[idx].Quantity--
	if s.items[idx].Quantity <= 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	}
	s.writeLocalLocked(ctx)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snapshot)
	return snapshot
}

// ClearCart empties the cart and its local entry, then asks the remote service to do the same.
// The local reset never waits for the remote outcome.
func (s *CartSynchronizer) ClearCart(ctx context.Context) domain.CartSnapshot {
	s.mu.Lock()
	s.items = []domain.CartItem{}
	s.removeLocalLocked(ctx)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if identity := snapshot.Identity; identity != "" {
		s.dispatch.dispatch(ctx, "cart.clear", identity, func(ctx context.Context) error {
			return s.remote.Clear(ctx, identity)
		})
	}
	return snapshot
}

// Items returns a copy of the cart sequence.
func (s *CartSynchronizer) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneItems(s.items)
}

// Totals recomputes the totals from the current sequence.
func (s *CartSynchronizer) Totals() domain.CartTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CalculateTotals(s.items)
}

// Snapshot returns items, totals and identity read under one lock.
func (s *CartSynchronizer) Snapshot() domain.CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Identity returns the identity the cart is currently scoped to.
func (s *CartSynchronizer) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.Identity
}

// Wait blocks until in-flight remote writes have finished.
func (s *CartSynchronizer) Wait() {
	s.dispatch.wait()
}

func (s *CartSynchronizer) save(ctx context.Context, snapshot domain.CartSnapshot) {
	identity := snapshot.Identity
	if identity == "" {
		return
	}
	items := snapshot.Items
	s.dispatch.dispatch(ctx, "cart.save", identity, func(ctx context.Context) error {
		return s.remote.Save(ctx, identity, items)
	})
}

func (s *CartSynchronizer) snapshotLocked() domain.CartSnapshot {
	items := domain.CloneItems(s.items)
	return domain.CartSnapshot{
		Identity: s.keys.Identity,
		Items:    items,
		Totals:   domain.CalculateTotals(items),
	}
}

func (s *CartSynchronizer) readLocal(ctx context.Context, key string) []domain.CartItem {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, localstore.ErrNotFound) {
		return []domain.CartItem{}
	}
	if err != nil {
		s.logger.Warn("local cart unreadable", zap.String("key", key), zap.Error(err))
		return []domain.CartItem{}
	}
	var items []domain.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("local cart corrupt; discarding", zap.String("key", key), zap.Error(err))
		return []domain.CartItem{}
	}
	return domain.NormalizeItems(items)
}

func (s *CartSynchronizer) writeLocalLocked(ctx context.Context) {
	payload, err := json.Marshal(s.items)
	if err != nil {
		s.logger.Error("encode local cart", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, s.keys.Cart, string(payload)); err != nil {
		s.logger.Warn("persist local cart", zap.String("key", s.keys.Cart), zap.Error(err))
	}
}

func (s *CartSynchronizer) removeLocalLocked(ctx context.Context) {
	if err := s.store.Remove(ctx, s.keys.Cart); err != nil {
		s.logger.Warn("remove local cart", zap.String("key", s.keys.Cart), zap.Error(err))
	}
}
