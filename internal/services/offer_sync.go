package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/localstore"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

const (
	// DefaultOfferPollInterval is the refresh cadence of the remaining-offer poller.
	DefaultOfferPollInterval = 5 * time.Second
	// DefaultCouponCode is recorded for claims when no coupon is configured.
	DefaultCouponCode = "WELCOME30"
)

var (
	errOfferStoreRequired  = errors.New("offer sync: local store is required")
	errOfferRemoteRequired = errors.New("offer sync: remote offer service is required")
)

// OfferSynchronizerDeps wires the collaborators of the offer synchronizer.
type OfferSynchronizerDeps struct {
	Store    localstore.Store
	Remote   OfferRemote
	Keys     localstore.Namespace
	Identity string
	// Ceiling is the remaining count assumed before the service has answered.
	Ceiling  int
	Interval time.Duration
	// CouponCode is recorded by Claim and MarkClaimed when the caller supplies none.
	CouponCode string
	// FallbackCoupon is issued by Subscribe when the subscribe endpoint is unreachable.
	FallbackCoupon string
	Logger         *zap.Logger
	Metrics        *observability.SyncMetrics
}

// OfferSynchronizer tracks the globally scarce remaining-offer counter and the per-identity
// claimed flag. The counter is refreshed from the remote service on a fixed interval; a failed
// refresh keeps the last known value.
type OfferSynchronizer struct {
	store    localstore.Store
	remote   OfferRemote
	ns       localstore.Namespace
	ceiling  int
	interval time.Duration
	coupon   string
	fallback string
	logger   *zap.Logger
	metrics  *observability.SyncMetrics

	mu    sync.Mutex
	keys  localstore.Keys
	state domain.OfferState
	// resets counts Reset calls; a claim begun before the latest Reset records nothing.
	resets uint64

	pollMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOfferSynchronizer restores the cached counter (or the ceiling) and the identity's claimed
// flag from the local store. Call Start to run the initial refresh and the poller.
func NewOfferSynchronizer(ctx context.Context, deps OfferSynchronizerDeps) (*OfferSynchronizer, error) {
	if deps.Store == nil {
		return nil, errOfferStoreRequired
	}
	if deps.Remote == nil {
		return nil, errOfferRemoteRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := deps.Keys
	if ns == "" {
		ns = localstore.NewNamespace("")
	}
	ceiling := deps.Ceiling
	if ceiling <= 0 {
		ceiling = domain.DefaultOfferCeiling
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultOfferPollInterval
	}
	coupon := strings.TrimSpace(deps.CouponCode)
	if coupon == "" {
		coupon = DefaultCouponCode
	}
	fallback := strings.TrimSpace(deps.FallbackCoupon)
	if fallback == "" {
		fallback = coupon
	}

	s := &OfferSynchronizer{
		store:    deps.Store,
		remote:   deps.Remote,
		ns:       ns,
		ceiling:  ceiling,
		interval: interval,
		coupon:   coupon,
		fallback: fallback,
		logger:   logger.Named("offer_sync"),
		metrics:  deps.Metrics,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = ns.For(domain.NormalizeIdentity(deps.Identity))
	s.state.RemainingOffers = s.readRemaining(ctx)
	s.loadClaimLocked(ctx)
	return s, nil
}

// Start performs the initial refresh and launches the poller. Calling Start on a running
// synchronizer is a no-op.
func (s *OfferSynchronizer) Start(ctx context.Context) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.cancel != nil {
		return
	}

	s.Refresh(ctx)

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				s.Refresh(pollCtx)
			}
		}
	}()
}

// Stop halts the poller and waits for it to exit.
func (s *OfferSynchronizer) Stop() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// Refresh overwrites the cached counter with the remote value and reports whether it succeeded.
// On failure the previous value stays in place.
func (s *OfferSynchronizer) Refresh(ctx context.Context) bool {
	remaining, err := s.remote.Remaining(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.metrics.RemoteFailure(ctx, "offer.refresh")
		s.metrics.Fallback(ctx, "offer.refresh")
		s.logger.Warn("remaining offers refresh failed; keeping cached value", zap.Error(err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RemainingOffers = clampRemaining(remaining)
	s.writeRemainingLocked(ctx)
	return true
}

// Claim takes one offer for the current identity. It is a no-op when the identity already
// claimed or nothing is left. The claimed flag is taken before the remote call, so concurrent
// claims record one logical claim. A reachable service is authoritative for the remaining
// count; an unreachable one leads to an optimistic local decrement.
func (s *OfferSynchronizer) Claim(ctx context.Context) domain.ClaimResult {
	ticket, result, ok := s.beginClaim(ctx, s.coupon)
	if !ok {
		return result
	}

	resp, err := s.remote.Claim(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	keys := ticket.keys
	logger := s.logger.With(observability.IdentityField(keys.Identity))
	if s.supersededLocked(ticket) {
		logger.Info("claim finished after reset; not recording", zap.Bool("remote_ok", err == nil))
		return domain.ClaimResult{Outcome: domain.ClaimOutcomeSuperseded, RemainingOffers: s.state.RemainingOffers}
	}
	current := s.keys == keys

	switch {
	case err != nil:
		s.metrics.RemoteFailure(ctx, "offer.claim")
		s.metrics.Fallback(ctx, "offer.claim")
		logger.Warn("claim failed remotely; decrementing locally", zap.Error(err))
		s.state.RemainingOffers = clampRemaining(s.state.RemainingOffers - 1)
		result.Outcome = domain.ClaimOutcomeOptimistic
	case !resp.Success:
		s.state.RemainingOffers = clampRemaining(resp.RemainingOffers)
		if current {
			s.state.HasClaimedOffer = false
			s.state.CouponCode = ""
		}
		s.writeRemainingLocked(ctx)
		s.metrics.Claim(ctx, string(domain.ClaimOutcomeExhausted))
		logger.Info("claim refused by offer service", zap.Int("remaining", s.state.RemainingOffers))
		return domain.ClaimResult{Outcome: domain.ClaimOutcomeExhausted, RemainingOffers: s.state.RemainingOffers}
	default:
		s.state.RemainingOffers = clampRemaining(resp.RemainingOffers)
		result.Outcome = domain.ClaimOutcomeClaimed
	}

	s.writeRemainingLocked(ctx)
	s.recordClaimLocked(ctx, keys, result.CouponCode)
	s.metrics.Claim(ctx, string(result.Outcome))
	result.RemainingOffers = s.state.RemainingOffers
	return result
}

// Subscribe claims through the subscribe endpoint, which issues its own coupon. When the
// endpoint is unreachable the fallback coupon is recorded and the counter is left alone.
// A blank email falls back to the current identity.
func (s *OfferSynchronizer) Subscribe(ctx context.Context, email string) domain.ClaimResult {
	email = domain.NormalizeIdentity(email)
	if email == "" {
		email = s.currentIdentity()
	}
	if email == "" {
		return domain.ClaimResult{Outcome: domain.ClaimOutcomeInvalid, RemainingOffers: s.State().RemainingOffers}
	}

	ticket, result, ok := s.beginClaim(ctx, s.fallback)
	if !ok {
		return result
	}

	resp, err := s.remote.Subscribe(ctx, email)

	s.mu.Lock()
	defer s.mu.Unlock()
	keys := ticket.keys
	if s.supersededLocked(ticket) {
		s.logger.Info("subscribe finished after reset; not recording",
			observability.IdentityField(keys.Identity), zap.Bool("remote_ok", err == nil))
		return domain.ClaimResult{Outcome: domain.ClaimOutcomeSuperseded, RemainingOffers: s.state.RemainingOffers}
	}

	if err != nil {
		s.metrics.RemoteFailure(ctx, "offer.subscribe")
		s.metrics.Fallback(ctx, "offer.subscribe")
		s.logger.Warn("subscribe failed remotely; issuing fallback coupon",
			observability.IdentityField(keys.Identity), zap.Error(err))
		result.Outcome = domain.ClaimOutcomeFallback
		result.CouponCode = s.fallback
	} else {
		coupon := strings.TrimSpace(resp.CouponCode)
		if coupon == "" {
			coupon = s.coupon
		}
		result.Outcome = domain.ClaimOutcomeClaimed
		result.CouponCode = coupon
		s.state.RemainingOffers = clampRemaining(resp.RemainingOffers)
		s.writeRemainingLocked(ctx)
	}

	s.recordClaimLocked(ctx, keys, result.CouponCode)
	s.metrics.Claim(ctx, string(result.Outcome))
	result.RemainingOffers = s.state.RemainingOffers
	return result
}

// MarkClaimed records a claim already performed elsewhere, such as a checkout that redeemed the
// coupon. The counter is not touched.
func (s *OfferSynchronizer) MarkClaimed(ctx context.Context, couponCode string) domain.OfferState {
	couponCode = strings.TrimSpace(couponCode)
	if couponCode == "" {
		couponCode = s.coupon
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordClaimLocked(ctx, s.keys, couponCode)
	return s.state
}

// Reset restores the ceiling and clears the current identity's claim. Claims still waiting on
// the remote service are abandoned.
func (s *OfferSynchronizer) Reset(ctx context.Context) domain.OfferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.state = domain.OfferState{RemainingOffers: s.ceiling}
	s.writeRemainingLocked(ctx)
	for _, key := range []string{s.keys.Claimed, s.keys.Coupon} {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Warn("clear local offer claim", zap.String("key", key), zap.Error(err))
		}
	}
	return s.state
}

// SwitchIdentity reloads the claimed flag and coupon of identity. The counter is global and
// carries over.
func (s *OfferSynchronizer) SwitchIdentity(ctx context.Context, identity string) domain.OfferState {
	keys := s.ns.For(domain.NormalizeIdentity(identity))

	s.mu.Lock()
	defer s.mu.Unlock()
	if keys == s.keys {
		return s.state
	}
	s.keys = keys
	s.loadClaimLocked(ctx)
	return s.state
}

// State returns the current offer state.
func (s *OfferSynchronizer) State() domain.OfferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *OfferSynchronizer) currentIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys.Identity
}

// claimTicket identifies an in-flight claim: the identity it was taken for and the Reset
// count when it began.
type claimTicket struct {
	keys   localstore.Keys
	resets uint64
}

// beginClaim applies the claim guard and takes the claimed flag. It reports false with the
// no-op result when the guard refuses.
func (s *OfferSynchronizer) beginClaim(ctx context.Context, pendingCoupon string) (claimTicket, domain.ClaimResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := claimTicket{keys: s.keys, resets: s.resets}
	if s.state.HasClaimedOffer {
		s.metrics.Claim(ctx, string(domain.ClaimOutcomeAlreadyClaimed))
		return ticket, domain.ClaimResult{
			Outcome:         domain.ClaimOutcomeAlreadyClaimed,
			CouponCode:      s.state.CouponCode,
			RemainingOffers: s.state.RemainingOffers,
		}, false
	}
	if s.state.RemainingOffers <= 0 {
		s.metrics.Claim(ctx, string(domain.ClaimOutcomeExhausted))
		return ticket, domain.ClaimResult{Outcome: domain.ClaimOutcomeExhausted}, false
	}

	s.state.HasClaimedOffer = true
	s.state.CouponCode = pendingCoupon
	return ticket, domain.ClaimResult{Claimed: true, CouponCode: pendingCoupon}, true
}

func (s *OfferSynchronizer) supersededLocked(ticket claimTicket) bool {
	return ticket.resets != s.resets
}

func (s *OfferSynchronizer) readRemaining(ctx context.Context) int {
	raw, err := s.store.Get(ctx, s.keys.Remaining)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			s.logger.Warn("local remaining offers unreadable", zap.Error(err))
		}
		return s.ceiling
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.logger.Warn("local remaining offers corrupt; using ceiling", zap.String("value", raw))
		return s.ceiling
	}
	return clampRemaining(remaining)
}

// loadClaimLocked reads the claimed flag and coupon for s.keys. A flag stored without its
// coupon is repaired with the configured coupon.
func (s *OfferSynchronizer) loadClaimLocked(ctx context.Context) {
	s.state.HasClaimedOffer = false
	s.state.CouponCode = ""

	raw, err := s.store.Get(ctx, s.keys.Claimed)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			s.logger.Warn("local claimed flag unreadable", zap.Error(err))
		}
		return
	}
	claimed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil || !claimed {
		return
	}
	s.state.HasClaimedOffer = true

	coupon, err := s.store.Get(ctx, s.keys.Coupon)
	if err == nil && strings.TrimSpace(coupon) != "" {
		s.state.CouponCode = strings.TrimSpace(coupon)
		return
	}
	s.state.CouponCode = s.coupon
	if err := s.store.Set(ctx, s.keys.Coupon, s.coupon); err != nil {
		s.logger.Warn("repair local coupon", zap.Error(err))
	}
}

func (s *OfferSynchronizer) writeRemainingLocked(ctx context.Context) {
	if err := s.store.Set(ctx, s.keys.Remaining, strconv.Itoa(s.state.RemainingOffers)); err != nil {
		s.logger.Warn("persist remaining offers", zap.Error(err))
	}
}

// recordClaimLocked persists a claim for keys and mirrors it into memory when keys is still the
// current identity.
func (s *OfferSynchronizer) recordClaimLocked(ctx context.Context, keys localstore.Keys, coupon string) {
	if keys == s.keys {
		s.state.HasClaimedOffer = true
		s.state.CouponCode = coupon
	}
	if err := s.store.Set(ctx, keys.Claimed, strconv.FormatBool(true)); err != nil {
		s.logger.Warn("persist claimed flag", zap.Error(err))
	}
	if err := s.store.Set(ctx, keys.Coupon, coupon); err != nil {
		s.logger.Warn("persist coupon", zap.Error(err))
	}
}

func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
