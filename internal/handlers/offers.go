package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// OfferService is the offer synchronizer surface the endpoints need.
type OfferService interface {
	State() domain.OfferState
	Refresh(ctx context.Context) bool
	Claim(ctx context.Context) domain.ClaimResult
	Subscribe(ctx context.Context, email string) domain.ClaimResult
	MarkClaimed(ctx context.Context, couponCode string) domain.OfferState
	Reset(ctx context.Context) domain.OfferState
}

// OfferHandlers exposes the limited-offer counter and claim flows.
type OfferHandlers struct {
	offers       OfferService
	resetEnabled bool
}

// OfferHandlersOption customises OfferHandlers.
type OfferHandlersOption func(*OfferHandlers)

// WithOfferReset mounts POST /offers/reset, which wipes the claim and restores the ceiling.
// It is meant for development shells only.
func WithOfferReset(enabled bool) OfferHandlersOption {
	return func(h *OfferHandlers) {
		h.resetEnabled = enabled
	}
}

// NewOfferHandlers constructs OfferHandlers. The reset route stays unmounted unless enabled.
func NewOfferHandlers(offers OfferService, opts ...OfferHandlersOption) *OfferHandlers {
	h := &OfferHandlers{offers: offers}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /offers endpoints onto the provided router.
func (h *OfferHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getState)
	r.Post("/refresh", h.refresh)
	r.Post("/claim", h.claim)
	r.Post("/claimed", h.markClaimed)
	r.Post("/subscribe", h.subscribe)
	if h.resetEnabled {
		r.Post("/reset", h.reset)
	}
}

type offerPayload struct {
	RemainingOffers int    `json:"remainingOffers"`
	HasClaimedOffer bool   `json:"hasClaimedOffer"`
	CouponCode      string `json:"couponCode,omitempty"`
}

type refreshPayload struct {
	Refreshed bool         `json:"refreshed"`
	Offer     offerPayload `json:"offer"`
}

type claimPayload struct {
	Claimed         bool   `json:"claimed"`
	Outcome         string `json:"outcome"`
	CouponCode      string `json:"couponCode,omitempty"`
	RemainingOffers int    `json:"remainingOffers"`
}

type subscribeRequest struct {
	Email string `json:"email"`
}

type markClaimedRequest struct {
	CouponCode string `json:"couponCode"`
}

func (h *OfferHandlers) getState(w http.ResponseWriter, r *http.Request) {
	if h.offers == nil {
		writeUnavailable(r.Context(), w, "offer")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOfferPayload(h.offers.State()))
}

func (h *OfferHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.offers == nil {
		writeUnavailable(ctx, w, "offer")
		return
	}
	refreshed := h.offers.Refresh(ctx)
	httpx.WriteJSON(w, http.StatusOK, refreshPayload{Refreshed: refreshed, Offer: buildOfferPayload(h.offers.State())})
}

func (h *OfferHandlers) claim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.offers == nil {
		writeUnavailable(ctx, w, "offer")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildClaimPayload(h.offers.Claim(ctx)))
}

func (h *OfferHandlers) subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.offers == nil {
		writeUnavailable(ctx, w, "offer")
		return
	}
	var req subscribeRequest
	if err := decodeBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	result := h.offers.Subscribe(ctx, req.Email)
	if result.Outcome == domain.ClaimOutcomeInvalid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email is required", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildClaimPayload(result))
}

// markClaimed records a claim the shell completed on its own, e.g. a coupon redeemed at checkout.
func (h *OfferHandlers) markClaimed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.offers == nil {
		writeUnavailable(ctx, w, "offer")
		return
	}
	var req markClaimedRequest
	if err := decodeBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOfferPayload(h.offers.MarkClaimed(ctx, req.CouponCode)))
}

func (h *OfferHandlers) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.offers == nil {
		writeUnavailable(ctx, w, "offer")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOfferPayload(h.offers.Reset(ctx)))
}

func buildOfferPayload(state domain.OfferState) offerPayload {
	return offerPayload{
		RemainingOffers: state.RemainingOffers,
		HasClaimedOffer: state.HasClaimedOffer,
		CouponCode:      state.CouponCode,
	}
}

func buildClaimPayload(result domain.ClaimResult) claimPayload {
	return claimPayload{
		Claimed:         result.Claimed,
		Outcome:         string(result.Outcome),
		CouponCode:      result.CouponCode,
		RemainingOffers: result.RemainingOffers,
	}
}
