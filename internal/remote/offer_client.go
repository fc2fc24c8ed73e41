package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// OfferPaths locates the offer endpoints relative to the backend base URL.
type OfferPaths struct {
	Remaining string
	Claim     string
	Subscribe string
}

// DefaultOfferPaths returns the stock endpoint layout.
func DefaultOfferPaths() OfferPaths {
	return OfferPaths{
		Remaining: "/offers/remaining",
		Claim:     "/offers/claim",
		Subscribe: "/offers/subscribe",
	}
}

// OfferClient talks to the Remote Offer Service. It satisfies services.OfferRemote.
type OfferClient struct {
	transport *httpx.Client
	paths     OfferPaths
}

var _ services.OfferRemote = (*OfferClient)(nil)

// NewOfferClient binds the offer endpoints; blank paths take their defaults.
func NewOfferClient(transport *httpx.Client, paths OfferPaths) (*OfferClient, error) {
	if transport == nil {
		return nil, errTransportRequired
	}
	defaults := DefaultOfferPaths()
	paths.Remaining = pathOr(paths.Remaining, defaults.Remaining)
	paths.Claim = pathOr(paths.Claim, defaults.Claim)
	paths.Subscribe = pathOr(paths.Subscribe, defaults.Subscribe)
	return &OfferClient{transport: transport, paths: paths}, nil
}

type remainingPayload struct {
	RemainingOffers *int `json:"remainingOffers"`
}

type claimPayload struct {
	Success         bool `json:"success"`
	RemainingOffers *int `json:"remainingOffers"`
}

type subscribePayload struct {
	CouponCode      string `json:"couponCode"`
	RemainingOffers *int   `json:"remainingOffers"`
}

type subscribeRequest struct {
	Email string `json:"email"`
}

// Remaining reads the shared remaining-offer counter.
func (c *OfferClient) Remaining(ctx context.Context) (int, error) {
	var payload remainingPayload
	if err := c.transport.Do(ctx, httpx.Request{Method: http.MethodGet, Path: c.paths.Remaining}, &payload); err != nil {
		return 0, classify(err, false)
	}
	return checkRemaining(payload.RemainingOffers)
}

// Claim performs the atomic remote decrement.
func (c *OfferClient) Claim(ctx context.Context) (services.ClaimResponse, error) {
	var payload claimPayload
	if err := c.transport.Do(ctx, httpx.Request{Method: http.MethodPost, Path: c.paths.Claim}, &payload); err != nil {
		return services.ClaimResponse{}, classify(err, false)
	}
	remaining, err := checkRemaining(payload.RemainingOffers)
	if err != nil {
		return services.ClaimResponse{}, err
	}
	return services.ClaimResponse{Success: payload.Success, RemainingOffers: remaining}, nil
}

// Subscribe claims through the subscription endpoint, which issues the coupon itself.
func (c *OfferClient) Subscribe(ctx context.Context, email string) (services.SubscribeResponse, error) {
	var payload subscribePayload
	req := httpx.Request{
		Method:   http.MethodPost,
		Path:     c.paths.Subscribe,
		Identity: email,
		Body:     subscribeRequest{Email: email},
	}
	if err := c.transport.Do(ctx, req, &payload); err != nil {
		return services.SubscribeResponse{}, classify(err, false)
	}
	remaining, err := checkRemaining(payload.RemainingOffers)
	if err != nil {
		return services.SubscribeResponse{}, err
	}
	return services.SubscribeResponse{
		CouponCode:      strings.TrimSpace(payload.CouponCode),
		RemainingOffers: remaining,
	}, nil
}

// checkRemaining rejects a missing count. Negative counts pass through; the synchronizer clamps them.
func checkRemaining(value *int) (int, error) {
	if value == nil {
		return 0, fmt.Errorf("%w: remainingOffers missing", services.ErrValidation)
	}
	return *value, nil
}

func pathOr(path, fallback string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	return fallback
}
