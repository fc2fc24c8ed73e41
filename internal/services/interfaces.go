package services

import (
	"context"
	"errors"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

var (
	// ErrNetwork marks transport or timeout failures. Synchronizers degrade to local state on it.
	ErrNetwork = httpx.ErrNetwork
	// ErrIdentityNotFound means the remote service has no record of the identity. A cart load
	// treats it as an authoritative empty cart.
	ErrIdentityNotFound = errors.New("sync: identity not found")
	// ErrValidation marks a response whose shape the client could not accept.
	ErrValidation = errors.New("sync: unexpected response shape")
)

// CartRemote is the Remote Cart Service. All operations are scoped to identity.
type CartRemote interface {
	Fetch(ctx context.Context, identity string) ([]domain.CartItem, error)
	Save(ctx context.Context, identity string, items []domain.CartItem) error
	Clear(ctx context.Context, identity string) error
}

// ClaimResponse is the remote answer to an atomic claim.
type ClaimResponse struct {
	Success         bool
	RemainingOffers int
}

// SubscribeResponse is the remote answer to the subscribe claim path.
type SubscribeResponse struct {
	CouponCode      string
	RemainingOffers int
}

// OfferRemote is the Remote Offer Service holding the shared remaining-offer counter.
type OfferRemote interface {
	Remaining(ctx context.Context) (int, error)
	Claim(ctx context.Context) (ClaimResponse, error)
	Subscribe(ctx context.Context, email string) (SubscribeResponse, error)
}
