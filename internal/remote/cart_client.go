package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

// DefaultCartPath is the cart endpoint relative to the backend base URL.
const DefaultCartPath = "/cart"

var errTransportRequired = errors.New("remote: transport is required")

// CartClient talks to the Remote Cart Service. It satisfies services.CartRemote.
type CartClient struct {
	transport *httpx.Client
	path      string
}

var _ services.CartRemote = (*CartClient)(nil)

// NewCartClient binds the cart endpoint at path (DefaultCartPath when blank).
func NewCartClient(transport *httpx.Client, path string) (*CartClient, error) {
	if transport == nil {
		return nil, errTransportRequired
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultCartPath
	}
	return &CartClient{transport: transport, path: path}, nil
}

// Fetch returns the identity's cart in server order. A 404, or any error whose message says the
// user was not found, is reported as services.ErrIdentityNotFound.
func (c *CartClient) Fetch(ctx context.Context, identity string) ([]domain.CartItem, error) {
	var raw json.RawMessage
	err := c.transport.Do(ctx, httpx.Request{Method: http.MethodGet, Path: c.path, Identity: identity}, &raw)
	if err != nil {
		return nil, classify(err, true)
	}

	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return []domain.CartItem{}, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: cart response is not an array", services.ErrValidation)
	}
	var items []domain.CartItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	return items, nil
}

// Save replaces the identity's remote cart with items.
func (c *CartClient) Save(ctx context.Context, identity string, items []domain.CartItem) error {
	if items == nil {
		items = []domain.CartItem{}
	}
	err := c.transport.Do(ctx, httpx.Request{Method: http.MethodPost, Path: c.path, Identity: identity, Body: items}, nil)
	return classify(err, false)
}

// Clear deletes the identity's remote cart.
func (c *CartClient) Clear(ctx context.Context, identity string) error {
	err := c.transport.Do(ctx, httpx.Request{Method: http.MethodDelete, Path: c.path, Identity: identity}, nil)
	return classify(err, false)
}

// classify maps transport errors onto the synchronizer taxonomy. Network errors already match
// services.ErrNetwork. Only a JSON error body naming an unknown user or identity counts as
// identity-not-found; a bare 404 from a proxy or unmounted route stays a plain failure.
func classify(err error, identityScoped bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, httpx.ErrMalformedResponse) {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	var apiErr *httpx.APIError
	if identityScoped && errors.As(err, &apiErr) {
		if unknownIdentity(apiErr) {
			return fmt.Errorf("%w: %w", services.ErrIdentityNotFound, err)
		}
	}
	return err
}

func unknownIdentity(apiErr *httpx.APIError) bool {
	if !apiErr.Structured {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	if !strings.Contains(msg, "not found") {
		return false
	}
	return strings.Contains(msg, "user") || strings.Contains(msg, "identity")
}
