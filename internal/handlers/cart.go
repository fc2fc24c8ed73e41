package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// CartService is the cart synchronizer surface the endpoints need.
type CartService interface {
	AddToCart(ctx context.Context, product domain.Product, quantity int) domain.CartSnapshot
	RemoveFromCart(ctx context.Context, productID string) domain.CartSnapshot
	ClearCart(ctx context.Context) domain.CartSnapshot
	Snapshot() domain.CartSnapshot
}

// CartHandlers exposes the in-memory cart of the current session.
type CartHandlers struct {
	carts CartService
}

// NewCartHandlers constructs CartHandlers.
func NewCartHandlers(carts CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type addItemRequest struct {
	Product  json.RawMessage `json:"product"`
	Quantity int             `json:"quantity"`
}

type cartPayload struct {
	Identity string            `json:"identity"`
	Items    []domain.CartItem `json:"items"`
	Totals   totalsPayload     `json:"totals"`
}

type totalsPayload struct {
	TotalItems int    `json:"totalItems"`
	TotalPrice string `json:"totalPrice"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if h.carts == nil {
		writeUnavailable(r.Context(), w, "cart")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(h.carts.Snapshot()))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}

	var req addItemRequest
	if err := decodeBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(req.Product) == 0 || string(req.Product) == "null" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product is required", http.StatusBadRequest))
		return
	}
	var product domain.Product
	if err := json.Unmarshal(req.Product, &product); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product", err.Error(), http.StatusBadRequest))
		return
	}
	if req.Quantity < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be positive", http.StatusBadRequest))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(h.carts.AddToCart(ctx, product, req.Quantity)))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(h.carts.RemoveFromCart(ctx, productID)))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(h.carts.ClearCart(ctx)))
}

func buildCartPayload(snapshot domain.CartSnapshot) cartPayload {
	items := snapshot.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	return cartPayload{
		Identity: snapshot.Identity,
		Items:    items,
		Totals: totalsPayload{
			TotalItems: snapshot.Totals.TotalItems,
			TotalPrice: snapshot.Totals.TotalPrice.String(),
		},
	}
}
