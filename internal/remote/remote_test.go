package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/localstore"
	"github.com/hanko-field/storefront/internal/services"
)

// fakeBackend is a chi router standing in for the REST backend.
type fakeBackend struct {
	mu        sync.Mutex
	carts     map[string]json.RawMessage
	remaining int
	emails    []string
}

func newFakeBackend(t *testing.T, b *fakeBackend) *httptest.Server {
	t.Helper()
	if b.carts == nil {
		b.carts = make(map[string]json.RawMessage)
	}

	r := chi.NewRouter()
	r.Get("/cart", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		cart, ok := b.carts[req.Header.Get("x-user-email")]
		if !ok {
			httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cart)
	})
	r.Post("/cart", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		b.mu.Lock()
		b.carts[req.Header.Get("x-user-email")] = body
		b.mu.Unlock()
		httpx.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Delete("/cart", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		delete(b.carts, req.Header.Get("x-user-email"))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/offers/remaining", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"remainingOffers": b.remaining})
	})
	r.Post("/offers/claim", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		success := b.remaining > 0
		if success {
			b.remaining--
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": success, "remainingOffers": b.remaining})
	})
	r.Post("/offers/subscribe", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Email == "" {
			httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "email required"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.emails = append(b.emails, body.Email)
		b.remaining--
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"couponCode": "SUB-1", "remainingOffers": b.remaining})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestCartClient_RoundTrip(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	srv := newFakeBackend(t, backend)
	client, err := NewCartClient(httpx.NewClient(srv.URL), "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Fetch(ctx, "a@example.com")
	require.ErrorIs(t, err, services.ErrIdentityNotFound)

	item, err := domain.NormalizeProduct(domain.Product{ID: "A"}, 2)
	require.NoError(t, err)
	require.NoError(t, client.Save(ctx, "a@example.com", []domain.CartItem{item}))

	items, err := client.Fetch(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "A", items[0].ProductID)
	require.Equal(t, 2, items[0].Quantity)

	require.NoError(t, client.Clear(ctx, "a@example.com"))
	_, err = client.Fetch(ctx, "a@example.com")
	require.ErrorIs(t, err, services.ErrIdentityNotFound)
}

func TestCartClient_FetchNormalizesLegacyIdentity(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{carts: map[string]json.RawMessage{
		"a@example.com": json.RawMessage(`[{"_id":"legacy","quantity":1,"price":12.5,"engraving":"Sato"}]`),
	}}
	srv := newFakeBackend(t, backend)
	client, err := NewCartClient(httpx.NewClient(srv.URL), "/cart")
	require.NoError(t, err)

	items, err := client.Fetch(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "legacy", items[0].ProductID)
	require.Equal(t, "12.5", items[0].Price.Original.String())
	require.Equal(t, "Sato", items[0].Customization["engraving"])
}

func TestCartClient_FetchErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "not found message", status: http.StatusBadRequest, body: `{"detail":"user not found"}`, wantErr: services.ErrIdentityNotFound},
		{name: "identity message field", status: http.StatusNotFound, body: `{"message":"Identity not found"}`, wantErr: services.ErrIdentityNotFound},
		{name: "object body", status: http.StatusOK, body: `{"items":[]}`, wantErr: services.ErrValidation},
		{name: "garbage body", status: http.StatusOK, body: `<html>`, wantErr: services.ErrValidation},
		{name: "bad item", status: http.StatusOK, body: `[{"quantity":1}]`, wantErr: services.ErrValidation},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			client, err := NewCartClient(httpx.NewClient(srv.URL), "")
			require.NoError(t, err)
			_, err = client.Fetch(context.Background(), "a@example.com")
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestCartClient_ServerErrorIsNotIdentityNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client, err := NewCartClient(httpx.NewClient(srv.URL), "")
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), "a@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, services.ErrIdentityNotFound)
	status, ok := httpx.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusInternalServerError, status)
}

func TestCartClient_BareNotFoundKeepsLocalCart(t *testing.T) {
	t.Parallel()

	// Only the offer routes are mounted, so GET /cart hits chi's plain-text 404.
	r := chi.NewRouter()
	r.Get("/offers/remaining", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]int{"remainingOffers": 3})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := NewCartClient(httpx.NewClient(srv.URL), "")
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), "a@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, services.ErrIdentityNotFound)
	status, ok := httpx.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, status)

	ctx := context.Background()
	store := localstore.NewMemoryStore()
	keys := localstore.NewNamespace("")
	cartKey := keys.For("a@example.com").Cart
	require.NoError(t, store.Set(ctx, cartKey, `[{"id":"A","price":100,"quantity":2}]`))

	carts, err := services.NewCartSynchronizer(services.CartSynchronizerDeps{Store: store, Remote: client, Keys: keys})
	require.NoError(t, err)
	snapshot := carts.Load(ctx, "a@example.com")
	require.Len(t, snapshot.Items, 1)
	require.Equal(t, "A", snapshot.Items[0].ProductID)
	require.Equal(t, 2, snapshot.Items[0].Quantity)

	raw, err := store.Get(ctx, cartKey)
	require.NoError(t, err)
	require.Contains(t, raw, `"A"`)
}

func TestOfferClient_Operations(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{remaining: 1}
	srv := newFakeBackend(t, backend)
	client, err := NewOfferClient(httpx.NewClient(srv.URL), OfferPaths{})
	require.NoError(t, err)
	ctx := context.Background()

	remaining, err := client.Remaining(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	resp, err := client.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, services.ClaimResponse{Success: true, RemainingOffers: 0}, resp)

	resp, err = client.Claim(ctx)
	require.NoError(t, err)
	require.False(t, resp.Success)

	backend.mu.Lock()
	backend.remaining = 5
	backend.mu.Unlock()

	sub, err := client.Subscribe(ctx, "b@example.com")
	require.NoError(t, err)
	require.Equal(t, services.SubscribeResponse{CouponCode: "SUB-1", RemainingOffers: 4}, sub)

	_, err = client.Subscribe(ctx, "")
	status, ok := httpx.StatusCode(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestOfferClient_MissingCountIsValidationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOfferClient(httpx.NewClient(srv.URL), OfferPaths{Remaining: "/custom/remaining"})
	require.NoError(t, err)

	_, err = client.Remaining(context.Background())
	require.ErrorIs(t, err, services.ErrValidation)
	_, err = client.Claim(context.Background())
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestOfferClient_UnreachableIsNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewOfferClient(httpx.NewClient(url), DefaultOfferPaths())
	require.NoError(t, err)
	_, err = client.Remaining(context.Background())
	require.ErrorIs(t, err, services.ErrNetwork)
}

func TestNewClients_RequireTransport(t *testing.T) {
	t.Parallel()

	_, err := NewCartClient(nil, "")
	require.ErrorIs(t, err, errTransportRequired)
	_, err = NewOfferClient(nil, OfferPaths{})
	require.ErrorIs(t, err, errTransportRequired)
}
