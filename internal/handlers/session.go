package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// SessionService is the identity holder the session endpoints drive.
type SessionService interface {
	SignIn(ctx context.Context, creds auth.Credentials) (string, error)
	SignOut(ctx context.Context)
	Identity() string
	DevMode() bool
}

// SessionHandlers exposes sign in and sign out for the single client session.
type SessionHandlers struct {
	session SessionService
}

// NewSessionHandlers constructs SessionHandlers.
func NewSessionHandlers(session SessionService) *SessionHandlers {
	return &SessionHandlers{session: session}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSession)
	r.Put("/", h.putSession)
	r.Delete("/", h.deleteSession)
}

// IdentityMiddleware stores the session identity on the request context for logging.
func IdentityMiddleware(session SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session != nil {
				if identity := session.Identity(); identity != "" {
					r = r.WithContext(requestctx.WithIdentity(r.Context(), identity))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type sessionRequest struct {
	IDToken string `json:"idToken"`
	Email   string `json:"email"`
}

type sessionPayload struct {
	Identity string `json:"identity"`
	SignedIn bool   `json:"signedIn"`
	DevMode  bool   `json:"devMode"`
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeUnavailable(r.Context(), w, "session")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.payload())
}

func (h *SessionHandlers) putSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.session == nil {
		writeUnavailable(ctx, w, "session")
		return
	}

	var req sessionRequest
	if err := decodeBody(r, maxBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	if _, err := h.session.SignIn(ctx, auth.Credentials{IDToken: req.IDToken, Email: req.Email}); err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.payload())
}

func (h *SessionHandlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if h.session == nil {
		writeUnavailable(r.Context(), w, "session")
		return
	}
	h.session.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) payload() sessionPayload {
	identity := h.session.Identity()
	return sessionPayload{
		Identity: identity,
		SignedIn: identity != "",
		DevMode:  h.session.DevMode(),
	}
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idToken or email is required", http.StatusBadRequest))
	case errors.Is(err, auth.ErrEmailSignInDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("email_sign_in_disabled", "sign in with an id token", http.StatusForbidden))
	case errors.Is(err, auth.ErrTokenExpired):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "id token expired", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "id token could not be verified", http.StatusUnauthorized))
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge).
			WithDetails(map[string]any{"max_bytes": maxBodySize}))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
