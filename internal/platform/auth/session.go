package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

var (
	// ErrMissingCredentials is returned when neither an ID token nor an email is supplied.
	ErrMissingCredentials = errors.New("auth: id token or email is required")
	// ErrTokenExpired is returned when the ID token has expired.
	ErrTokenExpired = errors.New("auth: id token expired")
	// ErrTokenInvalid is returned when the ID token fails verification.
	ErrTokenInvalid = errors.New("auth: id token invalid")
	// ErrEmailClaimMissing is returned when a verified token carries no email.
	ErrEmailClaimMissing = errors.New("auth: id token has no email claim")
	// ErrEmailSignInDisabled is returned for plain-email sign in when a verifier is configured.
	ErrEmailSignInDisabled = errors.New("auth: email sign in requires development mode")
)

// Credentials carries what the shell knows about the shopper. IDToken wins when both are set.
type Credentials struct {
	IDToken string
	Email   string
}

// Listener observes identity changes. An empty identity means the shopper signed out.
type Listener func(ctx context.Context, identity string)

// Session holds the identity of the single client session and fans changes out to listeners.
// A nil verifier puts the session in development mode, where a plain email is trusted.
type Session struct {
	verifier TokenVerifier
	logger   *zap.Logger

	// changeMu serialises transitions so listeners observe them in order.
	changeMu  sync.Mutex
	mu        sync.RWMutex
	identity  string
	listeners []Listener
}

// NewSession constructs a Session.
func NewSession(verifier TokenVerifier, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{verifier: verifier, logger: logger}
}

// DevMode reports whether plain-email sign in is accepted.
func (s *Session) DevMode() bool {
	return s.verifier == nil
}

// OnChange registers a listener invoked after every identity change.
func (s *Session) OnChange(listener Listener) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Identity returns the current normalized identity, empty when anonymous.
func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SignIn resolves credentials to an identity and makes it current.
func (s *Session) SignIn(ctx context.Context, creds Credentials) (string, error) {
	identity, err := s.authenticate(ctx, creds)
	if err != nil {
		return "", err
	}
	s.set(ctx, identity)
	return identity, nil
}

// SignOut returns the session to anonymous.
func (s *Session) SignOut(ctx context.Context) {
	s.set(ctx, "")
}

func (s *Session) authenticate(ctx context.Context, creds Credentials) (string, error) {
	token := strings.TrimSpace(creds.IDToken)
	if token != "" && s.verifier != nil {
		verified, err := s.verifier.VerifyIDToken(ctx, token)
		if err != nil {
			if firebaseauth.IsIDTokenExpired(err) {
				return "", errors.Join(ErrTokenExpired, err)
			}
			return "", errors.Join(ErrTokenInvalid, err)
		}
		identity := domain.NormalizeIdentity(claimString(verified.Claims["email"]))
		if identity == "" {
			return "", ErrEmailClaimMissing
		}
		return identity, nil
	}

	email := domain.NormalizeIdentity(creds.Email)
	switch {
	case email == "" && token == "":
		return "", ErrMissingCredentials
	case s.verifier != nil:
		return "", ErrEmailSignInDisabled
	case email == "":
		// Development sessions have no verifier to decode a token with.
		return "", ErrMissingCredentials
	}
	return email, nil
}

func (s *Session) set(ctx context.Context, identity string) {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()

	s.mu.Lock()
	previous := s.identity
	s.identity = identity
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if previous == identity {
		return
	}
	s.logger.Info("session identity changed",
		observability.IdentityField(identity),
		zap.Bool("signed_in", identity != ""),
	)
	for _, listener := range listeners {
		listener(ctx, identity)
	}
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	default:
		return ""
	}
}
