package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout        = 8 * time.Second
	defaultIdentityHeader = "x-user-email"
	requestIDHeader       = "X-Request-Id"
	maxErrorBody          = 64 * 1024
	tracerName            = "github.com/hanko-field/storefront/internal/platform/httpx"
)

var (
	// ErrNetwork marks transport-level failures (connection refused, timeouts, resets).
	ErrNetwork = errors.New("httpx: network error")
	// ErrMalformedResponse marks successful responses whose body could not be decoded.
	ErrMalformedResponse = errors.New("httpx: malformed response")
)

// APIError is returned for non-2xx responses. Message is taken from the JSON body's detail or
// message field, falling back to the raw body text. Structured is set only when the JSON body
// supplied the message.
type APIError struct {
	Status     int
	Message    string
	Body       string
	Structured bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("httpx: status %d: %s", e.Status, e.Message)
}

// NetworkError wraps a transport failure; errors.Is(err, ErrNetwork) holds for it.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("httpx: %s %s: %v", e.Method, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// StatusCode extracts the HTTP status from err when it is (or wraps) an APIError.
func StatusCode(err error) (int, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// Client is the thin transport wrapper shared by the remote cart and offer clients.
type Client struct {
	baseURL        string
	http           *http.Client
	identityHeader string
	bearerToken    string
	tracer         trace.Tracer
	newID          func() string
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the overall request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithIdentityHeader overrides the header carrying the caller identity.
func WithIdentityHeader(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.identityHeader = name
		}
	}
}

// WithBearerToken adds an Authorization header to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.bearerToken = strings.TrimSpace(token)
	}
}

// WithRequestIDGenerator overrides the request id generator (ULID by default).
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient constructs a transport bound to baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:           &http.Client{Timeout: defaultTimeout},
		identityHeader: defaultIdentityHeader,
		tracer:         otel.Tracer(tracerName),
		newID:          func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Request describes one call. Body is JSON-encoded unless Multipart is set, in which case
// Multipart is streamed as-is with ContentType (the caller's multipart boundary) or no
// content type at all.
type Request struct {
	Method      string
	Path        string
	Identity    string
	Body        any
	Multipart   io.Reader
	ContentType string
}

// Do executes req and decodes a successful JSON response into out (when out is non-nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	endpoint, err := url.JoinPath(c.baseURL, req.Path)
	if err != nil {
		return fmt.Errorf("httpx: build url: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLPath(req.Path),
		))
	defer span.End()

	body, contentType, err := encodeBody(req)
	if err != nil {
		span.SetStatus(codes.Error, "encode body")
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("httpx: build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, c.newID())
	if identity := strings.TrimSpace(req.Identity); identity != "" {
		httpReq.Header.Set(c.identityHeader, identity)
	}
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return &NetworkError{Method: method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeAPIError(resp)
		span.SetAttributes(attribute.String("error.message", apiErr.Message))
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return &NetworkError{Method: method, Path: req.Path, Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		span.SetStatus(codes.Error, "decode body")
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func encodeBody(req Request) (io.Reader, string, error) {
	if req.Multipart != nil {
		return req.Multipart, strings.TrimSpace(req.ContentType), nil
	}
	if req.Body == nil {
		return nil, "application/json", nil
	}
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("httpx: encode body: %w", err)
	}
	return bytes.NewReader(payload), "application/json", nil
}

func decodeAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(raw))
	apiErr := &APIError{Status: resp.StatusCode, Body: text, Message: text}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		if msg := messageField(payload["detail"]); msg != "" {
			apiErr.Message = msg
			apiErr.Structured = true
		} else if msg := messageField(payload["message"]); msg != "" {
			apiErr.Message = msg
			apiErr.Structured = true
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func messageField(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
