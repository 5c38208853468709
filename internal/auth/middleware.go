package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "repcount-auth-claims"

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// PublicPaths skips authentication for liveness and metrics scraping.
func PublicPaths(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
}

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	cfg     Config
	skipper Skipper
}

// NewMiddleware constructs a middleware with an optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{cfg: cfg, skipper: skipper}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper != nil && m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/problem+json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="repcount"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// parseRequest reads the Authorization header, falling back to the access_token query
// parameter for clients such as <img> tags that cannot set headers.
func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	if m.cfg.Disabled {
		return developmentClaims(r), nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return Parse(r.URL.Query().Get("access_token"), m.cfg)
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	return Parse(header[len("Bearer "):], m.cfg)
}

func developmentClaims(r *http.Request) *Claims {
	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		tenant = "local"
	}
	subject := r.Header.Get("X-User-ID")
	if subject == "" {
		subject = "local"
	}
	return &Claims{
		Subject:  subject,
		TenantID: tenant,
		Scopes: map[string]struct{}{
			ScopeSessionsRead:  {},
			ScopeSessionsWrite: {},
		},
	}
}
