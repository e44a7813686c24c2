// Package identity extracts the already-authenticated caller from trusted
// gateway headers. The engine trusts this input and does not
// re-authenticate; token verification against upstream belongs to the
// gateway, not here.
package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbus-iam/nimbus-iam/internal/authz"
)

// Headers the trusted gateway sets on forwarded admin requests.
const (
	HeaderRole        = "X-Auth-Role"
	HeaderLevel       = "X-Auth-Level"
	HeaderPermissions = "X-Auth-Permissions"
)

type callerContextKey struct{}

// WithCaller stores the caller in the context.
func WithCaller(ctx context.Context, caller authz.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller placed by the middleware.
func CallerFromContext(ctx context.Context) (authz.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(authz.Caller)
	return caller, ok
}

// Middleware verifies the shared service token and parses the caller
// headers into the request context.
type Middleware struct {
	logger *slog.Logger
	// bcrypt hash of the admin service token; empty disables the gate
	// (local development only).
	tokenHash string
}

// NewMiddleware constructs the identity middleware.
func NewMiddleware(logger *slog.Logger, tokenHash string) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{logger: logger, tokenHash: tokenHash}
}

// Handler authenticates the service token and attaches the caller.
// Requests without valid caller headers are rejected before reaching any
// handler.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.tokenHash != "" {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(m.tokenHash), []byte(token)); err != nil {
				m.logger.Warn("identity: bad service token", slog.String("remote", r.RemoteAddr))
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
		}
		caller, ok := parseCaller(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func parseCaller(r *http.Request) (authz.Caller, bool) {
	roleID := strings.TrimSpace(r.Header.Get(HeaderRole))
	if roleID == "" {
		return authz.Caller{}, false
	}
	level, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(HeaderLevel)))
	if err != nil {
		return authz.Caller{}, false
	}
	var perms []string
	for _, p := range strings.Split(r.Header.Get(HeaderPermissions), ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			perms = append(perms, p)
		}
	}
	return authz.Caller{RoleID: roleID, Level: level, Permissions: perms}, true
}
