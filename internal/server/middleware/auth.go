package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gatekeepdb/gatekeep/internal/model"
	"github.com/gatekeepdb/gatekeep/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// TokenValidator turns a bearer token into a principal.
type TokenValidator interface {
	ValidateToken(token string) (service.Principal, error)
}

// Authorizer decides whether a principal meets a requirement.
type Authorizer interface {
	Authorize(ctx context.Context, p service.Principal, req service.RequiredAuth) error
	RecordUnauthenticated(req service.RequiredAuth)
}

// Authenticate validates the bearer token in the Authorization header and
// attaches the principal to the request context. Requests without a valid
// token get 401.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			p, err := tokens.ValidateToken(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Could not validate credentials")
				return
			}
			annotate(r.Context(), p.UserID, p.RoleID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require enforces req. It must run after Authenticate; a request without
// a principal gets 401, a requirement that names unknown modules or
// permissions 500 and a role without every required bit 403.
func Require(authz Authorizer, req service.RequiredAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil {
				authz.RecordUnauthenticated(req)
				writeAuthError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			switch err := authz.Authorize(r.Context(), *p, req); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, service.ErrConfiguration):
				writeAuthError(w, http.StatusInternalServerError, "Permission configuration error")
			default:
				writeAuthError(w, http.StatusForbidden, "Insufficient permissions")
			}
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p service.Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, &p)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.Failure(message))
}
