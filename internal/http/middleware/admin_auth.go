package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/clinicops/internal/tenancy"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// AdminClaims are the claims of an operator or service token. A token with
// TenantID set may only act on that tenant.
type AdminClaims struct {
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// AdminJWT enforces an HMAC-signed JWT. Tenant-scoped tokens also put the
// tenant on the request context.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "admin auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, *claims)
			if claims.TenantID != "" {
				ctx = tenancy.WithTenantID(ctx, claims.TenantID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (AdminClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(AdminClaims)
	return claims, ok
}

// RequireTenantParam rejects a tenant-scoped token used against another
// tenant's {param} route.
func RequireTenantParam(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := AdminClaimsFromContext(r.Context())
			if ok && claims.TenantID != "" && claims.TenantID != chi.URLParam(r, param) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
