package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markdave123-py/docuchat/internal/models"
)

var (
	ErrMissingToken   = errors.New("missing or invalid token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingTenant  = errors.New("missing tenant")
	ErrTenantMismatch = errors.New("tenant does not match token")
)

type identityKey struct{}

// WithIdentity attaches a verified caller to ctx.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller attached by the auth middleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}

// Authenticator verifies HS256 tokens carrying sub and tenant_id claims.
// An empty secret rejects every token.
type Authenticator struct {
	secret       []byte
	tenantHeader string
}

func NewAuthenticator(secret, tenantHeader string) *Authenticator {
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}
	return &Authenticator{secret: []byte(secret), tenantHeader: tenantHeader}
}

// TenantHeader is the header that must repeat the token's tenant.
func (a *Authenticator) TenantHeader() string { return a.tenantHeader }

// ParseIdentity validates tokenStr and checks that tenant names the same
// tenant as the token.
func (a *Authenticator) ParseIdentity(tokenStr, tenant string) (models.Identity, error) {
	if tokenStr == "" {
		return models.Identity{}, ErrMissingToken
	}
	if len(a.secret) == 0 {
		return models.Identity{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	userID, err := claimInt(claims["sub"])
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: sub: %v", ErrInvalidToken, err)
	}
	tenantID, err := claimInt(claims["tenant_id"])
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: tenant_id: %v", ErrInvalidToken, err)
	}

	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return models.Identity{}, ErrMissingTenant
	}
	if headerTenant, err := strconv.ParseInt(tenant, 10, 64); err != nil || headerTenant != tenantID {
		return models.Identity{}, ErrTenantMismatch
	}

	return models.Identity{TenantID: tenantID, UserID: userID}, nil
}

// FromRequest reads the bearer token and tenant header. The token and
// tenant_id query parameters are accepted as well, for browser WebSockets.
func (a *Authenticator) FromRequest(r *http.Request) (models.Identity, error) {
	tokenStr := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenStr = strings.TrimPrefix(auth, "Bearer ")
	}
	q := r.URL.Query()
	if tokenStr == "" {
		tokenStr = q.Get("token")
	}
	tenant := r.Header.Get(a.tenantHeader)
	if tenant == "" {
		tenant = q.Get("tenant_id")
	}
	return a.ParseIdentity(tokenStr, tenant)
}

// Middleware rejects unauthenticated requests and attaches the identity.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}

		id, err := a.ParseIdentity(strings.TrimPrefix(auth, "Bearer "), r.Header.Get(a.tenantHeader))
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// StatusFor maps an authentication error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, ErrMissingTenant) || errors.Is(err, ErrTenantMismatch) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

func claimInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
