package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	apperrors "trades-marketplace/internal/common/errors"
	commonhttp "trades-marketplace/internal/common/http"
	"trades-marketplace/internal/common/logger"
	"trades-marketplace/internal/models"
)

type principalKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Role      models.Role
	TokenID   string
	ExpiresAt time.Time
}

func (p Principal) IsAdmin() bool {
	return p.Role == models.RoleAdmin
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type revocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Middleware authenticates Bearer tokens. The WebSocket endpoint cannot set headers from
// browsers, so a "token" query parameter is accepted when allowQueryToken is set.
type Middleware struct {
	tokens   *TokenManager
	denylist revocationChecker
	logger   logger.Logger
}

func NewMiddleware(tokens *TokenManager, denylist revocationChecker, log logger.Logger) *Middleware {
	return &Middleware{tokens: tokens, denylist: denylist, logger: log}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return m.handler(next, false)
}

func (m *Middleware) AuthenticateWithQueryToken(next http.Handler) http.Handler {
	return m.handler(next, true)
}

func (m *Middleware) handler(next http.Handler, allowQueryToken bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" && allowQueryToken {
			tokenString = r.URL.Query().Get("token")
		}
		if tokenString == "" {
			commonhttp.WriteError(w, apperrors.NewAuthenticationError("missing bearer token"))
			return
		}

		claims, err := m.tokens.Parse(tokenString)
		if err != nil {
			m.logger.Debug("token rejected", map[string]interface{}{"error": err.Error(), "path": r.URL.Path})
			commonhttp.WriteError(w, apperrors.NewAuthenticationError("invalid or expired token"))
			return
		}

		revoked, err := m.denylist.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			m.logger.Error("token revocation check failed", map[string]interface{}{"error": err.Error()})
			commonhttp.WriteError(w, apperrors.NewInternalError(err))
			return
		}
		if revoked {
			commonhttp.WriteError(w, apperrors.NewAuthenticationError("token has been revoked"))
			return
		}

		p := Principal{
			UserID:  claims.Subject,
			Role:    models.Role(claims.Role),
			TokenID: claims.ID,
		}
		if claims.ExpiresAt != nil {
			p.ExpiresAt = claims.ExpiresAt.Time
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logger.IntoContext(ctx, logger.FromContext(ctx, m.logger).WithFields(map[string]interface{}{
			"userId": p.UserID,
			"role":   string(p.Role),
		}))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				commonhttp.WriteError(w, apperrors.NewAuthenticationError("missing bearer token"))
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			commonhttp.WriteError(w, apperrors.NewForbiddenError("role "+string(p.Role)+" is not allowed"))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
