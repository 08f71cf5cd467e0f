package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

// UserLookup loads the caller behind an access token.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (types.User, error)
}

// DenialRecorder is notified of every permission denial.
type DenialRecorder interface {
	PermissionDenied(permission string)
}

// Guard authenticates requests with JWT access tokens and authorizes them
// against the permission engine.
type Guard struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserLookup
	engine   *rbac.Engine
	log      logging.Logger
	denials  DenialRecorder
}

func NewGuard(jwtSecret string, tokenTTL time.Duration, users UserLookup, engine *rbac.Engine, log logging.Logger, denials DenialRecorder) *Guard {
	return &Guard{
		secret:   []byte(jwtSecret),
		tokenTTL: tokenTTL,
		users:    users,
		engine:   engine,
		log:      log,
		denials:  denials,
	}
}

type accessClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an access token for user.
func (g *Guard) IssueToken(user types.User) (string, error) {
	now := time.Now()
	claims := accessClaims{
		Role: g.engine.NormalizeRole(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// RequireAuth enforces JWT authentication and injects the subject into context.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		subject, err := parseTokenSubject(tokenString, g.secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission loads the authenticated caller and rejects the request
// unless the caller is active and its role grants permission. Lookup
// failures deny.
func (g *Guard) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject, err := subjectFromContext(ctx)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := g.users.GetByID(ctx, subject)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					g.log.Error(ctx, "permission check lookup failed", "user_id", subject, "error", err)
				}
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusForbidden, "account is inactive")
				return
			}
			if !g.engine.HasPermission(user.Role, permission) {
				if g.denials != nil {
					g.denials.PermissionDenied(permission)
				}
				g.log.Warn(ctx, "permission denied", "event", "permission_denied", "user_id", user.ID, "role", user.Role, "permission", permission)
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			ctx = context.WithValue(ctx, contextUserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseTokenSubject(tokenString string, secret []byte) (string, error) {
	claims := accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
