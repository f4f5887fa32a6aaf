package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/api/problem"
	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	operatorContextKey contextKey = "operator"
	merchantContextKey contextKey = "merchant"
	traceContextKey    contextKey = "trace_id"
)

const (
	RoleAdmin  = "admin"
	RoleTrader = "trader"
)

// MerchantAPIKeyHeader carries the merchant credential on merchant routes.
const MerchantAPIKeyHeader = "X-Merchant-Api-Key"

// Operator is the authenticated caller of an operator route. TraderID is set
// for the trader role only.
type Operator struct {
	ID       uuid.UUID
	Role     string
	TraderID *uuid.UUID
}

func (o Operator) IsAdmin() bool {
	return o.Role == RoleAdmin
}

type operatorClaims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	TraderID string `json:"trader_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth validates HS256 operator tokens.
type JWTAuth struct {
	secret   []byte
	issuer   string
	audience string
}

func NewJWTAuth(secret, issuer, audience string) *JWTAuth {
	return &JWTAuth{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
	}
}

// Issue signs a token for op valid for ttl from now.
func (a *JWTAuth) Issue(op Operator, ttl time.Duration, now time.Time) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := operatorClaims{
		UserID: op.ID.String(),
		Role:   op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if op.TraderID != nil {
		claims.TraderID = op.TraderID.String()
	}
	if a.issuer != "" {
		claims.Issuer = a.issuer
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware validates the bearer token and injects the operator into the context.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/authorization-header-required"), http.StatusText(http.StatusUnauthorized), "Authorization header required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-format"), http.StatusText(http.StatusUnauthorized), "Invalid token format")
			return
		}
		if len(a.secret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}

		claims := &operatorClaims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if a.issuer != "" {
			opts = append(opts, jwt.WithIssuer(a.issuer))
		}
		if a.audience != "" {
			opts = append(opts, jwt.WithAudience(a.audience))
		}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			return a.secret, nil
		}, opts...)
		if err != nil || !token.Valid {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token"), http.StatusText(http.StatusUnauthorized), "Invalid token")
			return
		}

		op, err := claims.operator()
		if err != nil {
			problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-claims"), http.StatusText(http.StatusUnauthorized), "Invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), operatorContextKey, op)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *operatorClaims) operator() (Operator, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return Operator{}, fmt.Errorf("user_id: %w", err)
	}
	if c.Subject != "" && c.Subject != c.UserID {
		return Operator{}, errors.New("subject does not match user_id")
	}
	op := Operator{ID: id, Role: c.Role}
	switch c.Role {
	case RoleAdmin:
	case RoleTrader:
		traderID, err := uuid.Parse(c.TraderID)
		if err != nil {
			return Operator{}, fmt.Errorf("trader_id: %w", err)
		}
		op.TraderID = &traderID
	default:
		return Operator{}, fmt.Errorf("unknown role %q", c.Role)
	}
	return op, nil
}

// RequireRole ensures the authenticated operator has one of the roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			op, ok := OperatorFromContext(r.Context())
			if ok {
				for _, role := range roles {
					if op.Role == role {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
		})
	}
}

// MerchantLookup resolves a merchant by API key. It returns domain.ErrNotFound
// for unknown keys.
type MerchantLookup func(ctx context.Context, apiKey string) (models.Merchant, error)

// MerchantAuth authenticates merchant routes by the X-Merchant-Api-Key header.
func MerchantAuth(lookup MerchantLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(MerchantAPIKeyHeader))
			if key == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/api-key-required"), http.StatusText(http.StatusUnauthorized), MerchantAPIKeyHeader+" header required")
				return
			}
			merchant, err := lookup(r.Context(), key)
			if errors.Is(err, domain.ErrNotFound) {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-api-key"), http.StatusText(http.StatusUnauthorized), "Invalid API key")
				return
			}
			if err != nil {
				zap.L().Error("merchant lookup failed", zap.Error(err))
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("internal-server-error"), http.StatusText(http.StatusInternalServerError), "unexpected server error")
				return
			}
			if merchant.Disabled {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/merchant-disabled"), http.StatusText(http.StatusForbidden), "merchant is disabled")
				return
			}
			ctx := context.WithValue(r.Context(), merchantContextKey, merchant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the authenticated operator.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	if ctx == nil {
		return Operator{}, false
	}
	op, ok := ctx.Value(operatorContextKey).(Operator)
	return op, ok
}

// MerchantFromContext returns the authenticated merchant.
func MerchantFromContext(ctx context.Context) (models.Merchant, bool) {
	if ctx == nil {
		return models.Merchant{}, false
	}
	m, ok := ctx.Value(merchantContextKey).(models.Merchant)
	return m, ok
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceContextKey).(string); ok {
		return v
	}
	return ""
}
