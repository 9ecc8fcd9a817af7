package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

// Claims carried by bearer tokens. sub is the user id.
type Claims struct {
	UserID    string `json:"sub"`
	CompanyID string `json:"companyId"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator resolves bearer tokens to caller identities. Revoked token
// ids are kept in Redis under auth:revoked:<jti>.
type Authenticator struct {
	secret  []byte
	redis   *redis.Client
	timeout time.Duration
	now     func() time.Time
}

func NewAuthenticator(secret string, client *redis.Client, timeout time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), redis: client, timeout: timeout, now: time.Now}
}

func revokedKey(jti string) string { return "auth:revoked:" + jti }

// Resolve returns the anonymous identity for an empty token. Any token that
// cannot be verified in time is Unauthorized.
func (a *Authenticator) Resolve(ctx context.Context, token string) (domain.CallerIdentity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return domain.CallerIdentity{}, nil
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return domain.CallerIdentity{}, domain.Wrap(domain.KindUnauthorized, "invalid token", err)
	}
	if claims.UserID == "" {
		return domain.CallerIdentity{}, domain.NewError(domain.KindUnauthorized, "token has no subject")
	}
	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleDriver, domain.RoleVehicleAgent, domain.RoleDispatcher, domain.RoleViewer, domain.RoleAdmin:
	default:
		return domain.CallerIdentity{}, domain.NewError(domain.KindUnauthorized, "unknown role")
	}

	if err := a.checkRevoked(ctx, claims.ID); err != nil {
		return domain.CallerIdentity{}, err
	}
	return domain.CallerIdentity{UserID: claims.UserID, CompanyID: claims.CompanyID, Role: role}, nil
}

func (a *Authenticator) checkRevoked(ctx context.Context, jti string) error {
	if a.redis == nil || jti == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	n, err := a.redis.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Wrap(domain.KindUnauthorized, "auth lookup timed out", err)
		}
		return domain.Wrap(domain.KindUnauthorized, "auth lookup failed", err)
	}
	if n > 0 {
		return domain.NewError(domain.KindUnauthorized, "token revoked")
	}
	return nil
}

// Revoke marks a token id as revoked until the token would have expired.
func (a *Authenticator) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if a.redis == nil {
		return errors.New("revocation store not configured")
	}
	return a.redis.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

// Issue signs a token for the given identity. Used by tooling and tests.
func (a *Authenticator) Issue(caller domain.CallerIdentity, jti string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		UserID:    caller.UserID,
		CompanyID: caller.CompanyID,
		Role:      string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
