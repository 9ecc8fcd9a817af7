package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/nandanugg/hazard-watch/module/tracking/domain"
)

var dispatcher = domain.CallerIdentity{UserID: "u1", CompanyID: "co1", Role: domain.RoleDispatcher}

func newTestAuthenticator(t *testing.T) (*Authenticator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuthenticator("test-secret", client, 2*time.Second), mr
}

func TestResolve_Valid(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	token, err := a.Issue(dispatcher, "jti-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	got, err := a.Resolve(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != dispatcher {
		t.Fatalf("expected %+v, got %+v", dispatcher, got)
	}
}

func TestResolve_EmptyIsAnonymous(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	got, err := a.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Anonymous() {
		t.Fatalf("expected anonymous caller, got %+v", got)
	}
}

func TestResolve_Rejected(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	other := NewAuthenticator("other-secret", nil, time.Second)
	foreign, _ := other.Issue(dispatcher, "x", time.Hour)
	expired, _ := a.Issue(dispatcher, "y", -time.Minute)
	badRole, _ := a.Issue(domain.CallerIdentity{UserID: "u1", Role: "root"}, "z", time.Hour)
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", Role: "admin"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"unknown role", badRole},
		{"none algorithm", noneAlg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Resolve(context.Background(), tt.token)
			if domain.KindOf(err) != domain.KindUnauthorized {
				t.Fatalf("expected Unauthorized, got %v", err)
			}
		})
	}
}

func TestResolve_Revoked(t *testing.T) {
	a, mr := newTestAuthenticator(t)
	token, _ := a.Issue(dispatcher, "jti-2", time.Hour)
	if err := a.Revoke(context.Background(), "jti-2", time.Hour); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("auth:revoked:jti-2") {
		t.Fatal("expected revocation key in redis")
	}

	if _, err := a.Resolve(context.Background(), token); domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestResolve_RevocationStoreDown(t *testing.T) {
	a, mr := newTestAuthenticator(t)
	token, _ := a.Issue(dispatcher, "jti-3", time.Hour)
	mr.Close()

	if _, err := a.Resolve(context.Background(), token); domain.KindOf(err) != domain.KindUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}
