package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func TestServiceParseAccessTokenSuccess(t *testing.T) {
	svc := newTestService(t, newFakeQueries(), nil)
	fixed := time.Now()
	svc.WithNow(func() time.Time { return fixed })

	token, _, err := svc.signAccessToken("user-id", RoleCustomer)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	claims, err := svc.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != "user-id" {
		t.Fatalf("unexpected subject: %s", claims.UserID)
	}
	if claims.Role != RoleCustomer {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}

func TestServiceParseAccessTokenRejectsAlgorithmMismatch(t *testing.T) {
	svc := newTestService(t, newFakeQueries(), nil)
	fixed := time.Now()
	svc.WithNow(func() time.Time { return fixed })

	built, err := jwt.NewBuilder().
		Subject("user-id").
		Issuer(svc.issuer).
		Audience([]string{svc.audience}).
		IssuedAt(fixed).
		NotBefore(fixed.Add(-svc.clockSkew)).
		Expiration(fixed.Add(svc.accessTTL)).
		Claim("role", RoleCustomer).
		Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS384, svc.secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := svc.ParseAccessToken(string(signed)); err == nil {
		t.Fatal("expected algorithm mismatch error")
	}
}

func TestServiceParseAccessTokenRejectsForeignKey(t *testing.T) {
	svc := newTestService(t, newFakeQueries(), nil)
	other := newTestService(t, newFakeQueries(), nil)
	other.secret = []byte("a-different-secret")

	token, _, err := other.signAccessToken("user-id", RoleCustomer)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}
	if _, err := svc.ParseAccessToken(token); err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestServiceParseAccessTokenRejectsExpired(t *testing.T) {
	svc := newTestService(t, newFakeQueries(), nil)
	past := time.Now().Add(-time.Hour)
	svc.WithNow(func() time.Time { return past })

	token, _, err := svc.signAccessToken("user-id", RoleCustomer)
	if err != nil {
		t.Fatalf("sign access token: %v", err)
	}

	svc.WithNow(time.Now)
	if _, err := svc.ParseAccessToken(token); err == nil {
		t.Fatal("expected expired token error")
	}
}
