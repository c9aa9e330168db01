package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func TestIssueSession(t *testing.T) {
	cfg := testConfig()
	svc := NewTokenService(cfg, zap.NewNop())

	signed, err := svc.IssueSession(context.Background(), "alice")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	token, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.JWT.Secret), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token does not validate: %v", err)
	}

	claims := token.Claims.(jwt.MapClaims)
	if sub, _ := claims.GetSubject(); sub != "alice" {
		t.Errorf("expected subject alice, got %q", sub)
	}
	if iss, _ := claims.GetIssuer(); iss != cfg.JWT.Issuer {
		t.Errorf("expected issuer %q, got %q", cfg.JWT.Issuer, iss)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		t.Fatalf("missing expiry: %v", err)
	}
	remaining := time.Until(exp.Time)
	if remaining <= 0 || remaining > time.Duration(cfg.JWT.ExpiryHours)*time.Hour {
		t.Errorf("unexpected expiry window: %v", remaining)
	}
}

func TestIssueSessionWrongSecretRejected(t *testing.T) {
	svc := NewTokenService(testConfig(), zap.NewNop())

	signed, err := svc.IssueSession(context.Background(), "bob")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	_, err = jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return []byte("some-other-secret"), nil
	})
	if err == nil {
		t.Fatal("expected validation to fail with wrong secret")
	}
}
