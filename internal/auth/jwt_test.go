package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/acme/triple-line-dialer/internal/config"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(config.AuthConfig{JWTSecret: "s3cret", JWTAudience: "authenticated"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyRoundTrip(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sub, err := v.Verify(token)
	if err != nil || sub != "user-1" {
		t.Fatalf("expected user-1, got %q %v", sub, err)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier(t)
	expired, _ := v.Issue("user-1", -time.Hour)

	other, _ := NewVerifier(config.AuthConfig{JWTSecret: "other", JWTAudience: "authenticated"})
	foreign, _ := other.Issue("user-1", time.Hour)

	wrongAud, _ := NewVerifier(config.AuthConfig{JWTSecret: "s3cret", JWTAudience: "service"})
	audToken, _ := wrongAud.Issue("user-1", time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSub, _ := v.Issue("", time.Hour)

	for name, token := range map[string]string{
		"expired":   expired,
		"signature": foreign,
		"audience":  audToken,
		"alg none":  none,
		"subject":   noSub,
		"garbage":   "not-a-token",
	} {
		if _, err := v.Verify(token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	app := fiber.New()
	app.Get("/me", Middleware(v), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})

	token, _ := v.Issue("user-7", time.Hour)
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/me", nil))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
}
