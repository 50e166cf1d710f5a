package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testConfig = Config{Secret: "test-secret", Issuer: "progress-test"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeProgressSubmit, ScopeProgressRead},
	})

	claims, err := Parse(token, testConfig)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if !claims.HasScope(ScopeProgressSubmit) || !claims.HasScope(ScopeProgressRead) {
		t.Fatalf("scopes missing: %+v", claims.Scopes)
	}
	if claims.HasScope(ScopeProgressReview) {
		t.Fatal("review scope must not be granted")
	}
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "coach",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "progress:review progress:read",
	})

	claims, err := Parse(token, testConfig)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !claims.HasScope(ScopeProgressReview) {
		t.Fatalf("scopes missing: %+v", claims.Scopes)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := Parse(token, testConfig); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := Parse(token, testConfig); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken got %v", err)
	}
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := Parse(token, testConfig); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken got %v", err)
	}
}

func TestParseEmptyToken(t *testing.T) {
	if _, err := Parse("  ", testConfig); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken got %v", err)
	}
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeProgressSubmit},
	})

	var seen *Claims
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if seen == nil || seen.Subject != "user-1" {
		t.Fatalf("claims not propagated: %+v", seen)
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := NewMiddleware(testConfig, nil).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/submissions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestMiddlewareSkipperBypassesAuth(t *testing.T) {
	skipper := func(r *http.Request) bool { return r.URL.Path == "/healthz" }
	called := false
	handler := NewMiddleware(testConfig, skipper).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || !called {
		t.Fatalf("healthz should bypass auth, got %d called=%v", rr.Code, called)
	}
}
