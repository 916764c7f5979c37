package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthenticatorIssueVerify(t *testing.T) {
	a, err := NewAuthenticator("s3cret", "dialer")
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	token, err := a.Issue("ops", time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Issuer != "dialer" || claims.ID == "" {
		t.Errorf("claims = %+v", claims)
	}

	other, _ := NewAuthenticator("other", "dialer")
	if _, err := other.Verify(token); !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		t.Errorf("Verify(wrong secret) error = %v", err)
	}

	wrongIssuer, _ := NewAuthenticator("s3cret", "billing")
	if _, err := wrongIssuer.Verify(token); !errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		t.Errorf("Verify(wrong issuer) error = %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _ := a.Issue("ops", time.Minute)
	a.now = time.Now
	if _, err := a.Verify(stale); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Verify(expired) error = %v", err)
	}

	if _, err := NewAuthenticator("", ""); err == nil {
		t.Error("NewAuthenticator(empty) error = nil")
	}
}

func TestProtectedRoutes(t *testing.T) {
	a, _ := NewAuthenticator("s3cret", "")
	f := newFixture(t, a)
	token, _ := a.Issue("ops", time.Minute)

	if rec := f.do(t, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without token = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("stats without token = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/stats", "", "Authorization", "Bearer garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("stats with bad token = %d, want 401", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/stats", "", "Authorization", "Bearer "+token); rec.Code != http.StatusOK {
		t.Errorf("stats with token = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/calls?access_token="+token, ""); rec.Code != http.StatusOK {
		t.Errorf("calls with query token = %d, want 200", rec.Code)
	}
}

func TestBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := bearer(req); !errors.Is(err, ErrNoToken) {
		t.Errorf("bearer() error = %v, want ErrNoToken", err)
	}
	req.Header.Set("Authorization", "Bearer  abc ")
	if tok, _ := bearer(req); tok != "abc" {
		t.Errorf("bearer() = %q, want abc", tok)
	}
}
