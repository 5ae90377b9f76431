package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fotogem/studio-gateway/internal/logging"
)

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func runAuth(t *testing.T, m *AuthMiddleware, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seenUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID = logging.GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	m.Handler(next).ServeHTTP(rec, req)
	return rec, seenUserID
}

func TestAuth_ValidToken(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims("acct-1")))

	rec, userID := runAuth(t, m, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if userID != "acct-1" {
		t.Errorf("expected account ID in context, got %q", userID)
	}
}

func TestAuth_UserIDClaimWinsOverSubject(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	claims := validClaims("subject-id")
	claims.UserID = "explicit-id"
	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))

	_, userID := runAuth(t, m, req)
	if userID != "explicit-id" {
		t.Errorf("expected explicit user_id claim, got %q", userID)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	rec, _ := runAuth(t, m, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuth_WrongKey(t *testing.T) {
	key := newSigningKey(t)
	other := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, other, validClaims("acct-1")))

	rec, _ := runAuth(t, m, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", rec.Code)
	}
}

func TestAuth_ExpiredToken(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	claims := validClaims("acct-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, claims))

	rec, _ := runAuth(t, m, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestAuth_HMACTokenRejected(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("acct-1"))
	signed, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me/credits", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rec, _ := runAuth(t, m, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("HS256 must be refused, got %d", rec.Code)
	}
}

func TestAuth_SkipPath(t *testing.T) {
	key := newSigningKey(t)
	m := NewAuthMiddleware(&key.PublicKey, logging.NewDefault("test"), []string{"/health"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec, userID := runAuth(t, m, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("skip path must pass unauthenticated, got %d", rec.Code)
	}
	if userID != "" {
		t.Errorf("no identity expected on skip path, got %q", userID)
	}
}
