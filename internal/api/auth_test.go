package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthenticator_MintVerify(t *testing.T) {
	a := NewAuthenticator("s3cret", time.Hour)
	tok, err := a.Mint("homeassistant")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := a.Verify(tok)
	if err != nil || sub != "homeassistant" {
		t.Errorf("Verify() = %q, %v", sub, err)
	}

	if _, err := a.Mint(""); err == nil {
		t.Error("Mint(\"\") should fail")
	}
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator("s3cret", time.Hour)
	good, _ := a.Mint("ha")

	expired := NewAuthenticator("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.Mint("ha")

	other, _ := NewAuthenticator("different", time.Hour).Mint("ha")

	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "ha",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  TokenIssuer,
		Subject: "ha",
	}).SignedString([]byte("s3cret"))

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   "ha",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", old},
		{"wrong secret", other},
		{"wrong issuer", foreign},
		{"no expiry", noExp},
		{"alg none", unsigned},
		{"garbage", "not.a.token"},
		{"tampered", good[:len(good)-2] + "xx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Verify(tt.token); err == nil {
				t.Error("Verify() should fail")
			}
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	a := NewAuthenticator("s3cret", time.Hour)
	var gotSub string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = SubjectFromContext(r.Context())
	}))

	tok, _ := a.Mint("kitchen-display")
	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + tok, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized},
		{"empty bearer", "Bearer  ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSub = ""
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if tt.code == http.StatusOK && gotSub != "kitchen-display" {
				t.Errorf("subject = %q", gotSub)
			}
			if tt.code == http.StatusUnauthorized && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Bearer") {
				t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}
