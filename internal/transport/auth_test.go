package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/LinkingMx/Law-sub002/internal/config"
)

const testKid = "test-key-1"

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return key
}

func newJWKSServer(t *testing.T, key *rsa.PrivateKey) *httptest.Server {
	t.Helper()
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": testKid,
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			},
		},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(server.Close)
	return server
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func identityConfig(jwksURL string) config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:       "https://idp.despacho.mx",
		Audience:     "lawsub-workflow",
		JWKSURL:      jwksURL,
		JWKSCacheTTL: time.Hour,
		Algorithms:   []string{"RS256"},
	}
}

func authProbe(mw func(http.Handler) http.Handler) (*httptest.Server, *map[string]any) {
	var seen map[string]any
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return httptest.NewServer(handler), &seen
}

func TestJWTAuthenticatorValidToken(t *testing.T) {
	key := newSigningKey(t)
	jwksSrv := newJWKSServer(t, key)
	cfg := identityConfig(jwksSrv.URL)

	mw := JWTAuthenticator(cfg, NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL, zap.NewNop()))
	server, seen := authProbe(mw)
	defer server.Close()

	token := signToken(t, key, jwt.MapClaims{
		"iss":   cfg.Issuer,
		"aud":   cfg.Audience,
		"sub":   "lic.garcia",
		"roles": []string{"legal"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if (*seen)["sub"] != "lic.garcia" {
		t.Errorf("claims sub = %v, want lic.garcia", (*seen)["sub"])
	}
}

func TestJWTAuthenticatorRejections(t *testing.T) {
	key := newSigningKey(t)
	jwksSrv := newJWKSServer(t, key)
	cfg := identityConfig(jwksSrv.URL)

	otherKey := newSigningKey(t)

	cases := []struct {
		name  string
		token string
	}{
		{"expired", signToken(t, key, jwt.MapClaims{
			"iss": cfg.Issuer, "aud": cfg.Audience, "sub": "u",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"wrong issuer", signToken(t, key, jwt.MapClaims{
			"iss": "https://evil.example", "aud": cfg.Audience, "sub": "u",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"wrong audience", signToken(t, key, jwt.MapClaims{
			"iss": cfg.Issuer, "aud": "other-api", "sub": "u",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"wrong signature", signToken(t, otherKey, jwt.MapClaims{
			"iss": cfg.Issuer, "aud": cfg.Audience, "sub": "u",
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
		{"no expiry", signToken(t, key, jwt.MapClaims{
			"iss": cfg.Issuer, "aud": cfg.Audience, "sub": "u",
		})},
	}

	mw := JWTAuthenticator(cfg, NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL, zap.NewNop()))
	server, _ := authProbe(mw)
	defer server.Close()

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestJWTAuthenticatorMissingHeader(t *testing.T) {
	cfg := identityConfig("http://unused.invalid")
	mw := JWTAuthenticator(cfg, NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL, zap.NewNop()))
	server, _ := authProbe(mw)
	defer server.Close()

	for _, header := range []string{"", "Basic dXNlcg==", "bearer lowercase"} {
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, resp.StatusCode)
		}
	}
}

func TestAuthenticatorDisabledWithoutIssuer(t *testing.T) {
	mw := Authenticator(config.IdentityConfig{}, zap.NewNop())
	server, seen := authProbe(mw)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", resp.StatusCode)
	}
	if *seen != nil {
		t.Errorf("claims = %v, want none for anonymous request", *seen)
	}
}

func TestJWKSClientUnknownKey(t *testing.T) {
	key := newSigningKey(t)
	jwksSrv := newJWKSServer(t, key)

	client := NewJWKSClient(jwksSrv.URL, time.Hour, zap.NewNop())
	if _, err := client.GetKey(testKid); err != nil {
		t.Fatalf("GetKey(%s) error = %v", testKid, err)
	}
	if _, err := client.GetKey("other-kid"); err == nil {
		t.Fatal("GetKey(unknown) succeeded, want error")
	}
}
