package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("super-secret-jwt-token-with-at-least-32-characters")

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string
}

func newMockOIDC(t *testing.T, keysJSON []byte) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys"}
	handler := http.NewServeMux()
	handler.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   m.issuer,
			"jwks_uri":                 m.issuer + m.jwksPath,
			"authorization_endpoint":   m.issuer + "/authorize",
			"token_endpoint":           m.issuer + "/token",
			"response_types_supported": []string{"code"},
		})
	})
	handler.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(handler)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kid := "test-key"
	jwk := jose.JSONWebKey{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}
	set := struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}{Keys: []jose.JSONWebKey{jwk}}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	return pk, kid, b
}

func signHS(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func signRS(t *testing.T, pk *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(pk)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": sub,
		"aud": "authenticated",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func tamper(tok string) string {
	parts := strings.Split(tok, ".")
	sig := []byte(parts[2])
	i := len(sig) / 2
	if sig[i] == 'A' {
		sig[i] = 'B'
	} else {
		sig[i] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}

func secretVerifier(t *testing.T, mutate func(*Config)) *Verifier {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.Leeway = 0
	if mutate != nil {
		mutate(cfg)
	}
	v, err := NewVerifier(t.Context(), cfg)
	require.NoError(t, err)
	return v
}

func TestVerifier_HappyPath(t *testing.T) {
	v := secretVerifier(t, nil)
	claims := validClaims("user-123")
	claims["email"] = "u@example.com"
	tok := signHS(t, testSecret, jwt.SigningMethodHS256, claims)

	ui, err := v.CheckAuthentication(t.Context(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", ui.UserID())

	var out struct {
		Email string `json:"email"`
	}
	require.NoError(t, ui.Claims(&out))
	assert.Equal(t, "u@example.com", out.Email)

	again, err := v.CheckAuthentication(t.Context(), tok)
	require.NoError(t, err)
	assert.Equal(t, ui.UserID(), again.UserID())
}

func TestVerifier_Rejections(t *testing.T) {
	v := secretVerifier(t, func(c *Config) { c.Issuer = "https://project.example/auth/v1" })

	withIss := func(c jwt.MapClaims) jwt.MapClaims {
		c["iss"] = "https://project.example/auth/v1"
		return c
	}

	tests := []struct {
		name string
		tok  func() string
	}{
		{"tampered signature", func() string {
			return tamper(signHS(t, testSecret, jwt.SigningMethodHS256, withIss(validClaims("u1"))))
		}},
		{"wrong secret", func() string {
			return signHS(t, []byte("another-secret-another-secret-another"), jwt.SigningMethodHS256, withIss(validClaims("u1")))
		}},
		{"expired", func() string {
			c := withIss(validClaims("u1"))
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"missing exp", func() string {
			c := withIss(validClaims("u1"))
			delete(c, "exp")
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"wrong audience", func() string {
			c := withIss(validClaims("u1"))
			c["aud"] = "anon"
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"missing audience", func() string {
			c := withIss(validClaims("u1"))
			delete(c, "aud")
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"issuer mismatch", func() string {
			c := validClaims("u1")
			c["iss"] = "https://evil.example"
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"disallowed algorithm", func() string {
			return signHS(t, testSecret, jwt.SigningMethodHS384, withIss(validClaims("u1")))
		}},
		{"unsigned token", func() string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodNone, withIss(validClaims("u1"))).SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)
			return s
		}},
		{"missing subject", func() string {
			c := withIss(validClaims("u1"))
			delete(c, "sub")
			return signHS(t, testSecret, jwt.SigningMethodHS256, c)
		}},
		{"empty subject", func() string {
			return signHS(t, testSecret, jwt.SigningMethodHS256, withIss(validClaims("")))
		}},
		{"garbage", func() string { return "not-a-jwt" }},
		{"empty", func() string { return "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.CheckAuthentication(t.Context(), tt.tok())
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerifier_AudienceArray(t *testing.T) {
	v := secretVerifier(t, nil)
	c := validClaims("user-123")
	c["aud"] = []string{"other", "authenticated"}
	_, err := v.CheckAuthentication(t.Context(), signHS(t, testSecret, jwt.SigningMethodHS256, c))
	require.NoError(t, err)
}

func TestNewVerifier_RequiresKeyMaterial(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewVerifier(context.Background(), cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Secret = testSecret
	cfg.ExpectedAudience = ""
	_, err = NewVerifier(context.Background(), cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Secret = testSecret
	cfg.AllowedAlgs = []string{"none"}
	_, err = NewVerifier(context.Background(), cfg)
	require.Error(t, err)
}

func TestVerifier_DiscoveredKeySet(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	oidc := newMockOIDC(t, jwks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	cfg.DiscoveryIssuer = oidc.issuer
	cfg.Leeway = 0
	v, err := NewVerifier(ctx, cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"HS256", "RS256", "ES256"}, cfg.AllowedAlgs)

	ui, err := v.CheckAuthentication(ctx, signRS(t, pk, kid, validClaims("rsa-user")))
	require.NoError(t, err)
	assert.Equal(t, "rsa-user", ui.UserID())

	// Shared-secret tokens keep working alongside the key set.
	ui, err = v.CheckAuthentication(ctx, signHS(t, testSecret, jwt.SigningMethodHS256, validClaims("hmac-user")))
	require.NoError(t, err)
	assert.Equal(t, "hmac-user", ui.UserID())
}

func TestVerifier_AsymmetricWithoutKeySet(t *testing.T) {
	pk, kid, _ := genRSA(t)
	v := secretVerifier(t, func(c *Config) { c.AllowedAlgs = []string{"HS256", "RS256"} })

	_, err := v.CheckAuthentication(t.Context(), signRS(t, pk, kid, validClaims("rsa-user")))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestClaimsDecoder(t *testing.T) {
	d := NewClaimsDecoder(0)

	t.Run("accepts any signature", func(t *testing.T) {
		c := validClaims("gateway-user")
		c["aud"] = "whatever"
		tok := signHS(t, []byte("secret-nobody-here-knows-about-at-all"), jwt.SigningMethodHS256, c)
		ui, err := d.CheckAuthentication(t.Context(), tok)
		require.NoError(t, err)
		assert.Equal(t, "gateway-user", ui.UserID())
	})

	t.Run("still enforces expiry", func(t *testing.T) {
		c := validClaims("gateway-user")
		c["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := d.CheckAuthentication(t.Context(), signHS(t, testSecret, jwt.SigningMethodHS256, c))
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("requires exp", func(t *testing.T) {
		c := validClaims("gateway-user")
		delete(c, "exp")
		_, err := d.CheckAuthentication(t.Context(), signHS(t, testSecret, jwt.SigningMethodHS256, c))
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("requires subject", func(t *testing.T) {
		_, err := d.CheckAuthentication(t.Context(), signHS(t, testSecret, jwt.SigningMethodHS256, validClaims("")))
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejects undecodable tokens", func(t *testing.T) {
		_, err := d.CheckAuthentication(t.Context(), "a.b.c")
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}
