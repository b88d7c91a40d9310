package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KromaEnergia/contract-engine/internal/clock"
	"github.com/KromaEnergia/contract-engine/internal/config"
	"github.com/KromaEnergia/contract-engine/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func newKeys(t *testing.T) *Keys {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return NewKeys(priv, "k1", "contract-engine", "contract-api")
}

func TestLoadKeysAcceptsPKCS1AndPKCS8(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)

	blocks := map[string]*pem.Block{
		"pkcs1.pem": {Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)},
		"pkcs8.pem": {Type: "PRIVATE KEY", Bytes: pkcs8},
	}
	dir := t.TempDir()
	for name, block := range blocks {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))

		keys, err := LoadKeys(config.Auth{PrivateKeyPath: path, KID: "k1", Issuer: "iss", Audience: "aud"})
		require.NoError(t, err, name)
		assert.True(t, keys.Private.Equal(priv), name)
	}
}

func TestLoadKeysErrors(t *testing.T) {
	_, err := LoadKeys(config.Auth{})
	assert.ErrorContains(t, err, "missing envs")

	path := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0o600))
	_, err = LoadKeys(config.Auth{PrivateKeyPath: path, KID: "k1", Issuer: "iss", Audience: "aud"})
	assert.ErrorContains(t, err, "pem decode")
}

func TestIssueAndVerify(t *testing.T) {
	keys := newKeys(t)
	user := tenancy.ActingUser{ID: "u1", TenantID: "t1", Roles: []string{"finance"}}

	raw, err := keys.Issue(user, now, 0)
	require.NoError(t, err)

	claims, err := keys.Verify(raw, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, user, claims.User())

	_, err = keys.Verify(raw, now.Add(AccessTTL+time.Minute))
	assert.Error(t, err, "expired token must be rejected")
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	keys, other := newKeys(t), newKeys(t)
	raw, err := other.Issue(tenancy.ActingUser{ID: "u1", TenantID: "t1"}, now, 0)
	require.NoError(t, err)

	_, err = keys.Verify(raw, now)
	assert.Error(t, err)

	other.Audience = "someone-else"
	other.Private = keys.Private
	raw, err = other.Issue(tenancy.ActingUser{ID: "u1", TenantID: "t1"}, now, 0)
	require.NoError(t, err)
	_, err = keys.Verify(raw, now)
	assert.Error(t, err, "wrong audience")
}

func TestMiddlewarePutsTenancyOnRequest(t *testing.T) {
	keys := newKeys(t)
	var got tenancy.Context
	h := Middleware(keys, clock.NewFixed(now))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := Tenancy(w, r)
		require.True(t, ok)
		got = tc
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contracts", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	raw, err := keys.Issue(tenancy.ActingUser{ID: "u1", TenantID: "t1", Roles: []string{"director"}}, now, 0)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/contracts", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "t1", got.TenantID)
	assert.True(t, got.Actor.HasRole("director"))
}

func TestJWKSPublishesActiveKey(t *testing.T) {
	keys := newKeys(t)
	rec := httptest.NewRecorder()
	keys.JWKSHandler(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	var body struct {
		Keys []jwk `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "k1", body.Keys[0].Kid)
	assert.Equal(t, "AQAB", body.Keys[0].E)
}
