package engine

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torque-foxes/ss-oauth2-server/security"
)

func writeTestKeyPair(t *testing.T) (privPath, pubPath string, key *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath = filepath.Join(dir, "key.pem")
	pubPath = filepath.Join(dir, "key.pub.pem")

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o600))

	return privPath, pubPath, key
}

func TestLoadPrivateKey(t *testing.T) {
	privPath, _, key := writeTestKeyPair(t)

	loaded, err := LoadPrivateKey(privPath)
	require.NoError(t, err)
	assert.Zero(t, loaded.N.Cmp(key.N))

	_, err = LoadPrivateKey(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}

func TestLoadPrivateKey_PKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(path, pemBytes, 0o600))

	loaded, err := LoadPrivateKey(path)
	require.NoError(t, err)
	assert.Zero(t, loaded.N.Cmp(key.N))
}

func TestLoadPublicKey(t *testing.T) {
	_, pubPath, key := writeTestKeyPair(t)

	loaded, err := LoadPublicKey(pubPath)
	require.NoError(t, err)
	assert.Zero(t, loaded.N.Cmp(key.N))
}

func TestLoadKey_NotPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := LoadPrivateKey(path)
	assert.Error(t, err)
	_, err = LoadPublicKey(path)
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	_, _, key := writeTestKeyPair(t)
	store, _ := newEngineStore(t)

	cfg := ProviderConfig{
		Issuer:       "https://auth.example.com",
		PrivateKey:   key,
		GlobalSecret: []byte("0123456789abcdef0123456789abcdef"),
		Hasher:       NewSecretHasher(security.NewSecretStore("", 0)),
	}

	provider, err := NewProvider(store, cfg)
	require.NoError(t, err)
	assert.NotNil(t, provider)

	_, err = NewProvider(store, ProviderConfig{GlobalSecret: cfg.GlobalSecret})
	assert.Error(t, err, "a signing key is required")

	_, err = NewProvider(store, ProviderConfig{PrivateKey: key, GlobalSecret: []byte("short")})
	assert.Error(t, err, "the global secret must be long enough")
}
