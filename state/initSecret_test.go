package state

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
)

// writeTestKeyPair generates an RSA key pair and writes both PEM files into
// dir, returning their paths.
func writeTestKeyPair(t *testing.T, dir string) (privPath, pubPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "Failed to generate RSA key")

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err, "Failed to marshal public key")
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	privPath = filepath.Join(dir, "private.pem")
	pubPath = filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0644))
	return privPath, pubPath
}

func TestInitSecret_Success(t *testing.T) {
	tempDir := t.TempDir()
	privPath, pubPath := writeTestKeyPair(t, tempDir)

	secret, err := InitSecret(privPath, pubPath)

	require.NoError(t, err, "InitSecret should not return an error")
	require.NotNil(t, secret, "JwtSecret should not be nil")
	assert.NotNil(t, secret.Private, "Private key should be parsed")
	assert.NotNil(t, secret.Public, "Public key should be parsed")
}

func TestInitSecret_MissingPrivateKey(t *testing.T) {
	tempDir := t.TempDir()
	_, pubPath := writeTestKeyPair(t, tempDir)

	secret, err := InitSecret(filepath.Join(tempDir, "does-not-exist.pem"), pubPath)

	assert.Error(t, err, "InitSecret should fail when private key is missing")
	assert.Nil(t, secret)
}

func TestInitSecret_MissingPublicKey(t *testing.T) {
	tempDir := t.TempDir()
	privPath, _ := writeTestKeyPair(t, tempDir)

	secret, err := InitSecret(privPath, filepath.Join(tempDir, "does-not-exist.pem"))

	assert.Error(t, err, "InitSecret should fail when public key is missing")
	assert.Nil(t, secret)
}

func TestInitSecret_InvalidPEM(t *testing.T) {
	tempDir := t.TempDir()
	_, pubPath := writeTestKeyPair(t, tempDir)

	badPath := filepath.Join(tempDir, "bad.pem")
	require.NoError(t, os.WriteFile(badPath, []byte("not a pem file"), 0600))

	secret, err := InitSecret(badPath, pubPath)

	assert.Error(t, err, "InitSecret should fail on garbage private key")
	assert.Nil(t, secret)
}
