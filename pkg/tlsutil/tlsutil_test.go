package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/metaingest/errors"
)

// writeTestCert writes a self-signed certificate and its key, returning the
// file paths. The certificate doubles as its own CA.
func writeTestCert(t *testing.T) (certFile, keyFile string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"Test Org"}, CommonName: "localhost"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))
	return certFile, keyFile
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile := writeTestCert(t)
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o644))

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantNil bool
		wantErr bool
		check   func(t *testing.T, c *tls.Config)
	}{
		{name: "disabled", cfg: ClientConfig{CAFiles: []string{"missing.pem"}}, wantNil: true},
		{
			name: "system pool and defaults",
			cfg:  ClientConfig{Enabled: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.NotNil(t, c.RootCAs)
				assert.Equal(t, uint16(tls.VersionTLS12), c.MinVersion)
				assert.Empty(t, c.Certificates)
			},
		},
		{
			name: "extra CA, client certificate and TLS 1.3",
			cfg:  ClientConfig{Enabled: true, CAFiles: []string{certFile}, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3"},
			check: func(t *testing.T, c *tls.Config) {
				assert.Equal(t, uint16(tls.VersionTLS13), c.MinVersion)
				assert.Len(t, c.Certificates, 1)
			},
		},
		{
			name: "insecure skip verify",
			cfg:  ClientConfig{Enabled: true, InsecureSkipVerify: true},
			check: func(t *testing.T, c *tls.Config) {
				assert.True(t, c.InsecureSkipVerify)
			},
		},
		{name: "missing CA file", cfg: ClientConfig{Enabled: true, CAFiles: []string{"missing.pem"}}, wantErr: true},
		{name: "invalid CA data", cfg: ClientConfig{Enabled: true, CAFiles: []string{garbage}}, wantErr: true},
		{name: "cert without key", cfg: ClientConfig{Enabled: true, CertFile: certFile}, wantErr: true},
		{name: "unknown version", cfg: ClientConfig{Enabled: true, MinVersion: "1.0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadClientConfig(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsFatal(err))
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			tt.check(t, got)
		})
	}
}
