package trust

import (
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/internal/testutil/tlstest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmbeddedOnly(t *testing.T) {
	ctx, err := Build(Options{})
	require.NoError(t, err)

	aliases := ctx.Aliases()
	assert.Len(t, aliases, 3)
	for _, alias := range aliases {
		assert.True(t, strings.HasPrefix(alias, "embedded:"), alias)
	}
	assert.True(t, ctx.UsingDefaultKey())
	require.Len(t, ctx.KeyPairs(), 1)
	assert.Equal(t, "amp-default-client", ctx.KeyPairs()[0].Certificate.Leaf.Subject.CommonName)
}

func TestBuildMergeOrderAndCollisions(t *testing.T) {
	dir := t.TempDir()

	// Two different authorities sharing a common name must both survive.
	first := tlstest.NewAuthority(t, dir, "Device CA")
	second := tlstest.NewAuthority(t, t.TempDir(), "Device CA")
	supplementary := filepath.Join(dir, "extra")
	require.NoError(t, os.MkdirAll(supplementary, 0o755))
	copyFile(t, first.CAFile(), filepath.Join(supplementary, "a.pem"))
	copyFile(t, second.CAFile(), filepath.Join(supplementary, "b.crt"))
	// Ignored extension.
	require.NoError(t, os.WriteFile(filepath.Join(supplementary, "notes.txt"), []byte("x"), 0o644))

	operator := tlstest.NewAuthority(t, dir, "Operator CA")
	client := operator.IssueClient(t, "manager")
	keystore := filepath.Join(dir, "keystore.pem")
	var ks []byte
	ks = append(ks, client.CertPEM...)
	ks = append(ks, client.EncryptedKeyPEM(t, "s3cret")...)
	ks = append(ks, readFile(t, operator.CAFile())...)
	require.NoError(t, os.WriteFile(keystore, ks, 0o600))

	ctx, err := Build(Options{
		KeyStorePath:       keystore,
		KeyStorePassword:   "s3cret",
		SupplementaryPaths: []string{supplementary},
	})
	require.NoError(t, err)

	assert.False(t, ctx.UsingDefaultKey())
	require.Len(t, ctx.KeyPairs(), 1)
	assert.Equal(t, "manager", ctx.KeyPairs()[0].Certificate.Leaf.Subject.CommonName)

	var deviceCAs []string
	for _, alias := range ctx.Aliases() {
		if strings.HasPrefix(alias, "supplementary:device-ca") {
			deviceCAs = append(deviceCAs, alias)
		}
	}
	require.Len(t, deviceCAs, 2)
	assert.Contains(t, deviceCAs, "supplementary:device-ca")

	op, ok := ctx.Trusted("keystore:operator-ca")
	require.True(t, ok)
	assert.Equal(t, SourceKeyStore, op.Source)
	// 3 embedded + 2 supplementary + operator CA.
	assert.Len(t, ctx.Aliases(), 6)
}

func TestBuildKeyStoreErrors(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "Operator CA")
	client := ca.IssueClient(t, "manager")

	path := filepath.Join(dir, "ks.pem")
	require.NoError(t, os.WriteFile(path, append(client.CertPEM, client.EncryptedKeyPEM(t, "pw")...), 0o600))

	_, err := Build(Options{KeyStorePath: path})
	assert.True(t, errors.Is(err, ErrKeyStorePassword))

	_, err = Build(Options{KeyStorePath: path, KeyStorePassword: "wrong"})
	assert.Error(t, err)

	other := ca.IssueClient(t, "other")
	require.NoError(t, os.WriteFile(path, append(client.CertPEM, other.KeyPEM...), 0o600))
	_, err = Build(Options{KeyStorePath: path})
	assert.True(t, errors.Is(err, ErrKeyWithoutCert))
}

func TestDynamicCertificates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.pem")

	certs, err := LoadDynamicCertificates(path, nil)
	require.NoError(t, err)
	assert.Empty(t, certs)

	ca := tlstest.NewAuthority(t, dir, "Provisioned CA")
	require.NoError(t, AppendTrustedCertificate(path, ca.Cert))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	later := tlstest.NewAuthority(t, dir, "Provisioned CA 2")
	require.NoError(t, AppendTrustedCertificate(path, later.Cert))

	log := logrus.New()
	log.SetOutput(os.Stderr)
	certs, err = LoadDynamicCertificates(path, log)
	require.NoError(t, err)
	require.Len(t, certs, 2)

	ctx, err := Build(Options{DynamicCertsPath: path})
	require.NoError(t, err)
	_, ok := ctx.Trusted("dynamic:provisioned-ca")
	assert.True(t, ok)
}

func TestBuilderCachesFailure(t *testing.T) {
	b := NewBuilder(Options{KeyStorePath: filepath.Join(t.TempDir(), "missing.pem"), Log: logrus.New()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := b.Context()
			assert.Nil(t, ctx)
			assert.True(t, errors.Is(err, amp.ErrIO))
		}()
	}
	wg.Wait()
}

func TestBuilderSharesContext(t *testing.T) {
	b := NewBuilder(Options{})
	a, err := b.Context()
	require.NoError(t, err)
	c, err := b.Context()
	require.NoError(t, err)
	assert.Same(t, a, c)
}

func TestVerifyPeerChainIgnoresHostname(t *testing.T) {
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "Appliance CA")
	device := ca.IssueServer(t, "factory-name.invalid", []string{"factory-name.invalid"}, nil)

	ctx, err := Build(Options{SupplementaryPaths: []string{ca.CAFile()}})
	require.NoError(t, err)
	assert.NoError(t, ctx.VerifyPeerChain([][]byte{device.Cert.Raw}, x509.ExtKeyUsageServerAuth))

	stranger := tlstest.NewAuthority(t, t.TempDir(), "Stranger CA").IssueServer(t, "evil", nil, nil)
	assert.Error(t, ctx.VerifyPeerChain([][]byte{stranger.Cert.Raw}, x509.ExtKeyUsageServerAuth))
	assert.Error(t, ctx.VerifyPeerChain(nil, x509.ExtKeyUsageServerAuth))

	cfg := ctx.ClientTLSConfig()
	assert.True(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.VerifyPeerCertificate)

	srv, err := ctx.ServerTLSConfig()
	require.NoError(t, err)
	assert.Len(t, srv.Certificates, 1)
}

func copyFile(t *testing.T, from, to string) {
	t.Helper()
	require.NoError(t, os.WriteFile(to, readFile(t, from), 0o644))
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
