// Package trust builds the certificate and key material shared by the
// command transport and the notification receiver.
//
// Appliance certificates are usually issued for a name that has nothing to
// do with the address the manager connects to (factory names, cluster VIPs,
// raw IPs). Hostname verification is therefore disabled on purpose: the peer
// chain is verified against the trust set, its names are not. This is an
// accepted risk of the management protocol, not an oversight.
package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudflare/cfamp/amp"
)

type Source int

const (
	SourceKeyStore Source = iota
	SourceSystem
	SourceSupplementary
	SourceEmbedded
	SourceDynamic
)

var SourceToName = map[Source]string{
	SourceKeyStore:      "keystore",
	SourceSystem:        "system",
	SourceSupplementary: "supplementary",
	SourceEmbedded:      "embedded",
	SourceDynamic:       "dynamic",
}

func (s Source) String() string {
	return SourceToName[s]
}

type Options struct {
	// KeyStorePath is a PEM bundle with certificates and private keys.
	// Private keys may be encrypted PKCS#8 protected by KeyStorePassword.
	KeyStorePath     string
	KeyStorePassword string

	// SystemRoots starts the trust set from the platform store.
	SystemRoots bool
	// SupplementaryPaths are extra CA files or directories of CA files.
	SupplementaryPaths []string

	// DynamicCertsPath is the append-only file of certificates provisioned
	// at runtime. A missing file is not an error.
	DynamicCertsPath string

	// MinVersion defaults to TLS 1.2.
	MinVersion uint16

	Log amp.Logger
}

type TrustedCert struct {
	Alias  string
	Source Source
	Cert   *x509.Certificate
}

type KeyPair struct {
	Alias       string
	Source      Source
	Certificate tls.Certificate
}

// Context is immutable once built and safe for concurrent use.
type Context struct {
	roots      *x509.CertPool
	trusted    map[string]TrustedCert
	keys       []KeyPair
	minVersion uint16
	builtAt    time.Time
}

func (c *Context) Roots() *x509.CertPool {
	return c.roots
}

// Aliases lists the trusted certificates known by name. Platform roots are
// part of Roots but are not enumerable.
func (c *Context) Aliases() []string {
	res := make([]string, 0, len(c.trusted))
	for alias := range c.trusted {
		res = append(res, alias)
	}
	sort.Strings(res)
	return res
}

func (c *Context) Trusted(alias string) (TrustedCert, bool) {
	t, ok := c.trusted[alias]
	return t, ok
}

func (c *Context) KeyPairs() []KeyPair {
	res := make([]KeyPair, len(c.keys))
	copy(res, c.keys)
	return res
}

// UsingDefaultKey reports whether no operator key was configured.
func (c *Context) UsingDefaultKey() bool {
	return len(c.keys) == 1 && c.keys[0].Source == SourceEmbedded
}

func (c *Context) BuiltAt() time.Time {
	return c.builtAt
}

func (c *Context) certificates() []tls.Certificate {
	res := make([]tls.Certificate, len(c.keys))
	for i, k := range c.keys {
		res[i] = k.Certificate
	}
	return res
}

// VerifyPeerChain checks the presented chain against the trust set without
// looking at host names.
func (c *Context) VerifyPeerChain(rawCerts [][]byte, usage x509.ExtKeyUsage) error {
	if len(rawCerts) == 0 {
		return errors.New("no certificates presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}
	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Roots:         c.roots,
		Intermediates: intermediates,
		CurrentTime:   time.Now(),
		KeyUsages:     []x509.ExtKeyUsage{usage, x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("peer certificate %q not trusted: %w", leaf.Subject.CommonName, err)
	}
	return nil
}

// ClientTLSConfig is used for outbound command connections.
func (c *Context) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   c.minVersion,
		Certificates: c.certificates(),
		RootCAs:      c.roots,

		// Go's verifier always checks the host name; the chain is verified
		// in VerifyPeerCertificate instead.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return c.VerifyPeerChain(rawCerts, x509.ExtKeyUsageServerAuth)
		},
	}
}

// ServerTLSConfig is used by the notification receiver. Devices are not
// required to present a certificate; when they do it must chain to the
// trust set.
func (c *Context) ServerTLSConfig() (*tls.Config, error) {
	if len(c.keys) == 0 {
		return nil, errors.New("trust context has no key material")
	}
	return &tls.Config{
		MinVersion:   c.minVersion,
		Certificates: c.certificates(),
		ClientCAs:    c.roots,
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}, nil
}

// Builder builds the context once, on first use.
type Builder struct {
	opts Options

	once sync.Once
	ctx  *Context
	err  error
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts}
}

// Context returns the cached context. A failed build is logged once as a
// fatal condition and every caller then receives an I/O error instead of a
// usable context; the process itself keeps running.
func (b *Builder) Context() (*Context, error) {
	b.once.Do(func() {
		b.ctx, b.err = Build(b.opts)
		if b.err != nil {
			if b.opts.Log != nil {
				b.opts.Log.Errorf("FATAL: TLS trust context could not be built, device connections will fail: %v", b.err)
			}
			MetricTrustBuildFailures.Inc()
			return
		}
		MetricTrustedCertificates.Set(float64(len(b.ctx.trusted)))
		if b.opts.Log != nil {
			b.opts.Log.Infof("TLS trust context built: %d named certificates, %d key pairs (default key: %v)",
				len(b.ctx.trusted), len(b.ctx.keys), b.ctx.UsingDefaultKey())
		}
	})
	if b.err != nil {
		return nil, amp.NewError(amp.KindIO, "TLS trust context unavailable", b.err)
	}
	return b.ctx, nil
}

// Build merges, in order: the key store, the platform roots, supplementary
// CA files, the embedded vendor CAs and the dynamic certificate file.
func Build(opts Options) (*Context, error) {
	c := &Context{
		trusted:    make(map[string]TrustedCert),
		minVersion: opts.MinVersion,
		builtAt:    time.Now(),
	}
	if c.minVersion == 0 {
		c.minVersion = tls.VersionTLS12
	}

	if opts.SystemRoots {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system roots: %w", err)
		}
		c.roots = pool
	} else {
		c.roots = x509.NewCertPool()
	}

	if opts.KeyStorePath != "" {
		ks, err := LoadKeyStore(opts.KeyStorePath, []byte(opts.KeyStorePassword))
		if err != nil {
			return nil, err
		}
		for _, cert := range ks.Trusted {
			c.addTrusted(SourceKeyStore, cert, opts.Log)
		}
		for _, kp := range ks.Keys {
			c.addKey(SourceKeyStore, kp)
		}
	}

	for _, path := range opts.SupplementaryPaths {
		certs, err := loadCertificatePath(path)
		if err != nil {
			return nil, err
		}
		for _, cert := range certs {
			c.addTrusted(SourceSupplementary, cert, opts.Log)
		}
	}

	embedded, err := embeddedAuthorities()
	if err != nil {
		return nil, err
	}
	for _, cert := range embedded {
		c.addTrusted(SourceEmbedded, cert, opts.Log)
	}

	if opts.DynamicCertsPath != "" {
		certs, err := LoadDynamicCertificates(opts.DynamicCertsPath, opts.Log)
		if err != nil {
			return nil, err
		}
		for _, cert := range certs {
			c.addTrusted(SourceDynamic, cert, opts.Log)
		}
	}

	if len(c.keys) == 0 {
		kp, err := embeddedKeyPair()
		if err != nil {
			return nil, err
		}
		c.addKey(SourceEmbedded, kp)
	}

	return c, nil
}

func (c *Context) addTrusted(src Source, cert *x509.Certificate, log amp.Logger) {
	for _, t := range c.trusted {
		if t.Cert.Equal(cert) {
			return
		}
	}
	alias := uniqueAlias(aliasFor(src, cert), func(a string) bool {
		_, exists := c.trusted[a]
		return exists
	})
	if log != nil {
		log.Debugf("Trusting %s certificate %q as %s", src, cert.Subject.String(), alias)
	}
	c.trusted[alias] = TrustedCert{Alias: alias, Source: src, Cert: cert}
	c.roots.AddCert(cert)
}

func (c *Context) addKey(src Source, kp tls.Certificate) {
	var base string
	if kp.Leaf != nil {
		base = aliasFor(src, kp.Leaf)
	} else {
		base = fmt.Sprintf("%s:key", src)
	}
	alias := uniqueAlias(base, func(a string) bool {
		for _, k := range c.keys {
			if k.Alias == a {
				return true
			}
		}
		return false
	})
	c.keys = append(c.keys, KeyPair{Alias: alias, Source: src, Certificate: kp})
}
