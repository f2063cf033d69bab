package trust

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/cloudflare/cfamp/amp"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/google/uuid"
)

var appendMu sync.Mutex

// LoadDynamicCertificates reads the runtime-provisioned certificate file.
// Entries that cannot be used are logged and skipped so that one bad
// append does not take down every device connection.
func LoadDynamicCertificates(path string, log amp.Logger) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dynamic certificates %q: %w", path, err)
	}

	var res []*x509.Certificate
	for idx := 0; ; idx++ {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err == nil {
			res = append(res, cert)
			continue
		}
		MetricDynamicCertificatesSkipped.Inc()
		if log == nil {
			continue
		}
		// The CT parser accepts many of the malformed certificates
		// appliances have shipped with, which at least names the culprit.
		lenient, lerr := ctx509.ParseCertificate(block.Bytes)
		if lenient != nil && !ctx509.IsFatal(lerr) {
			log.Warnf("Skipping dynamic certificate #%d %q (serial %v): %v", idx, lenient.Subject.CommonName, lenient.SerialNumber, err)
		} else {
			log.Warnf("Skipping unreadable dynamic certificate #%d: %v", idx, err)
		}
	}
	return res, nil
}

// AppendTrustedCertificate adds a certificate to the dynamic file. It is
// picked up by the next trust context build.
func AppendTrustedCertificate(path string, cert *x509.Certificate) error {
	appendMu.Lock()
	defer appendMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	err = pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func aliasFor(src Source, cert *x509.Certificate) string {
	name := strings.ToLower(strings.TrimSpace(cert.Subject.CommonName))
	if name == "" {
		name = fmt.Sprintf("%x", cert.SerialNumber)
	}
	name = strings.ReplaceAll(name, " ", "-")
	return fmt.Sprintf("%s:%s", src, name)
}

// uniqueAlias never reuses a taken alias; collisions get a random suffix.
func uniqueAlias(base string, taken func(string) bool) string {
	alias := base
	for taken(alias) {
		alias = fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
	}
	return alias
}
