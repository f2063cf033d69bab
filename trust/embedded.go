package trust

import (
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"fmt"
)

// Vendor CA generations that signed appliance management certificates.
var (
	//go:embed certs/appliance-ca-g1.pem
	applianceCAG1 []byte
	//go:embed certs/appliance-ca-g2.pem
	applianceCAG2 []byte
	//go:embed certs/appliance-ca-g3.pem
	applianceCAG3 []byte

	//go:embed certs/default-client.pem
	defaultClientCert []byte
	//go:embed certs/default-client.key
	defaultClientKey []byte
)

func embeddedAuthorities() ([]*x509.Certificate, error) {
	var res []*x509.Certificate
	for i, data := range [][]byte{applianceCAG1, applianceCAG2, applianceCAG3} {
		certs, err := DecodeCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("embedded CA generation %d: %w", i+1, err)
		}
		res = append(res, certs...)
	}
	return res, nil
}

// embeddedKeyPair is only used when no operator key is configured.
func embeddedKeyPair() (tls.Certificate, error) {
	kp, err := tls.X509KeyPair(defaultClientCert, defaultClientKey)
	if err != nil {
		return kp, fmt.Errorf("embedded default key pair: %w", err)
	}
	kp.Leaf, err = x509.ParseCertificate(kp.Certificate[0])
	return kp, err
}
