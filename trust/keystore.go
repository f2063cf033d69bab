package trust

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/youmark/pkcs8"
)

var (
	ErrKeyStorePassword = errors.New("trust: encrypted key requires a key store password")
	ErrKeyWithoutCert   = errors.New("trust: private key has no matching certificate")
)

// KeyStore is the content of a PEM bundle. Certificates that belong to a
// private key become key pairs, every other certificate is trusted.
type KeyStore struct {
	Trusted []*x509.Certificate
	Keys    []tls.Certificate
}

func LoadKeyStore(path string, password []byte) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key store %q: %w", path, err)
	}
	ks, err := DecodeKeyStore(data, password)
	if err != nil {
		return nil, fmt.Errorf("key store %q: %w", path, err)
	}
	return ks, nil
}

func DecodeKeyStore(data []byte, password []byte) (*KeyStore, error) {
	var certs []*x509.Certificate
	var keys []crypto.Signer

	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, err
			}
			certs = append(certs, cert)
		case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			key, err := parsePrivateKey(block, password)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
	}

	ks := &KeyStore{}
	used := make([]bool, len(certs))
	for _, key := range keys {
		idx := -1
		for i, cert := range certs {
			if !used[i] && publicKeyMatches(cert, key) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrKeyWithoutCert
		}
		used[idx] = true
		ks.Keys = append(ks.Keys, tls.Certificate{
			Certificate: [][]byte{certs[idx].Raw},
			PrivateKey:  key,
			Leaf:        certs[idx],
		})
	}
	for i, cert := range certs {
		if !used[i] {
			ks.Trusted = append(ks.Trusted, cert)
		}
	}
	return ks, nil
}

func parsePrivateKey(block *pem.Block, password []byte) (crypto.Signer, error) {
	var key interface{}
	var err error
	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		if len(password) == 0 {
			return nil, ErrKeyStorePassword
		}
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
	case "PRIVATE KEY":
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", strings.ToLower(block.Type), err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

func publicKeyMatches(cert *x509.Certificate, key crypto.Signer) bool {
	a, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return false
	}
	b, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// DecodeCertificates reads every CERTIFICATE block of a PEM document.
func DecodeCertificates(data []byte) ([]*x509.Certificate, error) {
	var res []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return res, nil
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		res = append(res, cert)
	}
}

// loadCertificatePath accepts a PEM file or a directory of PEM files.
func loadCertificatePath(path string) ([]*x509.Certificate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("supplementary trust %q: %w", path, err)
	}
	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("supplementary trust %q: %w", path, err)
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".pem", ".crt", ".cer":
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}

	var res []*x509.Certificate
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("supplementary trust %q: %w", f, err)
		}
		certs, err := DecodeCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("supplementary trust %q: %w", f, err)
		}
		res = append(res, certs...)
	}
	return res, nil
}
