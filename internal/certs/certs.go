package certs

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrNoKeys = errors.New("https.keys.private and https.keys.public are required")

// Material is the key and certificate read at startup. It is never reloaded.
type Material struct {
	Key  []byte
	Cert []byte
}

func Load(privatePath, publicPath string) (*Material, error) {
	if privatePath == "" || publicPath == "" {
		return nil, ErrNoKeys
	}

	key, err := os.ReadFile(filepath.Clean(privatePath))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	cert, err := os.ReadFile(filepath.Clean(publicPath))
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}

	return &Material{Key: key, Cert: cert}, nil
}

func (m *Material) TLSConfig() (*tls.Config, error) {
	pair, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
