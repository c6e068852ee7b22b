package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig names the files used to reach the backend over HTTPS/WSS
type ClientConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Enabled reports whether any TLS material was configured
func (c ClientConfig) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Load builds the tls.Config for c
func (c ClientConfig) Load() (*tls.Config, error) {
	return LoadClientTLSConfig(c.CertFile, c.KeyFile, c.CAFile)
}

// LoadClientTLSConfig loads TLS configuration for client connections.
// certFile and keyFile are only needed for mTLS; without caFile the system
// pool verifies the server.
func LoadClientTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if (certFile == "") != (keyFile == "") {
		return nil, fmt.Errorf("client certificate and key must be given together")
	}

	// Load client certificate if provided (for mTLS)
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	// Load CA certificate to verify server
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
