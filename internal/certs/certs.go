// Package certs opens the server's PEM material and builds its TLS config.
package certs

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/net/http2"
)

// Files holds the buffered certificate, key and CA streams.
type Files struct {
	Cert *bufio.Reader
	Key  *bufio.Reader
	CA   *bufio.Reader

	closers []io.Closer
}

// Open opens the server certificate, server key and CA certificate files.
// Files opened before a failure are closed again.
func Open(certPath, keyPath, caPath string) (*Files, error) {
	files := &Files{}

	var err error
	if files.Cert, err = files.open(certPath); err != nil {
		return nil, fmt.Errorf("failed to open server certificate file: %w", err)
	}
	if files.Key, err = files.open(keyPath); err != nil {
		_ = files.Close()
		return nil, fmt.Errorf("failed to open server key file: %w", err)
	}
	if files.CA, err = files.open(caPath); err != nil {
		_ = files.Close()
		return nil, fmt.Errorf("failed to open CA certificate file: %w", err)
	}

	return files, nil
}

func (f *Files) open(path string) (*bufio.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, file)
	return bufio.NewReader(file), nil
}

// Close closes every opened file.
func (f *Files) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

// TLSConfig reads the opened files and builds the server TLS config.
func (f *Files) TLSConfig() (*tls.Config, error) {
	return ReadTLSConfig(f.Cert, f.Key, f.CA)
}

// ReadTLSConfig builds a server tls.Config from PEM streams.
//
// Client certificates are optional but, when presented, must chain to the CA
// bundle; a verified client certificate grants read-only access.
func ReadTLSConfig(cert, key, ca io.Reader) (*tls.Config, error) {
	certPEM, err := io.ReadAll(cert)
	if err != nil {
		return nil, fmt.Errorf("failed to read server certificate: %w", err)
	}
	keyPEM, err := io.ReadAll(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read server key: %w", err)
	}
	caPEM, err := io.ReadAll(ca)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	serverCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{http2.NextProtoTLS, "http/1.1"},
	}, nil
}
