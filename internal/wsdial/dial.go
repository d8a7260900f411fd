// Package wsdial provides the two collaborators spec.md §1 treats as
// external and out of scope for the core: a dialer that returns a
// connected byte stream, and a secure transport provider that wraps
// one in TLS. BuildTLSConfig turns the caller's CA trust mode, cipher
// suite list, and client certificate pair into a *tls.Config; the TLS
// protocol itself is left to the stdlib crypto/tls.
package wsdial

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// Dialer returns a connected, not-yet-TLS-wrapped byte stream. The
// default is net.Dialer.DialContext; tests substitute an in-memory
// pipe.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Default dials plain TCP with no special options.
func Default(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// CATrust selects how the peer certificate chain is verified.
type CATrust int

const (
	// SystemCA verifies against the host's root certificate pool.
	SystemCA CATrust = iota
	// FileCA verifies against a single PEM file named by TLSOptions.CAFile.
	FileCA
	// NoVerify disables certificate verification entirely. Only ever
	// appropriate against a known, trusted peer in development.
	NoVerify
)

// TLSOptions carries the opaque "secure transport provider" knobs of
// spec.md §6: CA trust mode, an optional cipher suite allowlist, and
// an optional client certificate pair.
type TLSOptions struct {
	CATrust        CATrust
	CAFile         string
	CipherSuites   []uint16 // empty means crypto/tls's default preference order
	ClientCertFile string
	ClientKeyFile  string
}

// BuildTLSConfig compiles opts into a *tls.Config for serverName.
func BuildTLSConfig(opts TLSOptions, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:   serverName,
		CipherSuites: opts.CipherSuites,
	}

	switch opts.CATrust {
	case SystemCA:
		// Leave cfg.RootCAs nil: crypto/tls falls back to the system pool.
	case FileCA:
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("wsdial: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("wsdial: no certificates parsed from %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	case NoVerify:
		cfg.InsecureSkipVerify = true
	default:
		return nil, fmt.Errorf("wsdial: unknown CA trust mode %d", opts.CATrust)
	}

	if opts.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.ClientCertFile, opts.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("wsdial: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// TLSError marks a failure in Dial's TLS phase (config build or
// handshake), as distinct from the plain TCP dial that precedes it, so
// a caller can tell a refused/unreachable connection apart from a
// certificate or handshake problem.
type TLSError struct {
	err error
}

func (e *TLSError) Error() string { return e.err.Error() }
func (e *TLSError) Unwrap() error { return e.err }

// Dial connects to addr via dialer and, if secure, layers TLS over the
// resulting net.Conn using opts.
func Dial(ctx context.Context, dialer Dialer, addr string, secure bool, opts TLSOptions, serverName string) (net.Conn, error) {
	if dialer == nil {
		dialer = Default
	}
	conn, err := dialer(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsdial: dial: %w", err)
	}
	if !secure {
		return conn, nil
	}

	tlsCfg, err := BuildTLSConfig(opts, serverName)
	if err != nil {
		conn.Close()
		return nil, &TLSError{err: err}
	}
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &TLSError{err: fmt.Errorf("wsdial: tls handshake: %w", err)}
	}
	return tlsConn, nil
}
