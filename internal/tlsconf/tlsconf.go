// Package tlsconf derives TLS credentials for the wlsel TCP listener from a
// shared passphrase.
//
// The private key comes from HKDF over the passphrase, so server and client
// derive the same key independently. The certificate around it is generated
// fresh at startup; clients verify the server's public key, never the
// certificate chain. A client with the wrong passphrase expects a different
// key and the handshake fails.
//
// Key derivation:
//
//	HKDF-SHA256(ikm=passphrase, salt="wlsel-tls-v1", info="private-key")
//	→ 64 bytes → reduced mod curve order → ECDSA P-256 key
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

// DefaultPassphrase is used when no --token flag is provided.
const DefaultPassphrase = "wlsel"

const (
	salt       = "wlsel-tls-v1"
	serverName = "wlsel"
)

// ErrKeyMismatch is returned by the client verifier when the server's key was
// not derived from the client's passphrase.
var ErrKeyMismatch = errors.New("tlsconf: server public key does not match passphrase")

// Credentials holds both sides of a passphrase-derived TLS setup.
type Credentials struct {
	// Server is for tls.NewListener. ALPN offers h2 and http/1.1 so gRPC and
	// HTTP/JSON clients can share one listener.
	Server *tls.Config
	// Client accepts only a server holding the derived key.
	Client *tls.Config

	pub []byte
}

// New derives Credentials from passphrase.
func New(passphrase string) (*Credentials, error) {
	key, err := deriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	der, err := selfSignedCert(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: cert: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal pubkey: %w", err)
	}

	c := &Credentials{pub: pub}
	c.Server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS13,
	}
	c.Client = &tls.Config{
		// Chain verification is replaced by the public key check below.
		InsecureSkipVerify:    true, //nolint:gosec
		ServerName:            serverName,
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: c.verify,
	}
	return c, nil
}

func (c *Credentials) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("tlsconf: server presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("tlsconf: parse server cert: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return fmt.Errorf("tlsconf: marshal server pubkey: %w", err)
	}
	if !bytes.Equal(pub, c.pub) {
		return ErrKeyMismatch
	}
	return nil
}

// GRPC returns the client side as gRPC transport credentials.
func (c *Credentials) GRPC() credentials.TransportCredentials {
	return credentials.NewTLS(c.Client)
}

// Fingerprint is a short hex digest of the derived public key, for logs.
func (c *Credentials) Fingerprint() string {
	sum := sha256.Sum256(c.pub)
	return hex.EncodeToString(sum[:8])
}

// ClientCredentials returns gRPC transport credentials derived from passphrase.
func ClientCredentials(passphrase string) (credentials.TransportCredentials, error) {
	c, err := New(passphrase)
	if err != nil {
		return nil, err
	}
	return c.GRPC(), nil
}

func deriveKey(passphrase string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("private-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := curve.Params().N
	k := new(big.Int).SetBytes(buf)
	k.Mod(k, new(big.Int).Sub(n, big.NewInt(1)))
	k.Add(k, big.NewInt(1)) // k in [1, N-1]

	key := new(ecdsa.PrivateKey)
	key.PublicKey.Curve = curve
	key.D = k
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(k.Bytes())
	return key, nil
}

// selfSignedCert returns a DER certificate for key. Only its public key is
// ever checked.
func selfSignedCert(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(100 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
