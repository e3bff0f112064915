// Package ca implements the Aegis certificate authority: a persistent root
// key-pair and on-demand per-host leaf certificate minting for the MITM
// proxy.
package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	leafCacheSize  = 1024
	leafValidFrom  = -1 * time.Hour
	leafValidUntil = 397 * 24 * time.Hour
)

// Authority owns the root key pair and mints/caches leaf certificates.
type Authority struct {
	mu       sync.Mutex
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	rootTLS  tls.Certificate

	leaves *lru.Cache[string, *tls.Certificate]
	serial *big.Int
}

// Load reads the root CA from dataDir/ca, generating it on first launch.
// Key material is restricted to the owning user (mode 0600 for the key).
func Load(dataDir string) (*Authority, error) {
	caDir := filepath.Join(dataDir, "ca")
	if err := os.MkdirAll(caDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating ca dir: %w", err)
	}

	keyPath := filepath.Join(caDir, "root.key")
	certPath := filepath.Join(caDir, "root.crt")

	cert, key, err := loadRoot(keyPath, certPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading existing root: %w", err)
		}
		slog.Info("ca: no root found, generating new root CA", "dir", caDir)
		cert, key, err = generateRoot(keyPath, certPath)
		if err != nil {
			return nil, fmt.Errorf("generating root: %w", err)
		}
	}

	leaves, err := lru.New[string, *tls.Certificate](leafCacheSize)
	if err != nil {
		return nil, fmt.Errorf("allocating leaf cache: %w", err)
	}

	rootTLS := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}

	return &Authority{
		rootCert: cert,
		rootKey:  key,
		rootTLS:  rootTLS,
		leaves:   leaves,
		serial:   big.NewInt(time.Now().UnixNano()),
	}, nil
}

func loadRoot(keyPath, certPath string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, err
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, err
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("invalid root key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("root key is not ECDSA")
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, fmt.Errorf("invalid root cert PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing root cert: %w", err)
	}

	return cert, ecKey, nil
}

func generateRoot(keyPath, certPath string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Aegis Local CA"},
			CommonName:   "Aegis Root CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating root certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	if err := writePEM(keyPath, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return nil, nil, err
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

// RootCert returns the PEM-encoded root certificate, for install-hint UIs.
func (a *Authority) RootCert() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.rootCert.Raw})
}

// LeafFor returns a cached or freshly minted leaf certificate for host.
// Certificate serials are always unique even for a repeated host.
func (a *Authority) LeafFor(host string) (*tls.Certificate, error) {
	host = strings.ToLower(host)
	if leaf, ok := a.leaves.Get(host); ok {
		return leaf, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check under lock: another goroutine may have minted it already.
	if leaf, ok := a.leaves.Get(host); ok {
		return leaf, nil
	}

	leaf, err := a.mintLeaf(host)
	if err != nil {
		return nil, err
	}
	a.leaves.Add(host, leaf)
	return leaf, nil
}

func (a *Authority) mintLeaf(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		DNSNames:     []string{host, "*." + host},
		NotBefore:    time.Now().Add(leafValidFrom),
		NotAfter:     time.Now().Add(leafValidUntil),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, a.rootCert, &key.PublicKey, a.rootKey)
	if err != nil {
		return nil, fmt.Errorf("minting leaf for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, a.rootCert.Raw},
		PrivateKey:  key,
	}, nil
}

// TLSConfig returns a *tls.Config that mints leaves on demand via SNI,
// suitable for tls.Listen / http.Server.TLSConfig on the terminating path.
func (a *Authority) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				return nil, fmt.Errorf("no SNI host presented")
			}
			return a.LeafFor(host)
		},
		MinVersion: tls.VersionTLS12,
	}
}
