package kalshi

// auth.go: firma de requests autenticados.
//
// Cada request privado lleva tres headers:
//   KALSHI-ACCESS-KEY        id de la API key
//   KALSHI-ACCESS-TIMESTAMP  milisegundos unix
//   KALSHI-ACCESS-SIGNATURE  base64(RSA-PSS-SHA256(timestamp + método + path sin query))

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadPrivateKey reads a PEM RSA key in PKCS#1 or PKCS#8 form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kalshi.LoadPrivateKey: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM RSA key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("kalshi.ParsePrivateKey: no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("kalshi.ParsePrivateKey: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi.ParsePrivateKey: not an RSA key (%T)", parsed)
	}
	return key, nil
}

type signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// sign añade los headers de autenticación a req.
func (s *signer) sign(req *http.Request) error {
	if s == nil || s.key == nil {
		return fmt.Errorf("kalshi: no private key loaded, cannot authenticate")
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	path, _, _ := strings.Cut(req.URL.Path, "?")
	digest := sha256.Sum256([]byte(ts + req.Method + path))

	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("kalshi: sign: %w", err)
	}
	req.Header.Set("KALSHI-ACCESS-KEY", s.keyID)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(sig))
	return nil
}
