package signature

import (
	"archive/tar"
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/srcfetch/internal/models"
)

const (
	signPrefixSHA1   = ".SIGN.RSA."
	signPrefixSHA256 = ".SIGN.RSA256."
)

// RSAVerifier implements IndexVerifier for Alpine-style signed indexes
type RSAVerifier struct {
	publicKey *rsa.PublicKey
}

// NewRSAVerifier loads a PEM encoded RSA public key
func NewRSAVerifier(keyPath string) (*RSAVerifier, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is empty")
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := parseRSAPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &RSAVerifier{publicKey: publicKey}, nil
}

// parseRSAPublicKey accepts PKIX or PKCS1 encodings
func parseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(data)
	if err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA public key")
		}
		return key, nil
	}

	key, err := x509.ParsePKCS1PublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// VerifyIndex checks the signature segment at the front of a signed index.
// The signature covers the raw gzip bytes of everything after that segment.
func (v *RSAVerifier) VerifyIndex(data []byte) error {
	name, sig, signed, err := SplitSigned(data)
	if err != nil {
		return models.NewError(models.ErrSignature, "", err)
	}

	var hash crypto.Hash
	var digest []byte
	switch {
	case strings.HasPrefix(name, signPrefixSHA256):
		sum := sha256.Sum256(signed)
		hash, digest = crypto.SHA256, sum[:]
	default:
		sum := sha1.Sum(signed)
		hash, digest = crypto.SHA1, sum[:]
	}

	if err := rsa.VerifyPKCS1v15(v.publicKey, hash, digest, sig); err != nil {
		return models.NewError(models.ErrSignature, "", fmt.Errorf("index signature %s does not verify: %w", name, err))
	}
	return nil
}

// SplitSigned separates a signed index into the name and content of its
// signature entry and the bytes the signature covers.
func SplitSigned(data []byte) (string, []byte, []byte, error) {
	br := bytes.NewReader(data)
	gr, err := gzip.NewReader(br)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to read signature segment: %w", err)
	}
	defer gr.Close()
	gr.Multistream(false)

	tr := tar.NewReader(gr)
	header, err := tr.Next()
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to read signature entry: %w", err)
	}
	name := strings.TrimPrefix(header.Name, "./")
	if !strings.HasPrefix(name, signPrefixSHA1) && !strings.HasPrefix(name, signPrefixSHA256) {
		return "", nil, nil, fmt.Errorf("index is not signed (first entry %s)", name)
	}

	sig, err := io.ReadAll(tr)
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to read signature: %w", err)
	}

	// Drain the rest of the first gzip member so br sits at the next one
	if _, err := io.Copy(io.Discard, gr); err != nil {
		return "", nil, nil, fmt.Errorf("failed to read signature segment: %w", err)
	}

	offset := len(data) - br.Len()
	if offset >= len(data) {
		return "", nil, nil, fmt.Errorf("index has no signed content")
	}
	return name, sig, data[offset:], nil
}
