package signature

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ralt/srcfetch/internal/models"
)

// OpenPGPVerifier implements Verifier against a public keyring
type OpenPGPVerifier struct {
	keyring openpgp.EntityList
}

// NewOpenPGPVerifier loads an armored or binary public keyring
func NewOpenPGPVerifier(keyringPath string) (*OpenPGPVerifier, error) {
	if keyringPath == "" {
		return nil, fmt.Errorf("keyring path is empty")
	}

	keyFile, err := os.Open(keyringPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	defer keyFile.Close()

	entities, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		keyFile.Seek(0, 0)
		entities, err = openpgp.ReadKeyRing(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read keyring: %w", err)
		}
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in %s", keyringPath)
	}

	return &OpenPGPVerifier{keyring: entities}, nil
}

// VerifyDetached checks sig against signed. A signature made by a key
// outside the keyring fails like a corrupt one.
func (v *OpenPGPVerifier) VerifyDetached(signed io.Reader, sig []byte) error {
	var err error
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN")) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, signed, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return models.NewError(models.ErrSignature, "", fmt.Errorf("bad signature: %w", err))
	}
	return nil
}
