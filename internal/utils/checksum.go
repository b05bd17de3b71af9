package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ralt/srcfetch/internal/models"
	"golang.org/x/crypto/blake2b"
)

// digesters maps normalized algorithm names to hash constructors.
// Unknown algorithms are rejected.
var digesters = map[string]func() (hash.Hash, error){
	"md5":        plain(md5.New),
	"sha1":       plain(sha1.New),
	"sha224":     plain(sha256.New224),
	"sha256":     plain(sha256.New),
	"sha384":     plain(sha512.New384),
	"sha512":     plain(sha512.New),
	"blake2b256": func() (hash.Hash, error) { return blake2b.New256(nil) },
	"blake2b384": func() (hash.Hash, error) { return blake2b.New384(nil) },
	"blake2b512": func() (hash.Hash, error) { return blake2b.New512(nil) },
}

func plain(f func() hash.Hash) func() (hash.Hash, error) {
	return func() (hash.Hash, error) { return f(), nil }
}

// Digest is an expected digest of a file
type Digest struct {
	Algorithm string
	Value     string
}

// NormalizeAlgorithm folds spellings like "SHA-256" or "sha_256" to "sha256"
func NormalizeAlgorithm(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	return strings.ReplaceAll(name, "_", "")
}

// SupportedAlgorithms returns the known algorithm names, sorted
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(digesters))
	for name := range digesters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewHash returns a hash for the named algorithm
func NewHash(algorithm string) (hash.Hash, error) {
	ctor, ok := digesters[NormalizeAlgorithm(algorithm)]
	if !ok {
		return nil, models.Errorf(models.ErrUnsupportedChecksumAlgorithm, "",
			"unsupported checksum algorithm %q (supported: %s)", algorithm, strings.Join(SupportedAlgorithms(), ", "))
	}
	return ctor()
}

// CheckAlgorithms fails if any digest uses an unknown algorithm
func CheckAlgorithms(digests []Digest) error {
	for _, d := range digests {
		if _, err := NewHash(d.Algorithm); err != nil {
			return err
		}
	}
	return nil
}

// CalculateChecksums calculates the requested checksums for a file in a single pass
func CalculateChecksums(path string, algorithms ...string) (map[string]string, error) {
	hashes := make(map[string]hash.Hash, len(algorithms))
	writers := make([]io.Writer, 0, len(algorithms))
	for _, algo := range algorithms {
		name := NormalizeAlgorithm(algo)
		if _, ok := hashes[name]; ok {
			continue
		}
		h, err := NewHash(name)
		if err != nil {
			return nil, err
		}
		hashes[name] = h
		writers = append(writers, h)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Use MultiWriter to calculate all hashes at once
	if _, err := io.Copy(io.MultiWriter(writers...), f); err != nil {
		return nil, err
	}

	sums := make(map[string]string, len(hashes))
	for name, h := range hashes {
		sums[name] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

// VerifyFile checks a file against every expected digest. A mismatch is a
// ChecksumMismatch error naming the algorithm and both digests.
func VerifyFile(path string, expected ...Digest) error {
	if len(expected) == 0 {
		return fmt.Errorf("no checksum to verify %s against", path)
	}

	algorithms := make([]string, 0, len(expected))
	for _, d := range expected {
		algorithms = append(algorithms, d.Algorithm)
	}

	sums, err := CalculateChecksums(path, algorithms...)
	if err != nil {
		return err
	}

	for _, d := range expected {
		actual := sums[NormalizeAlgorithm(d.Algorithm)]
		if !strings.EqualFold(actual, d.Value) {
			return models.Errorf(models.ErrChecksumMismatch, "",
				"%s: %s mismatch: expected %s, got %s", path, d.Algorithm, d.Value, actual)
		}
	}
	return nil
}
