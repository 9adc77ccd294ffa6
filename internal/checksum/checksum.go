// Package checksum computes and compares content hashes of backup artifacts.
// A mismatch is reported distinctly from an I/O failure: an unreadable file
// is an error, never a "false" verification result.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// DefaultAlgorithm is used when no algorithm is configured.
const DefaultAlgorithm = "sha256"

const blake3OutputSize = 32

var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"blake3": func() hash.Hash { return blake3.New(blake3OutputSize, nil) },
}

// SupportedAlgorithm reports whether name is a known hash algorithm.
func SupportedAlgorithm(name string) bool {
	_, ok := algorithms[name]
	return ok
}

// Verifier fingerprints artifacts with a fixed hash algorithm.
type Verifier struct {
	algorithm string
}

// NewVerifier returns a Verifier for the named algorithm.
func NewVerifier(algorithm string) (*Verifier, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if !SupportedAlgorithm(algorithm) {
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}
	return &Verifier{algorithm: algorithm}, nil
}

// Algorithm returns the configured algorithm name.
func (v *Verifier) Algorithm() string {
	return v.algorithm
}

// Fingerprint streams the file at path through the hash and returns the
// hex-encoded digest.
func (v *Verifier) Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := algorithms[v.algorithm]()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the file's digest and compares it to expected. It returns
// false only on a genuine mismatch; read failures surface as errors.
func (v *Verifier) Verify(path, expected string) (bool, error) {
	actual, err := v.Fingerprint(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}
