package binary

import (
	"crypto/md5" //nolint:gosec // MD5 pins an engine version; it is not a security control.
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// errUnknownAlgorithm is returned for digest algorithms without a hash constructor.
var errUnknownAlgorithm = errors.New("unknown digest algorithm")

// hashConstructors maps manifest algorithm names to hash constructors.
//
//nolint:gochecknoglobals // Read-only lookup table.
var hashConstructors = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

// NewHash returns a fresh hash for the named algorithm.
func NewHash(algorithm string) (hash.Hash, error) {
	constructor, ok := hashConstructors[algorithm]
	if !ok {
		return nil, fmt.Errorf("%s: %w", algorithm, errUnknownAlgorithm)
	}

	return constructor(), nil
}

// FileDigest streams the file at path through the named algorithm and returns
// the lowercase hex digest.
func FileDigest(path, algorithm string) (string, error) {
	hasher, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// BytesDigest returns the lowercase hex digest of data.
func BytesDigest(data []byte, algorithm string) (string, error) {
	hasher, err := NewHash(algorithm)
	if err != nil {
		return "", err
	}

	_, _ = hasher.Write(data)

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
