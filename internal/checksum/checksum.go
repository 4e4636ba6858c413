// Package checksum computes content digests used to detect byte-identical output.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
)

// Digest returns the raw SHA-256 digest of data.
func Digest(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := Digest(data)
	return hex.EncodeToString(h[:])
}

// File returns the digest of the file at path.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Sum(data), nil
}

// Equal reports whether the file at path holds exactly data.
// A missing file is never equal.
func Equal(path string, data []byte) bool {
	cs, err := File(path)
	if err != nil {
		return false
	}
	return cs == Sum(data)
}
