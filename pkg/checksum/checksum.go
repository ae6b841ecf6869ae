// Package checksum computes SHA-256 digests of archived activity objects. The archive is
// write-once, so a record shipped twice must produce byte-identical objects; comparing
// digests lets the archive shipper confirm that without buffering the stored copy.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Sum returns the lowercase hex SHA-256 digest of data
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CalculateSHA256 returns the lowercase hex SHA-256 digest of everything read from reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Matches reports whether the content of reader has the digest want
func Matches(reader io.Reader, want string) (bool, error) {
	got, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
