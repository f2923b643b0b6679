package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// GenerateOTPCode returns a random 6-digit decimal code in 100000-999999.
func GenerateOTPCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	num := binary.BigEndian.Uint64(buf[:])
	code := 100000 + (num % 900000)

	return fmt.Sprintf("%06d", code), nil
}

// HashCode calculates a SHA-256 hash of the provided code, hex encoded.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// HashEquals compares two code hashes without short-circuiting on a prefix match.
func HashEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
