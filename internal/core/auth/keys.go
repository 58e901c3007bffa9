package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	keyPrefix     = "cg"
	keyVersion    = "v1"
	secretIDLen   = 32 // hex UUIDv7 without hyphens
	randomDataLen = 64 // hex, 256 bits
)

// ParseAPIKey extracts secret_id and random_data from an API key.
// Format: cg-v1-<secret_id>-<random_data>.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != keyPrefix || parts[1] != keyVersion {
		return "", "", ErrInvalidKeyFormat
	}

	secretID, randomData = parts[2], parts[3]
	if !isLowerHex(secretID, secretIDLen) || !isLowerHex(randomData, randomDataLen) {
		return "", "", ErrInvalidKeyFormat
	}
	return secretID, randomData, nil
}

// FormatAPIKey constructs an API key from its components.
func FormatAPIKey(secretID, randomData string) string {
	return strings.Join([]string{keyPrefix, keyVersion, secretID, randomData}, "-")
}

// GenerateAPIKey creates a new key signed under secretID.
func GenerateAPIKey(secretID string) (string, error) {
	if !isLowerHex(secretID, secretIDLen) {
		return "", errors.Wrap(ErrInvalidKeyFormat, "secret_id")
	}
	buf := make([]byte, randomDataLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random data")
	}
	return FormatAPIKey(secretID, hex.EncodeToString(buf)), nil
}

// ComputeHMAC returns HMAC-SHA256(secret, apiKey), the value stored as key_hash.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}

// VerifyHMAC compares two hashes in constant time.
func VerifyHMAC(expected, computed []byte) bool {
	return hmac.Equal(expected, computed)
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
