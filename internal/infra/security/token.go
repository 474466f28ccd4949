package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const sessionIDBytes = 32

// GenerateSessionID returns 32 random bytes hex-encoded.
func GenerateSessionID() (string, error) {
	return GenerateHexToken(sessionIDBytes)
}

// GenerateHexToken returns byteLength random bytes hex-encoded.
func GenerateHexToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}
