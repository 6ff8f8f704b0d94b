package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// MakeRandHexString returns size random bytes encoded as hex, so the result
// is 2*size characters long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandomPrefix is the collision-resistant prefix put in front of stored
// object names.
func RandomPrefix() (string, error) {
	s, err := MakeRandHexString(8)
	if err != nil {
		return "", fmt.Errorf("random prefix: %w", err)
	}
	return s, nil
}

// HumanSize formats a byte count the way records store it, e.g. "4.10 kB".
func HumanSize(n int) string {
	return fmt.Sprintf("%.2f kB", float64(n)/1024)
}
