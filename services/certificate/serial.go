package certificate

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"certproof/models"
)

const (
	defaultSerialPrefix = "CRT"
	serialSpace         = 1_000_000
)

// serialPrefix picks the SNO prefix for an issuer: its institute code, else
// the first (up to three) letters of its name, else CRT.
func serialPrefix(issuer *models.User) string {
	if code := strings.TrimSpace(issuer.InstituteCode); code != "" {
		return strings.ToUpper(code)
	}
	var b strings.Builder
	for _, r := range issuer.Name {
		if unicode.IsLetter(r) && r < unicode.MaxASCII {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() == 3 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return defaultSerialPrefix
	}
	return b.String()
}

// randomSerial returns <prefix>-<year>-<6 digits>. Uniqueness is enforced by
// the store, not here.
func randomSerial(prefix string, year int) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(serialSpace))
	if err != nil {
		return "", fmt.Errorf("generate serial: %w", err)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n.Int64()), nil
}
