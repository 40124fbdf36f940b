package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// UserCodeAlphabet is the character set for device flow user codes.
// Vowels and ambiguous glyphs are excluded so codes cannot spell words
// and survive being read over the phone.
const UserCodeAlphabet = "BCDFGHJKMNPQRSTVWXZ"

// UserCodeLength is the number of alphabet characters in a user code,
// excluding the display separator.
const UserCodeLength = 8

// GenerateUserCode returns a random device flow user code in canonical
// form, without the display separator.
func GenerateUserCode() (string, error) {
	max := big.NewInt(int64(len(UserCodeAlphabet)))
	var b strings.Builder
	b.Grow(UserCodeLength)
	for i := 0; i < UserCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("cryptox: generate user code: %w", err)
		}
		b.WriteByte(UserCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatUserCode renders a canonical user code for display, grouped as
// XXXX-XXXX.
func FormatUserCode(code string) string {
	if len(code) != UserCodeLength {
		return code
	}
	return code[:4] + "-" + code[4:]
}

// NormalizeUserCode maps user input back to canonical form: uppercase
// with separators and whitespace removed.
func NormalizeUserCode(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToUpper(input) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
