package relay

import (
	"crypto/rand"
	"fmt"
)

// CodeLength is the number of symbols in a pairing code.
const CodeLength = 6

// codeAlphabet is A-Z and 0-9 without the look-alikes 0, O, 1 and I. Its 32
// symbols let a random byte be reduced with a mask and no bias.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random pairing code.
func NewCode() (string, error) {
	var buf [CodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[b&31]
	}
	return string(buf[:]), nil
}

// ValidCode reports whether s could have been issued by NewCode.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isCodeSymbol(s[i]) {
			return false
		}
	}
	return true
}

func isCodeSymbol(c byte) bool {
	for i := 0; i < len(codeAlphabet); i++ {
		if codeAlphabet[i] == c {
			return true
		}
	}
	return false
}
