package auth

import (
	"crypto/rand"
	"fmt"
)

// Glyphs that read ambiguously in email fonts (0/O/o, 1/I/l, i, L)
// are excluded since the credential is read out of an email.
const passwordAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"

// TemporaryPassword returns a random credential of n characters for a
// freshly activated account. The caller stores only the bcrypt hash.
func TemporaryPassword(n int) (string, error) {
	if n < 8 {
		n = 8
	}
	// Rejection sampling: bytes at or above the largest multiple of
	// the alphabet size are discarded, keeping every character equally
	// likely.
	limit := byte(256 - 256%len(passwordAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("auth: generate password: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, passwordAlphabet[int(b)%len(passwordAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
