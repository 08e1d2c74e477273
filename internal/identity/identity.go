// Package identity canonicalizes inbound channel addresses into the single
// key used for conversation records.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Prefix is the transport prefix carried by every canonical identity.
const Prefix = "whatsapp:"

const (
	minDigits = 10
	maxDigits = 15 // E.164 upper bound
)

// ErrInvalidIdentity is returned when an address cannot be reduced to a
// plausible international-format handle.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

// Normalize reduces a raw channel address ("whatsapp:+34 600 111 222",
// "34600111222", "0034-600-111-222") to its canonical form
// "whatsapp:+<digits>". Normalize is idempotent.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for {
		lower := strings.ToLower(s)
		if !strings.HasPrefix(lower, Prefix) {
			break
		}
		s = strings.TrimSpace(s[len(Prefix):])
	}

	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '.', r == '(', r == ')', r == '\t':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
	}

	digits := b.String()
	if !strings.HasPrefix(s, "+") && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidIdentity, raw, len(digits))
	}
	return Prefix + "+" + digits, nil
}

// MustNormalize is Normalize for identities known to be valid, such as
// literals in tests and seed data. It panics on error.
func MustNormalize(raw string) string {
	id, err := Normalize(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// Digits returns the bare international number of a canonical identity,
// without transport prefix or plus sign.
func Digits(id string) string {
	return strings.TrimPrefix(strings.TrimPrefix(id, Prefix), "+")
}
