// Package token implements the short-lived bearer tokens that gate
// external access to a single document instance (contract signing,
// document upload, password reset).
//
// The package never persists tokens. Uniqueness and durability belong
// to the caller's storage layer; with 256 bits of entropy, collisions
// are treated as negligible.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExpired signals a token whose expiry is in the past.
	ErrExpired = errors.New("token: expired")
	// ErrInvalid signals a token value that matches no issued token.
	ErrInvalid = errors.New("token: invalid")
)

// Type identifies what a token grants access to. Each type carries a
// default validity duration.
type Type string

const (
	TypeContract       Type = "contract"
	TypeDocumentUpload Type = "document_upload"
	TypeWorkOrder      Type = "work_order"
	TypeTimesheet      Type = "timesheet"
	TypePasswordReset  Type = "password_reset"
	TypeQuoteSheet     Type = "quote_sheet"
)

// fallbackTTL applies when the type is unknown or empty.
const fallbackTTL = 72 * time.Hour

var defaultTTLs = map[Type]time.Duration{
	TypeContract:       72 * time.Hour,
	TypeDocumentUpload: 168 * time.Hour,
	TypeWorkOrder:      168 * time.Hour,
	TypeTimesheet:      168 * time.Hour,
	TypePasswordReset:  24 * time.Hour,
	TypeQuoteSheet:     168 * time.Hour,
}

// DefaultTTL returns the configured validity duration for the type.
func (t Type) DefaultTTL() time.Duration {
	if ttl, ok := defaultTTLs[t]; ok {
		return ttl
	}
	return fallbackTTL
}

// Token is an immutable bearer token. Reissuing always creates a new
// Token; existing values are never mutated.
type Token struct {
	Value  string
	Expiry time.Time
	Type   Type
}

// Generate mints a token with the type's default validity.
func Generate(typ Type) (Token, error) {
	return GenerateTTL(typ, typ.DefaultTTL())
}

// GenerateTTL mints a token expiring after the given duration. The
// value is 32 bytes of crypto/rand output, URL-safe encoded.
func GenerateTTL(typ Type, ttl time.Duration) (Token, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, fmt.Errorf("token: read entropy: %w", err)
	}
	return Token{
		Value:  base64.RawURLEncoding.EncodeToString(raw),
		Expiry: time.Now().UTC().Add(ttl),
		Type:   typ,
	}, nil
}

// FromExisting rehydrates a previously issued token, e.g. when loading
// a contract row. No randomness is involved.
func FromExisting(value string, expiry time.Time, typ Type) Token {
	return Token{Value: value, Expiry: expiry, Type: typ}
}

// IsValid reports whether the token is usable at the current wall
// clock time.
func (t Token) IsValid() bool {
	return t.ValidAt(time.Now())
}

// IsExpired reports whether the token's expiry has passed.
func (t Token) IsExpired() bool {
	return !t.IsValid()
}

// ValidAt reports validity against an explicit clock reading.
func (t Token) ValidAt(now time.Time) bool {
	return now.Before(t.Expiry)
}

// ExpiredAt is the complement of ValidAt.
func (t Token) ExpiredAt(now time.Time) bool {
	return !t.ValidAt(now)
}

// Validate returns ErrExpired when the token is no longer usable.
func (t Token) Validate() error {
	return t.ValidateAt(time.Now())
}

// ValidateAt is Validate against an explicit clock reading.
func (t Token) ValidateAt(now time.Time) error {
	if t.ExpiredAt(now) {
		return ErrExpired
	}
	return nil
}

// String masks the token value so it is safe to log.
func (t Token) String() string {
	if len(t.Value) < 12 {
		return "***"
	}
	return t.Value[:8] + "..." + t.Value[len(t.Value)-4:]
}
