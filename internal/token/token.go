// Package token issues the unguessable secrets behind public referral access:
// URL tokens, numeric access codes, and the keyed digests codes are stored as.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const (
	// Bytes of entropy per token (256 bits).
	Bytes = 32

	MinAccessCodeDigits     = 4
	MaxAccessCodeDigits     = 8
	DefaultAccessCodeDigits = 6
)

var ErrInvalidAccessCodeFormat = errors.New("access code must be 4 to 8 digits")

// Issuer produces fresh tokens and access codes.
type Issuer interface {
	NewToken() (string, error)
	NewAccessCode(digits int) (string, error)
}

// RandomIssuer draws from a cryptographically secure source.
type RandomIssuer struct {
	src io.Reader
}

func NewIssuer() *RandomIssuer {
	return &RandomIssuer{src: rand.Reader}
}

// NewToken returns 32 random bytes encoded as unpadded base64url.
func (i *RandomIssuer) NewToken() (string, error) {
	buf := make([]byte, Bytes)
	if _, err := io.ReadFull(i.src, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewAccessCode returns a uniformly drawn numeric code. Leading zeros are kept.
func (i *RandomIssuer) NewAccessCode(digits int) (string, error) {
	if digits == 0 {
		digits = DefaultAccessCodeDigits
	}
	if digits < MinAccessCodeDigits || digits > MaxAccessCodeDigits {
		return "", ErrInvalidAccessCodeFormat
	}
	ten := big.NewInt(10)
	code := make([]byte, digits)
	for k := range code {
		n, err := rand.Int(i.src, ten)
		if err != nil {
			return "", fmt.Errorf("drawing digit: %w", err)
		}
		code[k] = byte('0' + n.Int64())
	}
	return string(code), nil
}

// ValidateAccessCode checks the 4-8 ASCII digit format.
func ValidateAccessCode(code string) error {
	if len(code) < MinAccessCodeDigits || len(code) > MaxAccessCodeDigits {
		return ErrInvalidAccessCodeFormat
	}
	for k := 0; k < len(code); k++ {
		if code[k] < '0' || code[k] > '9' {
			return ErrInvalidAccessCodeFormat
		}
	}
	return nil
}

// Digester keys access codes with a server secret so a leaked table does not
// reveal the small code space.
type Digester struct {
	key []byte
}

func NewDigester(secret string) *Digester {
	return &Digester{key: []byte(secret)}
}

func (d *Digester) Digest(code string) string {
	mac := hmac.New(sha256.New, d.key)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether code hashes to stored. The comparison runs over
// fixed-length digests in constant time.
func (d *Digester) Matches(code, stored string) bool {
	if code == "" || stored == "" {
		return false
	}
	return Equal(d.Digest(code), stored)
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
