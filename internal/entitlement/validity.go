package entitlement

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
)

const (
	tokenLength   = 16
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Validity is a parsed duration string such as "7d", "12h" or "l".
type Validity struct {
	Lifetime bool
	Length   time.Duration
}

var validityUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	// "y" counts days, matching the key format operators already hand out.
	'y': 24 * time.Hour,
}

// ParseValidity parses "<n><unit>" with unit one of s, m, h, d, y, or a
// lifetime marker "l" optionally prefixed with digits that are ignored.
func ParseValidity(s string) (Validity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Validity{}, fmt.Errorf("empty duration: %w", apperr.ErrInvalidInput)
	}
	unit := s[len(s)-1]
	amount := s[:len(s)-1]
	if unit == 'l' {
		if amount != "" {
			if _, err := strconv.ParseUint(amount, 10, 64); err != nil {
				return Validity{}, fmt.Errorf("duration %q: %w", s, apperr.ErrInvalidInput)
			}
		}
		return Validity{Lifetime: true}, nil
	}
	per, ok := validityUnits[unit]
	if !ok {
		return Validity{}, fmt.Errorf("duration %q has unknown unit: %w", s, apperr.ErrInvalidInput)
	}
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil || n <= 0 {
		return Validity{}, fmt.Errorf("duration %q needs a positive amount: %w", s, apperr.ErrInvalidInput)
	}
	if n > int64(math.MaxInt64/per) {
		return Validity{}, fmt.Errorf("duration %q is too long: %w", s, apperr.ErrInvalidInput)
	}
	return Validity{Length: time.Duration(n) * per}, nil
}

// ExpiresAt returns nil for lifetime validity.
func (v Validity) ExpiresAt(from time.Time) *time.Time {
	if v.Lifetime {
		return nil
	}
	t := from.Add(v.Length)
	return &t
}

func newToken() (string, error) {
	b := make([]byte, tokenLength)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
