// Package shortcode generates and validates the short, human-typable task
// references used in SMS commands and replies.
package shortcode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet is the fixed confusable-free symbol set: lowercase letters and
// digits with 0, 1, i, l and o removed.
const Alphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	// MinLength and MaxLength bound valid code lengths.
	MinLength = 4
	MaxLength = 6

	// maxAttempts bounds collision-checked generation before the
	// unchecked length-6 fallback.
	maxAttempts = 5
)

// ExistsFunc reports whether a code is already in use for the given user.
// Uniqueness is scoped to (code, user); the same code may exist for
// different users.
type ExistsFunc func(ctx context.Context, userID, code string) (bool, error)

// Generator produces collision-resistant codes against a scoped existence
// check. The zero randInt uses crypto/rand; tests may inject a deterministic
// source.
type Generator struct {
	exists  ExistsFunc
	randInt func(n int) (int, error)
}

// NewGenerator returns a Generator backed by the given existence check.
func NewGenerator(exists ExistsFunc) *Generator {
	return &Generator{exists: exists, randInt: cryptoRandInt}
}

func cryptoRandInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Generate returns a code unused by the given user, together with the number
// of attempts consumed. Attempts 1-2 use length 4, attempts 3-5 length 5.
// If all five candidates collide, one final length-6 code is returned
// without a collision check; the attempt count stays at 5 on that path.
func (g *Generator) Generate(ctx context.Context, userID string) (string, int, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		length := 4
		if attempt >= 3 {
			length = 5
		}
		code, err := g.random(length)
		if err != nil {
			return "", attempt, err
		}
		taken, err := g.exists(ctx, userID, code)
		if err != nil {
			return "", attempt, fmt.Errorf("short code existence check: %w", err)
		}
		if !taken {
			return code, attempt, nil
		}
	}
	code, err := g.random(MaxLength)
	if err != nil {
		return "", maxAttempts, err
	}
	return code, maxAttempts, nil
}

func (g *Generator) random(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		idx, err := g.randInt(len(Alphabet))
		if err != nil {
			return "", fmt.Errorf("short code randomness: %w", err)
		}
		b.WriteByte(Alphabet[idx])
	}
	return b.String(), nil
}

// ValidateFormat reports whether code has a valid length and draws every
// character from the alphabet. It is used by input validation, not by
// generation.
func ValidateFormat(code string) bool {
	if len(code) < MinLength || len(code) > MaxLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(Alphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
