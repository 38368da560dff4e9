package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// CodeAlphabet is human-typeable: no 0/O or 1/I. Its size is a power of
// two so every symbol carries exactly 5 bits.
const CodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	minCodeLength = 6
	maxCodeLength = 64
)

// ErrCodeSpaceExhausted is returned when every attempt of a CodePolicy
// collided.
var ErrCodeSpaceExhausted = errors.New("code generation attempts exhausted")

// NewCode draws a random code of the given length from CodeAlphabet.
func NewCode(length int) (string, error) {
	if length < minCodeLength || length > maxCodeLength {
		return "", errors.New("invalid code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and strips separators people type by hand.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// CodePolicy is the bounded collision-retry policy for code generation:
// Attempts draws at Length, then Attempts more at Length+Escalate, then
// fail. Escalate 0 disables the second round.
type CodePolicy struct {
	Length   int
	Attempts int
	Escalate int
}

// Run calls try with fresh codes until it returns nil or a non-collision
// error. collided classifies try's errors.
func (p CodePolicy) Run(try func(code string) error, collided func(error) bool) (string, error) {
	rounds := []int{p.Length}
	if p.Escalate > 0 {
		rounds = append(rounds, p.Length+p.Escalate)
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for _, length := range rounds {
		for i := 0; i < attempts; i++ {
			code, err := NewCode(length)
			if err != nil {
				return "", err
			}
			err = try(code)
			if err == nil {
				return code, nil
			}
			if !collided(err) {
				return "", err
			}
		}
	}
	return "", ErrCodeSpaceExhausted
}
