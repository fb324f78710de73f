package auth

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the minimum accepted work factor in production.
const DefaultBcryptCost = 12

// PasswordHasher is the salted, adaptive, one-way hashing primitive.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify reports a mismatch as (false, nil). Errors mean the hash is unusable.
	Verify(hash, password string) (bool, error)
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, or DefaultBcryptCost when cost
// is outside bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the work factor.
func (h *BcryptHasher) Cost() int { return h.cost }

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify password: %w", err)
}

// PasswordPolicy is the rule set new passwords must satisfy.
type PasswordPolicy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy requires 8 to 72 bytes with every character class.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     8,
		MaxLength:     72,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Check returns a *PolicyViolationError naming every unmet rule, or nil.
// MaxLength is measured in bytes because bcrypt ignores input past 72 bytes.
func (p PasswordPolicy) Check(password string) error {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var rules []string
	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		rules = append(rules, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		rules = append(rules, fmt.Sprintf("must be at most %d bytes", p.MaxLength))
	}
	if p.RequireUpper && !upper {
		rules = append(rules, "must contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		rules = append(rules, "must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		rules = append(rules, "must contain a digit")
	}
	if p.RequireSymbol && !symbol {
		rules = append(rules, "must contain a symbol")
	}

	if len(rules) > 0 {
		return &PolicyViolationError{Rules: rules}
	}
	return nil
}
