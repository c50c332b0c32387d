package password

import (
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Policy controls signup password validation.
// A zero MinLength or MaxLength disables that bound, so the zero Policy
// accepts any non-empty password.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// DefaultPolicy mirrors the backend's signup rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      128,
		RejectVeryWeak: false,
	}
}

// PolicyFromEnv loads the policy from environment variables.
//
// Env surface:
//   - WASTEWISE_PASSWORD_MIN_LEN
//   - WASTEWISE_PASSWORD_MAX_LEN
//   - WASTEWISE_PASSWORD_REJECT_VERY_WEAK (true/false)
//
// Returns ErrConfig if a value is malformed or min exceeds max.
func PolicyFromEnv() (Policy, error) {
	p := DefaultPolicy()

	ints := []struct {
		key string
		dst *int
	}{
		{"WASTEWISE_PASSWORD_MIN_LEN", &p.MinLength},
		{"WASTEWISE_PASSWORD_MAX_LEN", &p.MaxLength},
	}
	for _, n := range ints {
		v := strings.TrimSpace(os.Getenv(n.key))
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return Policy{}, ErrConfig
		}
		*n.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("WASTEWISE_PASSWORD_REJECT_VERY_WEAK")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Policy{}, ErrConfig
		}
		p.RejectVeryWeak = b
	}

	if p.MinLength > 0 && p.MaxLength > 0 && p.MinLength > p.MaxLength {
		return Policy{}, ErrConfig
	}
	return p, nil
}

// Validate checks password against the policy. It does not mutate input.
func (p Policy) Validate(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if p.MinLength > 0 && n < p.MinLength {
		return ErrPasswordTooShort
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrPasswordTooLong
	}

	if p.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak is intentionally minimal.
// It is not a full zxcvbn-style estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	// All the same character.
	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	// Digits only and short (PIN-like).
	onlyDigits := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
	if onlyDigits && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111", "wastewise":
		return true
	}
	return false
}
