package auth

import (
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8

	// SpecialCharacters is the accepted punctuation set for passwords.
	SpecialCharacters = "!@#$%^&*(),.?\":{}|<>_-+=[]\\/;'`~"
)

const (
	msgPasswordLength    = "Password must be at least 8 characters long"
	msgPasswordUppercase = "Password must contain at least one uppercase letter"
	msgPasswordLowercase = "Password must contain at least one lowercase letter"
	msgPasswordDigit     = "Password must contain at least one number (0-9)"
	msgPasswordSpecial   = "Password must contain at least one special character (" + SpecialCharacters + ")"
)

// ValidatePassword returns every violated rule in a fixed order:
// length, uppercase, lowercase, digit, special. An empty result means valid.
func ValidatePassword(candidate string) []string {
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(SpecialCharacters, r):
			special = true
		}
	}

	var violations []string
	if utf8.RuneCountInString(candidate) < MinPasswordLength {
		violations = append(violations, msgPasswordLength)
	}
	if !upper {
		violations = append(violations, msgPasswordUppercase)
	}
	if !lower {
		violations = append(violations, msgPasswordLowercase)
	}
	if !digit {
		violations = append(violations, msgPasswordDigit)
	}
	if !special {
		violations = append(violations, msgPasswordSpecial)
	}
	return violations
}
