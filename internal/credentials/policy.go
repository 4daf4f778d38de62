package credentials

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordBytes = 72
)

// ErrWeakPassword indicates the password does not satisfy the registration policy.
var ErrWeakPassword = errors.New("credentials: password does not meet policy")

// ValidatePassword enforces the registration policy and reports every violated rule at once.
func ValidatePassword(password string) error {
	var violations []string
	if len([]rune(password)) < minPasswordLength {
		violations = append(violations, fmt.Sprintf("at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, fmt.Sprintf("at most %d bytes", maxPasswordBytes))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		violations = append(violations, "one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "one digit")
	}

	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("%w: requires %s", ErrWeakPassword, strings.Join(violations, ", "))
}
