package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash at the default cost.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches the stored hash.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ValidateEmailDomain enforces the deployment's registration rule:
// only addresses under the allowed domain may sign up. An empty
// allowed domain disables the rule.
func ValidateEmailDomain(email, allowedDomain string) error {
	if allowedDomain == "" {
		return nil
	}
	if !strings.HasPrefix(allowedDomain, "@") {
		allowedDomain = "@" + allowedDomain
	}
	if !strings.HasSuffix(strings.ToLower(email), strings.ToLower(allowedDomain)) {
		return fmt.Errorf("email must belong to %s", allowedDomain)
	}
	return nil
}
