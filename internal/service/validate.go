package service

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata, so one
// instance serves the whole package.
var validate = validator.New(validator.WithRequiredStructEnabled())

// normalizeEmail trims and lower-cases an address so that lookups and
// allow-list membership are case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
