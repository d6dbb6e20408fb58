package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	if err := Validate.RegisterValidation("key_segment", validateKeySegment); err != nil {
		panic(fmt.Sprintf("failed to register key_segment validator: %v", err))
	}
}

// validateKeySegment accepts strings that can be embedded in a counter key:
// printable, no whitespace.
func validateKeySegment(fl validator.FieldLevel) bool {
	return IsKeySegment(fl.Field().String())
}

// IsKeySegment reports whether s is non-empty, printable and free of whitespace.
func IsKeySegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// SanitizeIdentifier trims whitespace and removes control characters from an
// identifier taken off the wire.
func SanitizeIdentifier(text string) string {
	text = strings.TrimSpace(text)

	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}
