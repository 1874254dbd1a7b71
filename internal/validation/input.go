package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/qninhdt/lumen-tales/server/internal/apperr"
)

var identifier = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxTextLength bounds free text submitted by readers
const MaxTextLength = 4000

func invalid(format string, args ...interface{}) error {
	return apperr.Validation(apperr.CodeInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateStoryID validates story ID format
func ValidateStoryID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return invalid("story ID must be 1-64 characters")
	}

	// Allow alphanumeric, hyphens, underscores
	if !identifier.MatchString(id) {
		return invalid("story ID can only contain alphanumeric characters, hyphens, and underscores")
	}

	return nil
}

// ValidateChoiceID validates choice ID format
func ValidateChoiceID(id string) error {
	if len(id) == 0 || len(id) > 128 {
		return invalid("choice ID must be 1-128 characters")
	}

	if !identifier.MatchString(id) {
		return invalid("choice ID can only contain alphanumeric characters, hyphens, and underscores")
	}

	return nil
}

// ValidateText validates a required free-text field
func ValidateText(field, text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid("%s is required", field)
	}
	if !utf8.ValidString(text) {
		return invalid("%s must be valid UTF-8", field)
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return invalid("%s must be at most %d characters", field, MaxTextLength)
	}
	return nil
}
