package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/loaded-handler/pkg/core"
)

// Limits enforced across the loaded handler packages.
const (
	// MaxHandlerNameLength is the maximum length for HandlerSettings.HandlerName.
	MaxHandlerNameLength = 255

	// MaxJobNameLength is the maximum length for HandlerSettings.JobName.
	MaxJobNameLength = 255

	// MaxJobInputSize is the maximum size in bytes of a wrapper's JobInput (1MB).
	MaxJobInputSize = 1 << 20

	// MaxAdditionalDataSize is the maximum size in bytes of AdditionalData (1MB).
	MaxAdditionalDataSize = 1 << 20

	// MaxErrorMessageLength is the maximum length for stored error/result strings.
	MaxErrorMessageLength = 4096

	// MaxJobAttempts is the hard ceiling accepted for HandlerSettings.MaxJobAttempts.
	MaxJobAttempts = 1000
)

// validName matches alphanumeric, hyphens, underscores, and dots, starting
// with a letter. It is shared by handler and job names.
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-.]*$`)

// ValidateHandlerName validates HandlerSettings.HandlerName.
func ValidateHandlerName(name string) error {
	if name == "" {
		return core.ErrInvalidHandlerName
	}
	if len(name) > MaxHandlerNameLength {
		return core.ErrInvalidHandlerName
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidHandlerName
	}
	return nil
}

// ValidateJobName validates HandlerSettings.JobName.
func ValidateJobName(name string) error {
	if name == "" {
		return core.ErrInvalidJobName
	}
	if len(name) > MaxJobNameLength {
		return core.ErrInvalidJobName
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidJobName
	}
	return nil
}

// ValidateJobInput enforces the size limit on a wrapper's opaque payload.
func ValidateJobInput(input []byte) error {
	if len(input) > MaxJobInputSize {
		return core.ErrJobInputTooLarge
	}
	return nil
}

// ValidateAdditionalData enforces the size limit on AdditionalData.
func ValidateAdditionalData(data []byte) error {
	if len(data) > MaxAdditionalDataSize {
		return core.ErrAdditionalDataTooLarge
	}
	return nil
}

// SanitizeMessage strips control characters (except newlines and tabs) and
// truncates msg so it is safe to store on a wrapper's ResultString or log.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampMaxJobAttempts keeps HandlerSettings.MaxJobAttempts within bounds.
// Zero and negative values both mean "unlimited" and pass through as 0.
func ClampMaxJobAttempts(n int) int {
	if n <= 0 {
		return 0
	}
	if n > MaxJobAttempts {
		return MaxJobAttempts
	}
	return n
}
