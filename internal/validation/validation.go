// Package validation provides request validation for the escrow and payment API.
package validation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxAddressLength bounds an opaque network address.
const MaxAddressLength = 128

// MaxMemoLength bounds an escrow memo.
const MaxMemoLength = 1000

var (
	ErrAmountFormat   = errors.New("amount must be a whole number of minor units")
	ErrAmountPositive = errors.New("amount must be greater than zero")
	ErrAmountRange    = errors.New("amount is too large")
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress reports whether addr can be an opaque payment-network address:
// non-empty, bounded, printable and free of whitespace.
func IsValidAddress(addr string) bool {
	if addr == "" || len(addr) > MaxAddressLength {
		return false
	}
	for _, r := range addr {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// ParseAmount parses a positive integer amount in minor units. A leading plus
// sign, decimals and exponents are rejected.
func ParseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrAmountFormat
	}
	for _, c := range value {
		if c < '0' || c > '9' {
			if c == '-' {
				return 0, ErrAmountPositive
			}
			return 0, ErrAmountFormat
		}
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, ErrAmountRange
	}
	if n <= 0 {
		return 0, ErrAmountPositive
	}
	return n, nil
}

// SanitizeString trims whitespace, strips NUL bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks an optional address field. Combine with Required for
// mandatory ones.
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAddress(value) {
			return &ValidationError{Field: field, Message: "must be a valid address"}
		}
		return nil
	}
}

// ValidAmount checks that value parses with ParseAmount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if _, err := ParseAmount(value); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
		return nil
	}
}

// MaxLength checks that a field does not exceed max bytes.
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OneOf checks that value is one of allowed.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}
