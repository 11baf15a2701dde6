// Package validation provides custom validation rules for sync wire DTOs.
package validation

import (
	"encoding/hex"
	"strings"

	validation "github.com/jellydator/validation"

	"github.com/vaultmesh/vaultmesh/internal/apperrors"
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput.
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// NoWhitespace validates that string doesn't contain leading/trailing whitespace.
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace.
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

// EntryID validates that a string is a 64-character lowercase hex SHA-256
// digest, the wire form of a content-addressed entry id (spec §3).
var EntryID = validation.NewStringRuleWithError(
	func(s string) bool {
		if len(s) != 64 {
			return false
		}
		b, err := hex.DecodeString(s)
		return err == nil && len(b) == 32
	},
	validation.NewError("validation_entry_id", "must be a 64-character hex-encoded SHA-256 digest"),
)

// TenantID validates the §6.2 tenant id convention: lowercase, non-blank,
// with no surrounding whitespace.
var TenantID = validation.NewStringRuleWithError(
	func(s string) bool {
		return s != "" && s == strings.ToLower(s) && s == strings.TrimSpace(s)
	},
	validation.NewError("validation_tenant_id", "must be a non-empty lowercase identifier"),
)
