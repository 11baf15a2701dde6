package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoWhitespace(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{name: "no whitespace", input: "validstring", shouldErr: false},
		{name: "leading whitespace", input: " validstring", shouldErr: true},
		{name: "trailing whitespace", input: "validstring ", shouldErr: true},
		{name: "both leading and trailing", input: " validstring ", shouldErr: true},
		{name: "internal spaces allowed", input: "valid string", shouldErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NoWhitespace.Validate(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotBlank(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{name: "valid string", input: "validstring", shouldErr: false},
		{name: "only spaces", input: "   ", shouldErr: true},
		{name: "only tabs", input: "\t\t", shouldErr: true},
		{name: "only newlines", input: "\n\n", shouldErr: true},
		{name: "mixed whitespace", input: " \t\n ", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NotBlank.Validate(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntryID(t *testing.T) {
	validID := strings.Repeat("a1", 32)

	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{name: "valid hex digest", input: validID, shouldErr: false},
		{name: "too short", input: "a1b2", shouldErr: true},
		{name: "not hex", input: strings.Repeat("z", 64), shouldErr: true},
		{name: "empty", input: "", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EntryID.Validate(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTenantID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		shouldErr bool
	}{
		{name: "valid lowercase id", input: "acme-corp", shouldErr: false},
		{name: "uppercase rejected", input: "AcmeCorp", shouldErr: true},
		{name: "blank rejected", input: "", shouldErr: true},
		{name: "surrounding whitespace rejected", input: " acme ", shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TenantID.Validate(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWrapValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error returns nil", err: nil, expected: false},
		{name: "wraps validation error", err: assert.AnError, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := WrapValidationError(tt.err)
			if tt.expected {
				assert.Error(t, result)
				assert.Contains(t, result.Error(), "invalid input")
			} else {
				assert.NoError(t, result)
			}
		})
	}
}
