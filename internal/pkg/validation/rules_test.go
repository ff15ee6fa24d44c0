package validation

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Content string `validate:"required,notblank,maxrunes=5"`
}

func TestRules(t *testing.T) {
	v := validator.New()
	require.NoError(t, Register(v))

	tests := []struct {
		name    string
		content string
		valid   bool
	}{
		{"plain", "hello", true},
		{"multibyte within limit", "héllö", true},
		{"whitespace only", "   ", false},
		{"too many runes", "hello!", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(sample{Content: tt.content})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRegisterBindingRules_Idempotent(t *testing.T) {
	require.NoError(t, RegisterBindingRules())
	require.NoError(t, RegisterBindingRules())
}
