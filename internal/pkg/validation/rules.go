// Package validation registers the custom binding rules used by request DTOs.
package validation

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Custom tag names
const (
	TagNotBlank = "notblank"
	TagMaxRunes = "maxrunes"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// NotBlank rejects strings made only of whitespace. Non-string fields pass.
func NotBlank(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return true
	}
	return strings.TrimSpace(s) != ""
}

// MaxRunes bounds a string by characters instead of bytes, e.g. maxrunes=280
func MaxRunes(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return true
	}
	var limit int
	if _, err := fmt.Sscanf(fl.Param(), "%d", &limit); err != nil {
		return false
	}
	return utf8.RuneCountInString(s) <= limit
}

// Register adds the custom rules to v
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation(TagNotBlank, NotBlank); err != nil {
		return err
	}
	return v.RegisterValidation(TagMaxRunes, MaxRunes)
}

// RegisterBindingRules adds the custom rules to gin's default validator.
// Safe to call more than once.
func RegisterBindingRules() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
			return
		}
		registerErr = Register(v)
	})
	return registerErr
}
