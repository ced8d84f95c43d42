package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate checks the `validate` tags on Config. Field names in messages
// are the YAML keys, so errors read like "provider.timeout ...".
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	_ = v.RegisterValidation("credref", func(fl validator.FieldLevel) bool {
		ref := fl.Field().String()
		return ref == "" || strings.HasPrefix(ref, "env:") || strings.HasPrefix(ref, "keyring:")
	})
	return v
}

// Validate reports every invalid value, joined by "; ".
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, e := range verrs {
		msgs[i] = fieldMessage(e)
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(e validator.FieldError) string {
	_, field, _ := strings.Cut(e.Namespace(), ".")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s, got %q", field, e.Param(), e.Value())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration, got %q", field, e.Value())
	case "credref":
		// Never echo the value: it may be a pasted key.
		return fmt.Sprintf("%s must be env:NAME or keyring:NAME, never a literal key", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// normalize lower-cases the enumerated values so validation and the rest of
// the program see one spelling.
func (c *Config) normalize() {
	c.Provider.Provider = strings.ToLower(strings.TrimSpace(c.Provider.Provider))
	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
	c.Server.LogLevel = strings.ToLower(strings.TrimSpace(c.Server.LogLevel))
}
