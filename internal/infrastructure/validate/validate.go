// Package validate holds small string validators for request fields.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validator returns an error when value is invalid.
type Validator func(value string) error

// Field labels the first failing validator with name.
func Field(name string, validators ...Validator) Validator {
	return func(value string) error {
		for _, v := range validators {
			if err := v(value); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}
}

// Check runs field validators against their values in order. The first
// error wins.
func Check(checks ...Rule) error {
	for _, c := range checks {
		if err := c.Validator(c.Value); err != nil {
			return err
		}
	}
	return nil
}

// Rule pairs a value with the validator that checks it.
type Rule struct {
	Value     string
	Validator Validator
}

func That(value string, v Validator) Rule {
	return Rule{Value: value, Validator: v}
}

// When applies v only if cond holds.
func When(cond bool, v Validator) Validator {
	return func(value string) error {
		if !cond {
			return nil
		}
		return v(value)
	}
}

func Required() Validator {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return errors.New("is required")
		}
		return nil
	}
}

// MaxLength counts runes, not bytes.
func MaxLength(max int) Validator {
	return func(v string) error {
		if utf8.RuneCountInString(v) > max {
			return fmt.Errorf("must be no more than %d characters", max)
		}
		return nil
	}
}

// Matches checks value against pattern. Empty values pass; combine with
// Required when the field is mandatory.
func Matches(pattern, message string) Validator {
	re := regexp.MustCompile(pattern)
	if message == "" {
		message = "invalid format"
	}
	return func(v string) error {
		if v == "" || re.MatchString(v) {
			return nil
		}
		return errors.New(message)
	}
}

func OneOf(allowed ...string) Validator {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return func(v string) error {
		if !set[v] {
			return fmt.Errorf("must be one of: %s", strings.Join(allowed, ", "))
		}
		return nil
	}
}

// Each applies v to every value and reports the index of the first failure.
func Each(name string, values []string, v Validator) error {
	for i, value := range values {
		if err := v(value); err != nil {
			return fmt.Errorf("%s[%d]: %w", name, i, err)
		}
	}
	return nil
}
