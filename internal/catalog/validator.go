package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

var methodKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)

func (v *Validator) Validate(config *MethodsConfig) error {
	if config == nil || len(config.Methods) == 0 {
		return fmt.Errorf("at least one payment method is required")
	}

	keys := make(map[string]bool)
	for i, method := range config.Methods {
		if err := v.validateMethod(&method); err != nil {
			return fmt.Errorf("method %d validation failed: %w", i, err)
		}

		if keys[string(method.Key)] {
			return fmt.Errorf("duplicate payment method: %s", method.Key)
		}
		keys[string(method.Key)] = true
	}

	return nil
}

func (v *Validator) validateMethod(method *MethodConfig) error {
	if !methodKeyRegex.MatchString(string(method.Key)) {
		return fmt.Errorf("method key %q must be lowercase snake_case", method.Key)
	}
	if strings.TrimSpace(method.Label) == "" {
		return fmt.Errorf("label is required for %s", method.Key)
	}
	switch method.Route {
	case RouteCash, RouteGateway:
	default:
		return fmt.Errorf("route for %s must be either 'cash' or 'gateway'", method.Key)
	}
	return nil
}
