package catalog

import "github.com/storefrontapp/storefront/internal/models"

// Methods is the read-only lookup table of accepted payment methods.
type Methods struct {
	byKey map[models.PaymentMethod]MethodConfig
}

func NewMethods(config *MethodsConfig) *Methods {
	m := &Methods{byKey: make(map[models.PaymentMethod]MethodConfig)}
	if config == nil {
		return m
	}
	for _, method := range config.Methods {
		m.byKey[method.Key] = method
	}
	return m
}

// Lookup returns the configuration of an enabled method.
func (m *Methods) Lookup(method models.PaymentMethod) (MethodConfig, bool) {
	if m == nil {
		return MethodConfig{}, false
	}
	cfg, ok := m.byKey[method]
	if !ok || !cfg.Enabled {
		return MethodConfig{}, false
	}
	return cfg, true
}

func (m *Methods) IsCash(method models.PaymentMethod) bool {
	cfg, ok := m.Lookup(method)
	return ok && cfg.Route == RouteCash
}

// Label returns the display name of a method, enabled or not.
func (m *Methods) Label(method models.PaymentMethod) string {
	if m != nil {
		if cfg, ok := m.byKey[method]; ok && cfg.Label != "" {
			return cfg.Label
		}
	}
	return string(method)
}
