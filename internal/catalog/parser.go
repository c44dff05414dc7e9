package catalog

// Package catalog provides the payment method table and its YAML parsing.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/storefrontapp/storefront/internal/models"
)

type Route string

const (
	RouteCash    Route = "cash"
	RouteGateway Route = "gateway"
)

type MethodsConfig struct {
	Methods []MethodConfig `yaml:"methods"`
}

type MethodConfig struct {
	Key     models.PaymentMethod `yaml:"key"`
	Label   string               `yaml:"label"`
	Route   Route                `yaml:"route"`
	Enabled bool                 `yaml:"enabled"`
}

const defaultMethodsYAML = `
methods:
  - key: cod
    label: Cash on Delivery
    route: cash
    enabled: true
  - key: gateway_pay
    label: Pay Online
    route: gateway
    enabled: true
  - key: credit_card
    label: Credit / Debit Card
    route: gateway
    enabled: true
  - key: upi
    label: UPI
    route: gateway
    enabled: true
`

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*MethodsConfig, error) {
	var config MethodsConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func (p *Parser) ParseFromString(content string) (*MethodsConfig, error) {
	return p.Parse([]byte(content))
}

// LoadMethods returns the validated method table from path, or the built-in
// table when path is empty.
func LoadMethods(path string) (*Methods, error) {
	content := []byte(defaultMethodsYAML)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read payment methods file: %w", err)
		}
		content = data
	}

	config, err := NewParser().Parse(content)
	if err != nil {
		return nil, err
	}
	if err := NewValidator().Validate(config); err != nil {
		return nil, fmt.Errorf("invalid payment methods: %w", err)
	}
	return NewMethods(config), nil
}

// DefaultMethods returns the built-in method table.
func DefaultMethods() *Methods {
	methods, err := LoadMethods("")
	if err != nil {
		panic(err)
	}
	return methods
}
