// Package email delivers transactional order emails through Resend, Postmark
// or Mailgun.
package email

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storefrontapp/storefront/internal/observability"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
	Domain   string // Mailgun only
	BaseURL  string
}

// NewProvider returns the configured provider. "none" yields a provider that
// drops every message.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "postmark":
		return NewPostmarkProvider(config.APIKey, config.From, config.BaseURL), nil
	case "mailgun":
		return NewMailgunProvider(config.APIKey, config.Domain, config.From, config.BaseURL), nil
	case "resend":
		return NewResendProvider(config.APIKey, config.From), nil
	case "none", "":
		return NoopProvider{}, nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of 'postmark', 'mailgun', 'resend' or 'none'")
	}
}

type NoopProvider struct{}

func (NoopProvider) SendEmail(context.Context, *Email) error { return nil }

func (NoopProvider) ValidateAPIKey(context.Context) error { return nil }

var restClient = observability.NewHTTPClient(30 * time.Second)

// readBody drains and closes a REST response body.
func readBody(resp *http.Response, provider string) ([]byte, error) {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", provider, readErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close %s response body: %w", provider, closeErr)
	}
	return body, nil
}

func validateEmail(email *Email) error {
	if email == nil {
		return fmt.Errorf("email is required")
	}
	if email.To == "" {
		return fmt.Errorf("email recipient is required")
	}
	if email.HTML == "" && email.Text == "" {
		return fmt.Errorf("email body is empty")
	}
	return nil
}
