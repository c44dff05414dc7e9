package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// Outbound hosts that receive sentry-trace and baggage headers. Payment
// gateways are excluded; they reject unknown headers on signed requests.
var tracePropagationTargets = []string{
	"api.github.com",
	"api.resend.com",
}

// WrapRoundTripper records an http.client span for every outbound request.
func WrapRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
	)
}

// NewHTTPClient returns a traced client; a non-positive timeout leaves the
// deadline to the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport),
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return client
}
