package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/storefrontapp/storefront/internal/observability"
)

const (
	hostedPayPath        = "/pg/v1/pay"
	hostedStatusPathFmt  = "/pg/v1/status/%s/%s"
	hostedMaxBodyBytes   = 1 << 20
	defaultHostedTimeout = 10 * time.Second
)

// HostedConfig configures the hosted payment page provider.
type HostedConfig struct {
	BaseURL        string
	MerchantID     string
	SaltKey        string
	SaltIndex      int
	Timeout        time.Duration
	VerifyWebhooks bool
	HTTPClient     *http.Client
}

// HostedClient talks to a hosted payment page provider that signs every
// exchange with a salted SHA-256 checksum.
type HostedClient struct {
	baseURL        string
	merchantID     string
	saltKey        string
	saltIndex      int
	timeout        time.Duration
	verifyWebhooks bool
	httpClient     *http.Client
}

func NewHostedClient(cfg HostedConfig) (*HostedClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gateway base URL is required")
	}
	if strings.TrimSpace(cfg.MerchantID) == "" {
		return nil, fmt.Errorf("gateway merchant ID is required")
	}
	if cfg.SaltKey == "" {
		return nil, fmt.Errorf("gateway salt key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHostedTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(timeout)
	}

	return &HostedClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		merchantID:     cfg.MerchantID,
		saltKey:        cfg.SaltKey,
		saltIndex:      cfg.SaltIndex,
		timeout:        timeout,
		verifyWebhooks: cfg.VerifyWebhooks,
		httpClient:     httpClient,
	}, nil
}

func (c *HostedClient) Name() string {
	return "hosted"
}

func (c *HostedClient) SignatureHeader() string {
	return "X-VERIFY"
}

type hostedPayRequest struct {
	MerchantID            string                  `json:"merchantId"`
	MerchantTransactionID string                  `json:"merchantTransactionId"`
	MerchantUserID        string                  `json:"merchantUserId"`
	Amount                int64                   `json:"amount"`
	RedirectURL           string                  `json:"redirectUrl"`
	RedirectMode          string                  `json:"redirectMode"`
	CallbackURL           string                  `json:"callbackUrl"`
	MobileNumber          string                  `json:"mobileNumber,omitempty"`
	PaymentInstrument     hostedPaymentInstrument `json:"paymentInstrument"`
}

type hostedPaymentInstrument struct {
	Type string `json:"type"`
}

type hostedEnvelope struct {
	Success bool       `json:"success"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Data    hostedData `json:"data"`
}

type hostedData struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
	InstrumentResponse    struct {
		Type         string `json:"type"`
		RedirectInfo struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

// CreateSession registers a payment for orderRef and returns the hosted page
// the customer must be redirected to.
func (c *HostedClient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(hostedPayRequest{
		MerchantID:            c.merchantID,
		MerchantTransactionID: req.OrderRef,
		MerchantUserID:        merchantUserID(req.Customer),
		Amount:                req.AmountMinor,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           req.NotifyURL,
		MobileNumber:          req.Customer.Phone,
		PaymentInstrument:     hostedPaymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return nil, &Error{Code: "INVALID_REQUEST", Message: "failed to encode payment request", Err: err}
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return nil, &Error{Code: "INVALID_REQUEST", Message: "failed to encode payment request", Err: err}
	}

	headers := http.Header{}
	headers.Set("X-VERIFY", Checksum(encoded, hostedPayPath, c.saltKey, c.saltIndex))

	envelope, raw, err := c.do(ctx, http.MethodPost, hostedPayPath, body, headers)
	if err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, &Error{Code: envelope.Code, Message: envelope.Message}
	}

	redirectURL := strings.TrimSpace(envelope.Data.InstrumentResponse.RedirectInfo.URL)
	if redirectURL == "" {
		return nil, &Error{Code: "MALFORMED_RESPONSE", Message: "missing redirect URL: " + truncate(string(raw), 256)}
	}

	sessionRef := envelope.Data.TransactionID
	if sessionRef == "" {
		sessionRef = req.OrderRef
	}
	return &Session{SessionRef: sessionRef, RedirectURL: redirectURL}, nil
}

// QuerySessionStatus asks the provider for the current state of orderRef.
func (c *HostedClient) QuerySessionStatus(ctx context.Context, orderRef string) (*Status, error) {
	if strings.TrimSpace(orderRef) == "" {
		return nil, &Error{Code: "INVALID_REQUEST", Message: "order reference is required"}
	}

	path := fmt.Sprintf(hostedStatusPathFmt, c.merchantID, orderRef)
	headers := http.Header{}
	headers.Set("X-VERIFY", Checksum("", path, c.saltKey, c.saltIndex))
	headers.Set("X-MERCHANT-ID", c.merchantID)

	envelope, raw, err := c.do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		return nil, err
	}

	status := envelopeStatus(envelope, raw)
	if status.OrderRef == "" {
		status.OrderRef = orderRef
	}
	return status, nil
}

// ParseNotification decodes a webhook body of the form {"response": "<base64>"}
// after verifying the X-VERIFY checksum over the encoded response.
func (c *HostedClient) ParseNotification(payload []byte, signature string) (*Notification, error) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &Error{Code: "MALFORMED_NOTIFICATION", Message: "invalid webhook body", Err: err}
	}
	if body.Response == "" {
		return nil, &Error{Code: "MALFORMED_NOTIFICATION", Message: "missing response field"}
	}

	if c.verifyWebhooks {
		if err := VerifyChecksum(signature, body.Response, "", c.saltKey, c.saltIndex); err != nil {
			return nil, err
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(body.Response)
	if err != nil {
		return nil, &Error{Code: "MALFORMED_NOTIFICATION", Message: "response is not base64", Err: err}
	}

	var envelope hostedEnvelope
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return nil, &Error{Code: "MALFORMED_NOTIFICATION", Message: "invalid decoded response", Err: err}
	}

	status := envelopeStatus(&envelope, decoded)
	if status.OrderRef == "" {
		return nil, &Error{Code: "MALFORMED_NOTIFICATION", Message: "missing merchant transaction id"}
	}

	eventID := status.OrderRef + ":" + string(status.State)
	if status.GatewayTransactionID != "" {
		eventID = status.GatewayTransactionID + ":" + string(status.State)
	}
	return &Notification{Status: *status, EventID: eventID}, nil
}

func (c *HostedClient) do(ctx context.Context, method, path string, body []byte, headers http.Header) (*hostedEnvelope, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, &Error{Code: "INVALID_REQUEST", Message: "failed to create request", Err: err}
	}
	req.Header = headers
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if IsTimeout(err) {
			return nil, nil, &Error{Code: "TIMEOUT", Message: "gateway did not respond in time", Err: errors.Join(ErrTimeout, err)}
		}
		return nil, nil, &Error{Code: "NETWORK_ERROR", Message: "failed to reach gateway", Err: err}
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, hostedMaxBodyBytes))
	closeErr := resp.Body.Close()
	if readErr != nil {
		if IsTimeout(readErr) {
			return nil, nil, &Error{Code: "TIMEOUT", Message: "gateway response timed out", Err: errors.Join(ErrTimeout, readErr)}
		}
		return nil, nil, &Error{Code: "NETWORK_ERROR", Message: "failed to read gateway response", Err: readErr}
	}
	if closeErr != nil {
		return nil, nil, &Error{Code: "NETWORK_ERROR", Message: "failed to close gateway response body", Err: closeErr}
	}

	var envelope hostedEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, raw, &Error{
			Code:    "MALFORMED_RESPONSE",
			Message: fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, truncate(string(raw), 256)),
			Err:     err,
		}
	}
	if envelope.Code == "" && resp.StatusCode >= http.StatusBadRequest {
		return nil, raw, &Error{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: truncate(string(raw), 256)}
	}

	return &envelope, raw, nil
}

func envelopeStatus(envelope *hostedEnvelope, raw []byte) *Status {
	return &Status{
		OrderRef:             envelope.Data.MerchantTransactionID,
		State:                normalizeHostedState(envelope.Code, envelope.Data.State),
		AmountMinor:          envelope.Data.Amount,
		GatewayTransactionID: envelope.Data.TransactionID,
		Raw:                  json.RawMessage(append([]byte(nil), raw...)),
	}
}

// normalizeHostedState maps the provider's response code, falling back to the
// data.state field, onto the shared State vocabulary.
func normalizeHostedState(code, state string) State {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "PAYMENT_SUCCESS":
		return StateCompleted
	case "PAYMENT_PENDING", "PAYMENT_INITIATED", "INTERNAL_SERVER_ERROR":
		return StatePending
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT", "AUTHORIZATION_FAILED", "TRANSACTION_NOT_FOUND":
		return StateFailed
	case "PAYMENT_CANCELLED", "USER_CANCELLED":
		return StateCancelled
	}

	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		return StateCompleted
	case "FAILED":
		return StateFailed
	case "CANCELLED":
		return StateCancelled
	default:
		return StatePending
	}
}

func merchantUserID(customer Customer) string {
	if id := strings.TrimSpace(customer.UserID); id != "" {
		return id
	}
	return "guest"
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
