// Package paystack is a minimal client for the Paystack transaction API and
// its webhook signatures.
package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stwalsh4118/verrify/internal/apperr"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// EventChargeSuccess is the only webhook event that moves money.
const EventChargeSuccess = "charge.success"

const DefaultBaseURL = "https://api.paystack.co"

var (
	ErrInvalidSignature = apperr.Authorization("INVALID_SIGNATURE", "webhook signature does not match")
	ErrMalformedEvent   = apperr.Validation("MALFORMED_EVENT", "webhook body is not a valid event")
)

// InitializeRequest starts a hosted checkout for Amount in major units.
type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// InitializeResult is what the checkout page needs.
type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type initializeBody struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type envelope struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    InitializeResult `json:"data"`
}

// Client calls the Paystack API with a secret key.
type Client struct {
	http      *resty.Client
	secretKey string
}

// NewClient creates a client for baseURL. An empty baseURL uses DefaultBaseURL.
func NewClient(secretKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetAuthToken(secretKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, secretKey: secretKey}
}

// SecretKey returns the key webhooks are signed with.
func (c *Client) SecretKey() string {
	return c.secretKey
}

// ToSubunit converts a major-unit amount to kobo (or the currency's
// equivalent hundredth), rounding half away from zero.
func ToSubunit(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Initialize creates a transaction at the provider. Transport failures and
// non-success answers are ExternalService errors.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	var out envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(initializeBody{
			Email:       req.Email,
			Amount:      ToSubunit(req.Amount),
			Currency:    req.Currency,
			CallbackURL: req.CallbackURL,
			Metadata:    req.Metadata,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/transaction/initialize")
	if err != nil {
		return nil, apperr.ExternalService("PAYMENT_PROVIDER_UNAVAILABLE", "payment provider is unreachable", err)
	}
	if resp.IsError() || !out.Status {
		msg := out.Message
		if msg == "" {
			msg = resp.Status()
		}
		return nil, apperr.ExternalService("PAYMENT_PROVIDER_ERROR", "payment provider rejected the request",
			fmt.Errorf("initialize returned %d: %s", resp.StatusCode(), msg))
	}
	if out.Data.Reference == "" {
		return nil, apperr.ExternalService("PAYMENT_PROVIDER_ERROR", "payment provider returned no reference", nil)
	}
	return &out.Data, nil
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(digest(secret, body))
}

// VerifySignature checks signature against the exact bytes received.
func VerifySignature(secret, signature string, rawBody []byte) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, digest(secret, rawBody)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is a webhook delivery.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData is the part of the charge payload this service reads.
type EventData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(rawBody []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, ErrMalformedEvent.Wrap(err)
	}
	if ev.Event == "" {
		return nil, ErrMalformedEvent
	}
	return &ev, nil
}
