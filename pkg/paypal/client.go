package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/subhubhq/subhub-backend/pkg/config"
)

const tokenExpiryBuffer = 60 * time.Second

var (
	errClientIDRequired = errors.New("paypal client id and secret are required")
	errBaseURLRequired  = errors.New("paypal base url is required")
)

// APIError carries the status and body of a failed PayPal REST call.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal %s failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Client is a minimal PayPal REST API client covering orders,
// subscriptions, refunds and webhook verification.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
}

func NewClient(cfg config.PayPalConfig) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errClientIDRequired
	}
	if cfg.BaseURL == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

// WebhookID returns the configured webhook id used for signature verification.
func (c *Client) WebhookID() string {
	if c == nil {
		return ""
	}
	return c.webhookID
}

// AccessToken returns a cached OAuth token, refreshing when near expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpires) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting paypal token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Operation: "oauth token", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("decoding paypal token: %w", err)
	}
	if token.ExpiresIn == 0 {
		token.ExpiresIn = 3600
	}

	c.accessToken = token.AccessToken
	c.tokenExpires = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenExpiryBuffer)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload any, okStatuses ...int) ([]byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", operation, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting paypal %s: %w", operation, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			return body, nil
		}
	}
	return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(body)}
}

// Amount is a PayPal money value.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Order is the subset of the Orders API response the platform reads.
type Order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CreateTime    string `json:"create_time"`
	Links         []Link `json:"links"`
	PurchaseUnits []struct {
		Amount   Amount `json:"amount"`
		Payments struct {
			Captures []Capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

// ApprovalURL returns the payer-approval link for a created order, if any.
func (o Order) ApprovalURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

// FirstCapture returns the first capture on the order, if present.
func (o Order) FirstCapture() (Capture, bool) {
	for _, unit := range o.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			return unit.Payments.Captures[0], true
		}
	}
	return Capture{}, false
}

type CreateOrderParams struct {
	Amount      Amount
	Description string
	CustomID    string
	ReturnURL   string
	CancelURL   string
}

// CreateOrder creates a CAPTURE-intent order.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	unit := map[string]any{
		"amount":      params.Amount,
		"description": params.Description,
	}
	if params.CustomID != "" {
		unit["custom_id"] = params.CustomID
	}
	payload := map[string]any{
		"intent":         "CAPTURE",
		"purchase_units": []any{unit},
		"application_context": map[string]any{
			"return_url": params.ReturnURL,
			"cancel_url": params.CancelURL,
		},
	}

	body, err := c.do(ctx, "create order", http.MethodPost, "/v2/checkout/orders", payload, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	return &order, nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	body, err := c.do(ctx, "capture order", http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", nil, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}
	return &order, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	body, err := c.do(ctx, "get order", http.MethodGet, "/v2/checkout/orders/"+orderID, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	return &order, nil
}

// Subscription is the subset of the Subscriptions API response the platform reads.
type Subscription struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	CreateTime string `json:"create_time"`
	Links      []Link `json:"links"`
}

func (s Subscription) ApprovalURL() string {
	for _, link := range s.Links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

type CreateSubscriptionParams struct {
	PlanID    string
	CustomID  string
	ReturnURL string
	CancelURL string
}

// CreateSubscription starts a billing subscription on a pre-configured plan.
func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	payload := map[string]any{
		"plan_id": params.PlanID,
		"application_context": map[string]any{
			"user_action": "SUBSCRIBE_NOW",
			"payment_method": map[string]any{
				"payer_selected":  "PAYPAL",
				"payee_preferred": "IMMEDIATE_PAYMENT_REQUIRED",
			},
			"return_url": params.ReturnURL,
			"cancel_url": params.CancelURL,
		},
	}
	if params.CustomID != "" {
		payload["custom_id"] = params.CustomID
	}

	body, err := c.do(ctx, "create subscription", http.MethodPost, "/v1/billing/subscriptions", payload, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decoding subscription: %w", err)
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription immediately.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	payload := map[string]any{"reason": reason}
	_, err := c.do(ctx, "cancel subscription", http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/cancel", payload, http.StatusNoContent)
	return err
}

// Refund is the Payments API refund response.
type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

// RefundCapture refunds a captured payment. A zero-value amount requests a full refund.
func (c *Client) RefundCapture(ctx context.Context, captureID string, amount *Amount, note string) (*Refund, error) {
	payload := map[string]any{}
	if amount != nil {
		payload["amount"] = amount
	}
	if note != "" {
		payload["note_to_payer"] = note
	}

	body, err := c.do(ctx, "refund capture", http.MethodPost, "/v2/payments/captures/"+captureID+"/refund", payload, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var refund Refund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, fmt.Errorf("decoding refund: %w", err)
	}
	return &refund, nil
}

// WebhookHeaders are the transmission headers PayPal sends with each event.
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// FromHTTPHeader extracts PayPal transmission headers from a request.
func FromHTTPHeader(h http.Header) WebhookHeaders {
	return WebhookHeaders{
		AuthAlgo:         h.Get("Paypal-Auth-Algo"),
		CertURL:          h.Get("Paypal-Cert-Url"),
		TransmissionID:   h.Get("Paypal-Transmission-Id"),
		TransmissionSig:  h.Get("Paypal-Transmission-Sig"),
		TransmissionTime: h.Get("Paypal-Transmission-Time"),
	}
}

func (wh WebhookHeaders) complete() bool {
	return wh.AuthAlgo != "" && wh.CertURL != "" && wh.TransmissionID != "" &&
		wh.TransmissionSig != "" && wh.TransmissionTime != ""
}

var (
	ErrWebhookHeadersIncomplete = errors.New("missing required paypal webhook headers")
	ErrWebhookSignatureInvalid  = errors.New("paypal webhook signature verification failed")
)

// VerifyWebhookSignature checks an event against the configured webhook id
// using PayPal's verification endpoint. When no webhook id is configured
// verification is skipped, which is only acceptable in development.
func (c *Client) VerifyWebhookSignature(ctx context.Context, payload []byte, headers WebhookHeaders) error {
	if c.webhookID == "" {
		return nil
	}
	if !headers.complete() {
		return ErrWebhookHeadersIncomplete
	}

	verification := map[string]any{
		"auth_algo":         headers.AuthAlgo,
		"cert_url":          headers.CertURL,
		"transmission_id":   headers.TransmissionID,
		"transmission_sig":  headers.TransmissionSig,
		"transmission_time": headers.TransmissionTime,
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	body, err := c.do(ctx, "verify webhook signature", http.MethodPost, "/v1/notifications/verify-webhook-signature", verification, http.StatusOK)
	if err != nil {
		return err
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decoding verification result: %w", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return ErrWebhookSignatureInvalid
	}
	return nil
}
