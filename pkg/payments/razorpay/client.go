package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.razorpay.com/v1"
	responseBodyReadLimit int64 = 2048
)

var (
	errKeyRequired = errors.New("razorpay key id and secret are required")
)

// Client wraps the Razorpay Orders API used for customer payments.
type Client struct {
	httpClient *http.Client
	baseURL    string
	keyID      string
	keySecret  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Razorpay client from configured credentials.
func NewClient(cfg config.RazorpayConfig, opts ...Option) (*Client, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// KeyID exposes the public key for client-side checkout bootstrapping.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

// CreateOrderRequest describes the payload sent to the Orders API.
type CreateOrderRequest struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder is the normalized order returned by Razorpay.
type GatewayOrder struct {
	ID          string
	AmountPaise int64
	Currency    string
	Receipt     string
	Status      string
}

// CreateOrder registers a payable order with Razorpay and returns its id.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "razorpay client not configured")
	}
	if req.AmountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = "INR"
	}

	payload, err := json.Marshal(map[string]any{
		"amount":   req.AmountPaise,
		"currency": currency,
		"receipt":  req.Receipt,
		"notes":    req.Notes,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal order request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL("orders"), bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build order request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute order request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "order request failed")
	}

	var apiResp struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode order response")
	}

	return &GatewayOrder{
		ID:          apiResp.ID,
		AmountPaise: apiResp.Amount,
		Currency:    apiResp.Currency,
		Receipt:     apiResp.Receipt,
		Status:      apiResp.Status,
	}, nil
}

// VerifyPaymentSignature checks the checkout callback signature. Razorpay
// signs "<order_id>|<payment_id>" with the key secret using HMAC-SHA256.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, paymentID, signature string) bool {
	if c == nil || gatewayOrderID == "" || paymentID == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
