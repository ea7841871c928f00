package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/nikhilbhatia/feastly-backend/pkg/config"
	pkgerrors "github.com/nikhilbhatia/feastly-backend/pkg/errors"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps Stripe's API client plus env-specific metadata.
type Client struct {
	api         *stripe.Client
	environment string
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(cfg config.StripeConfig) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	api := stripe.NewClient(apiKey)

	return &Client{
		api:         api,
		environment: env,
	}, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// CreatePaymentIntent registers a payable intent for the given amount in paise.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountPaise int64, referenceID string) (*stripe.PaymentIntent, error) {
	if c == nil || c.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
	}
	if amountPaise <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amountPaise),
		Currency: stripe.String(string(stripe.CurrencyINR)),
	}
	if referenceID != "" {
		params.Metadata = map[string]string{"reference_id": referenceID}
	}

	intent, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create stripe payment intent")
	}
	return intent, nil
}

// RetrievePaymentIntent fetches the current state of an intent.
func (c *Client) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	if c == nil || c.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
	}
	intent, err := c.api.V1PaymentIntents.Retrieve(ctx, intentID, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "retrieve stripe payment intent")
	}
	return intent, nil
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
