package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable this service reads.
const EnvPrefix = "FEASTLY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AuthRateLimit AuthRateLimitConfig
	Pricing       PricingConfig
	Delivery      DeliveryConfig
	Referral      ReferralConfig
	Razorpay      RazorpayConfig
	Stripe        StripeConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FEASTLY_APP_ENV" default:"dev"`
	Port         string `envconfig:"FEASTLY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FEASTLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FEASTLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"FEASTLY_DB_DSN"`

	Host     string `envconfig:"FEASTLY_DB_HOST"`
	Port     int    `envconfig:"FEASTLY_DB_PORT" default:"5432"`
	User     string `envconfig:"FEASTLY_DB_USER"`
	Password string `envconfig:"FEASTLY_DB_PASSWORD"`
	Name     string `envconfig:"FEASTLY_DB_NAME"`
	SSLMode  string `envconfig:"FEASTLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FEASTLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FEASTLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FEASTLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FEASTLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("database DSN or host/user/name are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"FEASTLY_REDIS_URL"`
	Address      string        `envconfig:"FEASTLY_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"FEASTLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"FEASTLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FEASTLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FEASTLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FEASTLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FEASTLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FEASTLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FEASTLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FEASTLY_JWT_ISSUER" default:"feastly"`
	ExpirationMinutes int    `envconfig:"FEASTLY_JWT_EXPIRATION_MINUTES" default:"1440"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"FEASTLY_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"FEASTLY_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"FEASTLY_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"FEASTLY_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"FEASTLY_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"FEASTLY_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"10"`
}

// PricingConfig carries the platform-side components of an order's price
// details. Item totals come from the cart; these are added on top once at
// order creation and frozen.
type PricingConfig struct {
	TaxPaise            int64 `envconfig:"FEASTLY_PRICING_TAX_PAISE" default:"0"`
	DeliveryChargePaise int64 `envconfig:"FEASTLY_PRICING_DELIVERY_CHARGE_PAISE" default:"0"`
	PlatformFeePaise    int64 `envconfig:"FEASTLY_PRICING_PLATFORM_FEE_PAISE" default:"0"`
}

type DeliveryConfig struct {
	// PerDeliveryFeePaise is credited to the agent's earnings on completion.
	PerDeliveryFeePaise int64 `envconfig:"FEASTLY_DELIVERY_FEE_PAISE" default:"3000"`
}

type ReferralConfig struct {
	ReferrerBonusPaise int64 `envconfig:"FEASTLY_REFERRAL_REFERRER_BONUS_PAISE" default:"5000"`
	SignupBonusPaise   int64 `envconfig:"FEASTLY_REFERRAL_SIGNUP_BONUS_PAISE" default:"2500"`
}

type RazorpayConfig struct {
	KeyID     string        `envconfig:"FEASTLY_RAZORPAY_KEY_ID"`
	KeySecret string        `envconfig:"FEASTLY_RAZORPAY_KEY_SECRET"`
	BaseURL   string        `envconfig:"FEASTLY_RAZORPAY_BASE_URL" default:"https://api.razorpay.com/v1"`
	Timeout   time.Duration `envconfig:"FEASTLY_RAZORPAY_TIMEOUT" default:"10s"`
}

type StripeConfig struct {
	APIKey string `envconfig:"FEASTLY_STRIPE_API_KEY"`
	Env    string `envconfig:"FEASTLY_STRIPE_ENV" default:"test"`
}

// Environment reports the normalized stripe environment.
func (s StripeConfig) Environment() string {
	return strings.ToLower(strings.TrimSpace(s.Env))
}
