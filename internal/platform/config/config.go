package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultCurrency          = "INR"
	defaultOrderPrefix       = "CK"
	defaultShippingFee       = int64(4900)
	defaultGatewayTimeout    = 20 * time.Second
	defaultCarrierTimeout    = 15 * time.Second
	defaultCouponKind        = "fixed"
	defaultRecaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"

	secretScheme = "secret://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Gateway   GatewayConfig
	Carrier   CarrierConfig
	Coupon    CouponConfig
	Recaptcha RecaptchaConfig
	Events    EventsConfig
	Orders    OrdersConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for identity checks.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ExportsBucket string
	SignedURLKey  string
}

// GatewayConfig holds payment gateway credentials and endpoints.
type GatewayConfig struct {
	KeyID    string
	Secret   string
	Currency string
	Timeout  time.Duration
}

// CarrierConfig holds credentials for the shipping carrier API.
type CarrierConfig struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
}

// CouponConfig describes the single promotion currently honoured at checkout.
type CouponConfig struct {
	Code string
	// Kind is "fixed" (discount = min(Amount, subtotal)) or "floor"
	// (discount brings the payable subtotal down to Amount).
	Kind        string
	Amount      int64
	RemoteURL   string
	RemoteToken string
}

// RecaptchaConfig controls bot-mitigation token verification at checkout.
type RecaptchaConfig struct {
	Secret   string
	Endpoint string
	MinScore float64
}

// EventsConfig names the Pub/Sub topics the core publishes to.
type EventsConfig struct {
	ProjectID           string
	OrderTopic          string
	ReconciliationTopic string
}

// OrdersConfig groups order-creation knobs.
type OrdersConfig struct {
	NumberPrefix string
	ShippingFee  int64
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(ctx context.Context, ref string) (string, error)

// Resolve implements SecretResolver.
func (f SecretResolverFunc) Resolve(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("config: secret resolver not configured")
	}
	return f(ctx, ref)
}

type loadOptions struct {
	envFile  string
	resolver SecretResolver
}

// Option customises Load behaviour.
type Option func(*loadOptions)

// WithEnvFile overrides the path of the optional dotenv file.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			o.envFile = trimmed
		}
	}
}

// WithSecretResolver enables resolution of secret:// references in env values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loadOptions) {
		o.resolver = resolver
	}
}

// Load reads configuration from the environment, applying the optional dotenv
// file for local development and resolving secret:// references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loadOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	env, err := environment(options.envFile)
	if err != nil {
		return Config{}, err
	}

	get := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	getSecret := func(key string) (string, error) {
		value := get(key)
		if !strings.HasPrefix(value, secretScheme) {
			return value, nil
		}
		if options.resolver == nil {
			return "", fmt.Errorf("config: %s references a secret but no resolver is configured", key)
		}
		resolved, err := options.resolver.Resolve(ctx, value)
		if err != nil {
			return "", fmt.Errorf("config: resolve %s: %w", key, err)
		}
		return resolved, nil
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(get("PORT"), defaultPort),
			ReadTimeout:  parseDuration(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: parseDuration(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  parseDuration(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       get("FIREBASE_PROJECT_ID"),
			CredentialsFile: get("FIREBASE_CREDENTIALS_FILE"),
		},
		Firestore: FirestoreConfig{
			ProjectID:    defaultString(get("FIRESTORE_PROJECT_ID"), get("FIREBASE_PROJECT_ID")),
			EmulatorHost: get("FIRESTORE_EMULATOR_HOST"),
		},
		Storage: StorageConfig{
			ExportsBucket: get("STORAGE_EXPORTS_BUCKET"),
		},
		Gateway: GatewayConfig{
			KeyID:    get("GATEWAY_KEY_ID"),
			Currency: defaultString(get("GATEWAY_CURRENCY"), defaultCurrency),
			Timeout:  parseDuration(get("GATEWAY_TIMEOUT"), defaultGatewayTimeout),
		},
		Carrier: CarrierConfig{
			BaseURL: get("CARRIER_BASE_URL"),
			Email:   get("CARRIER_EMAIL"),
			Timeout: parseDuration(get("CARRIER_TIMEOUT"), defaultCarrierTimeout),
		},
		Coupon: CouponConfig{
			Code:      get("COUPON_CODE"),
			Kind:      defaultString(strings.ToLower(get("COUPON_KIND")), defaultCouponKind),
			Amount:    parseInt64(get("COUPON_AMOUNT"), 0),
			RemoteURL: get("COUPON_REMOTE_URL"),
		},
		Recaptcha: RecaptchaConfig{
			Endpoint: defaultString(get("RECAPTCHA_ENDPOINT"), defaultRecaptchaEndpoint),
			MinScore: parseFloat(get("RECAPTCHA_MIN_SCORE"), 0.5),
		},
		Events: EventsConfig{
			ProjectID:           defaultString(get("EVENTS_PROJECT_ID"), get("FIREBASE_PROJECT_ID")),
			OrderTopic:          get("EVENTS_ORDER_TOPIC"),
			ReconciliationTopic: get("EVENTS_RECONCILIATION_TOPIC"),
		},
		Orders: OrdersConfig{
			NumberPrefix: defaultString(get("ORDER_NUMBER_PREFIX"), defaultOrderPrefix),
			ShippingFee:  parseInt64(get("ORDER_SHIPPING_FEE"), defaultShippingFee),
		},
	}

	var resolveErr error
	resolve := func(key string) string {
		value, err := getSecret(key)
		if err != nil && resolveErr == nil {
			resolveErr = err
		}
		return value
	}

	cfg.Gateway.Secret = resolve("GATEWAY_SECRET")
	cfg.Carrier.Password = resolve("CARRIER_PASSWORD")
	cfg.Recaptcha.Secret = resolve("RECAPTCHA_SECRET")
	cfg.Coupon.RemoteToken = resolve("COUPON_REMOTE_TOKEN")
	cfg.Storage.SignedURLKey = resolve("STORAGE_SIGNED_URL_KEY")
	if resolveErr != nil {
		return Config{}, resolveErr
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Coupon.Code != "" && c.Coupon.Amount <= 0 {
		return errors.New("config: COUPON_AMOUNT must be positive when COUPON_CODE is set")
	}
	switch c.Coupon.Kind {
	case "fixed", "floor":
	default:
		return fmt.Errorf("config: unknown COUPON_KIND %q", c.Coupon.Kind)
	}
	if c.Orders.ShippingFee < 0 {
		return errors.New("config: ORDER_SHIPPING_FEE must be >= 0")
	}
	return nil
}

// environment merges process env vars over the optional dotenv file.
func environment(envFile string) (map[string]string, error) {
	values := map[string]string{}

	if envFile != "" {
		file, err := os.Open(envFile)
		switch {
		case err == nil:
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "#") {
					continue
				}
				key, value, found := strings.Cut(line, "=")
				if !found {
					continue
				}
				values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
			}
			closeErr := file.Close()
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", envFile, err)
			}
			if closeErr != nil {
				return nil, fmt.Errorf("config: close %s: %w", envFile, closeErr)
			}
		case errors.Is(err, os.ErrNotExist):
			// The dotenv file is optional.
		default:
			return nil, fmt.Errorf("config: open %s: %w", envFile, err)
		}
	}

	for _, pair := range os.Environ() {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		values[key] = value
	}
	return values, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
