package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 90 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 75 * time.Second
	defaultBackendBaseURL       = "http://localhost:3002"
	defaultBackendTimeout       = 60 * time.Second
	defaultCustomerEmail        = "demo@example.com"
	defaultPollInterval         = 2 * time.Second
	defaultPollTimeout          = 60 * time.Second
	defaultPreviewPageLimit     = 4
	defaultPublicOrigin         = "http://localhost:3000"
	defaultCurrency             = "usd"
	defaultPreviewPriceCents    = 3999
	defaultUnlockTTL            = 30 * 24 * time.Hour
	defaultUnlockCookie         = "storyweaver_unlock"
	defaultCheckoutPerMinute    = 20
	defaultUploadMaxBytes       = 10 << 20
	defaultUploadMaxDimension   = 2048
	defaultUploadMaxPixels      = 40_000_000
	defaultEnvironment          = "local"
	defaultSessionIdleTTL       = 24 * time.Hour
	defaultWebhookEventTTL      = 72 * time.Hour
	defaultSweepInterval        = 10 * time.Minute
	defaultSecretsFallbackFile  = ".secrets.local"
	minimumPreviewPageLimit     = 2
	minimumCheckoutAmountMinors = 50
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Backend     BackendConfig
	Generation  GenerationConfig
	Storefront  StorefrontConfig
	PSP         PSPConfig
	Unlock      UnlockConfig
	Fulfillment FulfillmentConfig
	RateLimits  RateLimitConfig
	Uploads     UploadConfig
	Retention   RetentionConfig
	Secrets     SecretsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// TrustProxyHeaders takes the client address from X-Forwarded-For/X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// BackendConfig points at the book/order backend API.
type BackendConfig struct {
	BaseURL              string
	Timeout              time.Duration
	DefaultCustomerEmail string
}

// GenerationConfig tunes the page generation poller and preview teaser.
type GenerationConfig struct {
	PollInterval     time.Duration
	PollTimeout      time.Duration
	PreviewPageLimit int
}

// StorefrontConfig holds public facing settings used when building redirect URLs.
type StorefrontConfig struct {
	PublicOrigin string
	Currency     string
}

// PSPConfig collects secrets for the payment provider.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	PreviewPriceCents   int64
}

// UnlockConfig controls the signed cookie issued after a verified payment.
type UnlockConfig struct {
	SigningKey string
	TTL        time.Duration
	CookieName string
}

// FulfillmentConfig names the Pub/Sub topic receiving paid checkout events.
// An empty topic keeps fulfillment log-only.
type FulfillmentConfig struct {
	ProjectID string
	Topic     string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	CheckoutPerMinute int
}

// UploadConfig bounds customer photo uploads.
type UploadConfig struct {
	MaxBytes     int64
	MaxDimension int
	MaxPixels    int64
}

// SecretsConfig configures Secret Manager lookups for sm:// references.
// RetentionConfig bounds the in-memory session store and webhook dedupe set.
// A zero SweepInterval disables the sweeper.
type RetentionConfig struct {
	SessionIdle   time.Duration
	WebhookEvents time.Duration
	SweepInterval time.Duration
}

type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets are empty after resolution.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the secret field names that were missing.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// EnvironmentValues returns the effective environment (dotenv < OS env < explicit map).
// main uses it to configure the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles configuration from defaults, .env overrides, environment
// variables and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:              stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:       durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:      durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:       durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
			TrustProxyHeaders: boolWithDefault(lookup, "STOREFRONT_SERVER_TRUST_PROXY_HEADERS", false),
		},
		Backend: BackendConfig{
			BaseURL:              strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_BACKEND_BASE_URL", defaultBackendBaseURL), "/"),
			Timeout:              durationWithDefault(lookup, "STOREFRONT_BACKEND_TIMEOUT", defaultBackendTimeout),
			DefaultCustomerEmail: stringWithDefault(lookup, "STOREFRONT_BACKEND_DEFAULT_EMAIL", defaultCustomerEmail),
		},
		Generation: GenerationConfig{
			PollInterval:     durationWithDefault(lookup, "STOREFRONT_GENERATION_POLL_INTERVAL", defaultPollInterval),
			PollTimeout:      durationWithDefault(lookup, "STOREFRONT_GENERATION_POLL_TIMEOUT", defaultPollTimeout),
			PreviewPageLimit: intWithDefault(lookup, "STOREFRONT_GENERATION_PREVIEW_PAGES", defaultPreviewPageLimit),
		},
		Storefront: StorefrontConfig{
			PublicOrigin: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_PUBLIC_ORIGIN", defaultPublicOrigin), "/"),
			Currency:     strings.ToLower(stringWithDefault(lookup, "STOREFRONT_CURRENCY", defaultCurrency)),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "STOREFRONT_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "STOREFRONT_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PreviewPriceCents:   int64(intWithDefault(lookup, "STOREFRONT_PSP_PREVIEW_PRICE_CENTS", defaultPreviewPriceCents)),
		},
		Unlock: UnlockConfig{
			SigningKey: stringWithDefault(lookup, "STOREFRONT_UNLOCK_SIGNING_KEY", ""),
			TTL:        durationWithDefault(lookup, "STOREFRONT_UNLOCK_TTL", defaultUnlockTTL),
			CookieName: stringWithDefault(lookup, "STOREFRONT_UNLOCK_COOKIE", defaultUnlockCookie),
		},
		Fulfillment: FulfillmentConfig{
			ProjectID: stringWithDefault(lookup, "STOREFRONT_FULFILLMENT_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "STOREFRONT_FULFILLMENT_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: intWithDefault(lookup, "STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN", defaultCheckoutPerMinute),
		},
		Uploads: UploadConfig{
			MaxBytes:     int64(intWithDefault(lookup, "STOREFRONT_UPLOAD_MAX_BYTES", defaultUploadMaxBytes)),
			MaxDimension: intWithDefault(lookup, "STOREFRONT_UPLOAD_MAX_DIMENSION", defaultUploadMaxDimension),
			MaxPixels:    int64(intWithDefault(lookup, "STOREFRONT_UPLOAD_MAX_PIXELS", defaultUploadMaxPixels)),
		},
		Retention: RetentionConfig{
			SessionIdle:   durationWithDefault(lookup, "STOREFRONT_RETENTION_SESSION_IDLE", defaultSessionIdleTTL),
			WebhookEvents: durationWithDefault(lookup, "STOREFRONT_RETENTION_WEBHOOK_EVENTS", defaultWebhookEventTTL),
			SweepInterval: durationWithDefault(lookup, "STOREFRONT_RETENTION_SWEEP_INTERVAL", defaultSweepInterval),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "STOREFRONT_SECRETS_FALLBACK_FILE", defaultSecretsFallbackFile),
		},
	}

	if cfg.Fulfillment.ProjectID == "" {
		cfg.Fulfillment.ProjectID = cfg.Secrets.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Unlock.SigningKey", &cfg.Unlock.SigningKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, "Backend.BaseURL")
	}
	if cfg.Backend.Timeout <= 0 {
		invalid = append(invalid, "Backend.Timeout")
	}
	if cfg.Generation.PollInterval <= 0 {
		invalid = append(invalid, "Generation.PollInterval")
	}
	if cfg.Generation.PollTimeout < cfg.Generation.PollInterval {
		invalid = append(invalid, "Generation.PollTimeout")
	}
	if cfg.Generation.PreviewPageLimit < minimumPreviewPageLimit {
		invalid = append(invalid, "Generation.PreviewPageLimit")
	}
	if u, err := url.Parse(cfg.Storefront.PublicOrigin); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, "Storefront.PublicOrigin")
	}
	if len(cfg.Storefront.Currency) != 3 {
		invalid = append(invalid, "Storefront.Currency")
	}
	if cfg.PSP.PreviewPriceCents < minimumCheckoutAmountMinors {
		invalid = append(invalid, "PSP.PreviewPriceCents")
	}
	if cfg.Unlock.TTL <= 0 {
		invalid = append(invalid, "Unlock.TTL")
	}
	if strings.TrimSpace(cfg.Unlock.CookieName) == "" {
		invalid = append(invalid, "Unlock.CookieName")
	}
	if cfg.Fulfillment.Topic != "" && cfg.Fulfillment.ProjectID == "" {
		invalid = append(invalid, "Fulfillment.ProjectID")
	}
	if cfg.RateLimits.CheckoutPerMinute < 0 {
		invalid = append(invalid, "RateLimits.CheckoutPerMinute")
	}
	if cfg.Uploads.MaxBytes <= 0 {
		invalid = append(invalid, "Uploads.MaxBytes")
	}
	if cfg.Uploads.MaxDimension <= 0 {
		invalid = append(invalid, "Uploads.MaxDimension")
	}
	if cfg.Uploads.MaxPixels <= 0 {
		invalid = append(invalid, "Uploads.MaxPixels")
	}
	if cfg.Retention.SessionIdle <= 0 {
		invalid = append(invalid, "Retention.SessionIdle")
	}
	if cfg.Retention.WebhookEvents <= 0 {
		invalid = append(invalid, "Retention.WebhookEvents")
	}
	if cfg.Retention.SweepInterval < 0 {
		invalid = append(invalid, "Retention.SweepInterval")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
