package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://localhost:3002" {
		t.Errorf("unexpected backend base url %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.DefaultCustomerEmail != "demo@example.com" {
		t.Errorf("unexpected default email %s", cfg.Backend.DefaultCustomerEmail)
	}
	if cfg.Generation.PollInterval != 2*time.Second {
		t.Errorf("unexpected poll interval %s", cfg.Generation.PollInterval)
	}
	if cfg.Generation.PollTimeout != 60*time.Second {
		t.Errorf("unexpected poll timeout %s", cfg.Generation.PollTimeout)
	}
	if cfg.Generation.PreviewPageLimit != 4 {
		t.Errorf("unexpected preview page limit %d", cfg.Generation.PreviewPageLimit)
	}
	if cfg.Storefront.PublicOrigin != "http://localhost:3000" {
		t.Errorf("unexpected public origin %s", cfg.Storefront.PublicOrigin)
	}
	if cfg.PSP.PreviewPriceCents != 3999 {
		t.Errorf("unexpected preview price %d", cfg.PSP.PreviewPriceCents)
	}
	if cfg.Uploads.MaxBytes != 10<<20 {
		t.Errorf("unexpected upload limit %d", cfg.Uploads.MaxBytes)
	}
	if cfg.Uploads.MaxPixels != 40_000_000 {
		t.Errorf("unexpected pixel budget %d", cfg.Uploads.MaxPixels)
	}
	if cfg.Retention.SessionIdle != 24*time.Hour || cfg.Retention.WebhookEvents != 72*time.Hour {
		t.Errorf("unexpected retention %+v", cfg.Retention)
	}
	if cfg.Retention.SweepInterval != 10*time.Minute {
		t.Errorf("unexpected sweep interval %s", cfg.Retention.SweepInterval)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected local environment, got %s", cfg.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":               "9090",
		"STOREFRONT_BACKEND_BASE_URL":          "https://backend.example.com/",
		"STOREFRONT_GENERATION_POLL_INTERVAL":  "1s",
		"STOREFRONT_GENERATION_POLL_TIMEOUT":   "90s",
		"STOREFRONT_PUBLIC_ORIGIN":             "https://shop.example.com/",
		"STOREFRONT_PSP_STRIPE_API_KEY":        "sm://stripe/api",
		"STOREFRONT_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
		"STOREFRONT_UNLOCK_SIGNING_KEY":        "plain-key",
		"STOREFRONT_FULFILLMENT_TOPIC":         "orders-paid",
		"STOREFRONT_SECRETS_PROJECT_ID":        "sw-prod",
	}
	var seen []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		seen = append(seen, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port override, got %s", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "https://backend.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Storefront.PublicOrigin != "https://shop.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Storefront.PublicOrigin)
	}
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe/api" {
		t.Errorf("expected sm:// normalised and resolved, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "resolved:secret://stripe/webhook" {
		t.Errorf("unexpected webhook secret %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.Unlock.SigningKey != "plain-key" {
		t.Errorf("plain values must pass through, got %s", cfg.Unlock.SigningKey)
	}
	if cfg.Fulfillment.ProjectID != "sw-prod" {
		t.Errorf("expected fulfillment project to default to secrets project, got %s", cfg.Fulfillment.ProjectID)
	}
	if len(seen) != 2 {
		t.Errorf("expected two secret lookups, got %v", seen)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_BACKEND_BASE_URL":         "not a url",
		"STOREFRONT_GENERATION_PREVIEW_PAGES": "1",
		"STOREFRONT_GENERATION_POLL_INTERVAL": "5s",
		"STOREFRONT_GENERATION_POLL_TIMEOUT":  "1s",
		"STOREFRONT_PSP_PREVIEW_PRICE_CENTS":  "10",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Backend.BaseURL":             true,
		"Generation.PreviewPageLimit": true,
		"Generation.PollTimeout":      true,
		"PSP.PreviewPriceCents":       true,
	}
	fields := validation.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, field := range fields {
		if !want[field] {
			t.Errorf("unexpected field %s", field)
		}
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{"STOREFRONT_PSP_STRIPE_API_KEY": "sm://stripe/api"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref %s", secretErr.Ref)
	}
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""), WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected missing names %v", names)
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "STOREFRONT_SERVER_PORT=7000\nexport STOREFRONT_CURRENCY=\"eur\"\n# comment\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"STOREFRONT_SERVER_PORT": "7100"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("explicit map should win over .env, got %s", cfg.Server.Port)
	}
	if cfg.Storefront.Currency != "eur" {
		t.Errorf("expected currency from .env, got %s", cfg.Storefront.Currency)
	}

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["STOREFRONT_SERVER_PORT"] != "7000" {
		t.Errorf("expected .env value, got %v", values)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "missing.env")), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}
