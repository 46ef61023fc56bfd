package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
	"github.com/domen-source/storyweaver-consumer/internal/handlers"
	"github.com/domen-source/storyweaver-consumer/internal/payments"
	"github.com/domen-source/storyweaver-consumer/internal/platform/config"
	"github.com/domen-source/storyweaver-consumer/internal/platform/jobs"
	"github.com/domen-source/storyweaver-consumer/internal/platform/observability"
	"github.com/domen-source/storyweaver-consumer/internal/platform/requestctx"
	"github.com/domen-source/storyweaver-consumer/internal/platform/secrets"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	events := services.Logger(observability.NewEventLogger(logger.Named("services")))

	backendClient, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	sessions := services.NewSessionStore(nil)
	ledger := services.NewPaymentLedger(nil)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	if cfg.Retention.SweepInterval > 0 {
		sweepTicker := time.NewTicker(cfg.Retention.SweepInterval)
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			defer sweepTicker.Stop()
			sweepLogger := logger.Named("retention")
			for {
				select {
				case <-sweepTicker.C:
					idle := sessions.Sweep(cfg.Retention.SessionIdle)
					seen := ledger.SweepEvents(cfg.Retention.WebhookEvents)
					if idle > 0 || seen > 0 {
						sweepLogger.Info("retention sweep removed entries",
							zap.Int("sessions", idle),
							zap.Int("webhookEvents", seen),
						)
					}
				case <-sweepCtx.Done():
					return
				}
			}
		}()
	}

	bootstrapService, err := services.NewBootstrapService(services.BootstrapServiceDeps{
		Backend:      backendClient,
		Sessions:     sessions,
		DefaultEmail: cfg.Backend.DefaultCustomerEmail,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise bootstrap service", zap.Error(err))
	}

	customizationService, err := services.NewCustomizationService(services.CustomizationServiceDeps{
		Backend:      backendClient,
		Sessions:     sessions,
		MaxDimension: cfg.Uploads.MaxDimension,
		MaxPixels:    cfg.Uploads.MaxPixels,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise customization service", zap.Error(err))
	}

	generationService, err := services.NewGenerationService(services.GenerationServiceDeps{
		Backend:      backendClient,
		Sessions:     sessions,
		PollInterval: cfg.Generation.PollInterval,
		PollTimeout:  cfg.Generation.PollTimeout,
		PreviewPages: cfg.Generation.PreviewPageLimit,
		Logger:       events,
	})
	if err != nil {
		logger.Fatal("failed to initialise generation service", zap.Error(err))
	}

	var unlockTokens *payments.UnlockTokens
	var tokenVerifier services.UnlockTokenVerifier
	if strings.TrimSpace(cfg.Unlock.SigningKey) != "" {
		unlockTokens, err = payments.NewUnlockTokens(cfg.Unlock.SigningKey, cfg.Unlock.TTL, nil)
		if err != nil {
			logger.Fatal("failed to initialise unlock tokens", zap.Error(err))
		}
		tokenVerifier = unlockTokens
	} else {
		logger.Warn("unlock signing key not configured; paid status relies on the payment ledger only")
	}
	paymentVerifier := services.NewPaymentVerifier(ledger, tokenVerifier, events)

	var checkoutService services.CheckoutService
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: payments.StripeLogger(events),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		deps := services.CheckoutServiceDeps{
			Payments:          provider,
			Ledger:            ledger,
			PublicOrigin:      cfg.Storefront.PublicOrigin,
			Currency:          cfg.Storefront.Currency,
			PreviewPriceCents: cfg.PSP.PreviewPriceCents,
			OnPaid: func(ctx context.Context, orderID string) {
				if err := generationService.MarkPaid(ctx, orderID); err != nil {
					logger.Warn("mark paid failed", zap.String("orderId", orderID), zap.Error(err))
				}
			},
			Logger: events,
		}
		if unlockTokens != nil {
			deps.Tokens = unlockTokens
		}
		checkoutService, err = services.NewCheckoutService(deps)
		if err != nil {
			logger.Fatal("failed to initialise checkout service", zap.Error(err))
		}
	} else {
		logger.Warn("stripe api key not configured; checkout routes disabled")
	}

	fulfillment, stopFulfillment := newFulfillmentPublisher(ctx, logger, cfg, events)
	defer stopFulfillment()

	var webhookService services.WebhookService
	if strings.TrimSpace(cfg.PSP.StripeWebhookSecret) != "" {
		verifier, err := payments.NewWebhookVerifier(cfg.PSP.StripeWebhookSecret)
		if err != nil {
			logger.Fatal("failed to initialise webhook verifier", zap.Error(err))
		}
		webhookService, err = services.NewWebhookService(services.WebhookServiceDeps{
			Verifier:    verifier,
			Ledger:      ledger,
			Fulfillment: fulfillment,
			Generation:  generationService,
			Logger:      events,
		})
		if err != nil {
			logger.Fatal("failed to initialise webhook service", zap.Error(err))
		}
	} else {
		logger.Warn("stripe webhook secret not configured; webhook routes disabled")
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthCheck("backend", backendClient.Ping),
	)

	bookHandlers := handlers.NewBookHandlers(bootstrapService)
	orderHandlers := handlers.NewOrderHandlers(customizationService, generationService, paymentVerifier,
		handlers.WithUnlockCookie(cfg.Unlock.CookieName),
		handlers.WithMaxUploadBytes(cfg.Uploads.MaxBytes),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithCheckoutRateLimit(cfg.RateLimits.CheckoutPerMinute),
		handlers.WithCheckoutCookie(cfg.Unlock.CookieName, secureOrigin(cfg.Storefront.PublicOrigin)),
	)
	webhookHandlers := handlers.NewWebhookHandlers(webhookService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Secrets.ProjectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithTrustedProxy(cfg.Server.TrustProxyHeaders),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithBookRoutes(bookHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	generationService.Close()
	sweepCancel()
	sweepWG.Wait()
}

// newFulfillmentPublisher returns the Pub/Sub publisher when a topic is
// configured and a log-only publisher otherwise.
func newFulfillmentPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config, events services.Logger) (services.FulfillmentPublisher, func()) {
	topicName := strings.TrimSpace(cfg.Fulfillment.Topic)
	if topicName == "" {
		return services.NewLogFulfillmentPublisher(events), func() {}
	}
	client, err := pubsub.NewClient(ctx, cfg.Fulfillment.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	publisher, err := jobs.NewPubSubFulfillmentPublisher(client.Topic(topicName))
	if err != nil {
		logger.Fatal("failed to initialise fulfillment publisher", zap.Error(err))
	}
	logger.Info("fulfillment events publish to pubsub", zap.String("topic", topicName))
	return publisher, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	fallbackPath := lookup("STOREFRONT_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project := lookup("STOREFRONT_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("STOREFRONT_SECRETS_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve outside local development.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["STOREFRONT_ENVIRONMENT"]))
	if environment == "" || environment == "local" || environment == "test" {
		return nil
	}
	return []string{
		"PSP.StripeAPIKey",
		"PSP.StripeWebhookSecret",
		"Unlock.SigningKey",
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["STOREFRONT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func secureOrigin(origin string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Scheme == "https"
}
