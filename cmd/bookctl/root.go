package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
	"github.com/domen-source/storyweaver-consumer/internal/platform/config"
	"github.com/domen-source/storyweaver-consumer/internal/platform/observability"
	"github.com/domen-source/storyweaver-consumer/internal/services"
)

type rootOptions struct {
	backendURL   string
	timeout      time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
	logLevel     string
	jsonOutput   bool
}

// app holds the services a command runs against.
type app struct {
	out        io.Writer
	json       bool
	logger     *zap.Logger
	backend    *backend.Client
	bootstrap  services.BootstrapService
	generation services.GenerationService
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	var current *app

	root := &cobra.Command{
		Use:           "bookctl",
		Short:         "Inspect storybooks and orders on the book backend",
		Long:          "Inspect storybooks and orders on the book backend and watch full-book generation.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), out, opts)
			if err != nil {
				return err
			}
			current = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if current != nil {
				current.close()
			}
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.backendURL, "backend-url", "", "book backend base URL (defaults to STOREFRONT_BACKEND_BASE_URL)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "backend request timeout")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 0, "status poll interval for watch")
	flags.DurationVar(&opts.pollTimeout, "poll-timeout", 0, "give up watching after this long")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of tables")

	appFn := func() *app { return current }
	root.AddCommand(newBooksCmd(appFn), newOrdersCmd(appFn))
	return root
}

func newApp(ctx context.Context, out io.Writer, opts *rootOptions) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// bookctl only talks to the book backend, so PSP secret references resolve to nothing.
	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", nil
	})))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if url := strings.TrimSpace(opts.backendURL); url != "" {
		cfg.Backend.BaseURL = url
	}
	if opts.timeout > 0 {
		cfg.Backend.Timeout = opts.timeout
	}
	if opts.pollInterval > 0 {
		cfg.Generation.PollInterval = opts.pollInterval
	}
	if opts.pollTimeout > 0 {
		cfg.Generation.PollTimeout = opts.pollTimeout
	}

	logger, err := observability.NewConsoleLogger(opts.logLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	events := services.Logger(observability.NewEventLogger(logger))

	client, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	sessions := services.NewSessionStore(nil)
	bootstrap, err := services.NewBootstrapService(services.BootstrapServiceDeps{
		Backend:      client,
		Sessions:     sessions,
		DefaultEmail: cfg.Backend.DefaultCustomerEmail,
		Logger:       events,
	})
	if err != nil {
		return nil, err
	}
	generation, err := services.NewGenerationService(services.GenerationServiceDeps{
		Backend:      client,
		Sessions:     sessions,
		PollInterval: cfg.Generation.PollInterval,
		PollTimeout:  cfg.Generation.PollTimeout,
		PreviewPages: cfg.Generation.PreviewPageLimit,
		Logger:       events,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		out:        out,
		json:       opts.jsonOutput,
		logger:     logger,
		backend:    client,
		bootstrap:  bootstrap,
		generation: generation,
	}, nil
}

func (a *app) close() {
	a.generation.Close()
	_ = a.logger.Sync()
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
