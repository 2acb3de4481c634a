package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"RSSBouncer/internal/config"
	"RSSBouncer/internal/domain"
	"RSSBouncer/internal/infrastructure/feed"
	"RSSBouncer/internal/infrastructure/httpapi"
	"RSSBouncer/internal/infrastructure/llm"
	"RSSBouncer/internal/infrastructure/raindrop"
	"RSSBouncer/internal/infrastructure/scheduler"
	"RSSBouncer/internal/infrastructure/secrets"
	"RSSBouncer/internal/infrastructure/storage"
	"RSSBouncer/internal/infrastructure/telegram"
	"RSSBouncer/internal/logging"
	"RSSBouncer/internal/metrics"
	"RSSBouncer/internal/ports"
	"RSSBouncer/internal/usecase"
)

const (
	openAIKeySecret     = "OPENAI_API_KEY"
	raindropTokenSecret = "RAINDROP_TOKEN"
	telegramTokenSecret = "TELEGRAM_BOT_TOKEN"

	shutdownTimeout = 30 * time.Second
	pushTimeout     = 10 * time.Second
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLRepository
	pipeline *usecase.Pipeline
	metrics  *metrics.Recorder
}

// New resolves credentials, validates the configuration, opens the state
// store and wires every adapter. Call Close when done.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, provider ports.SecretProvider) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	if provider == nil {
		provider = secrets.NewEnvProvider()
	}

	if err := resolveSecrets(ctx, &cfg, provider); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := storage.Open(ctx, cfg.State)
	if err != nil {
		return nil, err
	}

	retryPolicy := cfg.Processing.Retry.Policy()

	classifier := usecase.NewClassifier(usecase.ClassifierDeps{
		Chat:            llm.NewChatGPTClient(cfg.OpenAI),
		Criteria:        criteriaFromConfig(cfg.Filters, baseLogger),
		Retry:           retryPolicy,
		MaxSummaryChars: cfg.Processing.MaxSummaryChars,
		Logger:          baseLogger,
	})

	router := usecase.NewRouter(usecase.RouterDeps{
		Bookmarks: raindrop.NewClient(cfg.Raindrop),
		Collections: map[domain.Collection]int64{
			domain.CollectionRead:  cfg.Raindrop.Collections.Read,
			domain.CollectionMaybe: cfg.Raindrop.Collections.Maybe,
			domain.CollectionSkip:  cfg.Raindrop.Collections.Skip,
		},
		SaveSkipped: cfg.Raindrop.SaveSkipped,
		Retry:       retryPolicy,
		Logger:      baseLogger,
	})

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	recorder := metrics.NewRecorder()

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Fetcher:    feed.NewFetcher(nil, baseLogger.With("component", "feed")),
		Store:      store,
		Classifier: classifier,
		Router:     router,
		Notifier:   notifier,
		Observer:   recorder,
		Logger:     baseLogger,
		Feeds:      cfg.FeedSources(),
		BatchSize:  cfg.Processing.BatchSize,
		MaxAge:     cfg.Filters.MaxAge(),
		Workers:    cfg.Processing.FeedWorkers,
		RunTimeout: cfg.Processing.RunTimeout,
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		pipeline: pipeline,
		metrics:  recorder,
	}, nil
}

// RunOnce performs a single run and pushes its metrics when a Pushgateway is configured.
func (a *Application) RunOnce(ctx context.Context) (*domain.RunSummary, error) {
	summary, err := a.pipeline.RunOnce(ctx)

	if a.cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if pushErr := a.metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); pushErr != nil {
			a.logger.Warn("metrics push failed", "error", pushErr)
		}
	}

	return summary, err
}

// Serve runs the pipeline on the configured interval and exposes the HTTP
// trigger API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	sched := usecase.NewScheduler(scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval), a.pipeline, a.logger)

	server := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Runner:  a.pipeline,
			Metrics: a.metrics.Handler(),
			Logger:  a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := sched.Start(ctx); err != nil {
		_ = server.Close()
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "interval", a.cfg.Scheduler.Interval)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown http api: %w", err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("stop scheduler: %w", err))
	}

	a.logger.Info("serve stopped")
	return runErr
}

// Close releases the state store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// resolveSecrets fills empty credentials from the provider. A secret that is
// simply absent is left for Validate to report.
func resolveSecrets(ctx context.Context, cfg *config.Config, provider ports.SecretProvider) error {
	targets := []struct {
		name  string
		value *string
	}{
		{openAIKeySecret, &cfg.OpenAI.APIKey},
		{raindropTokenSecret, &cfg.Raindrop.Token},
		{telegramTokenSecret, &cfg.Notifications.Telegram.BotToken},
	}

	for _, target := range targets {
		if *target.value != "" {
			continue
		}
		value, err := provider.Secret(ctx, target.name)
		if errors.Is(err, secrets.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve secret %s: %w", target.name, err)
		}
		*target.value = value
	}

	return nil
}

func criteriaFromConfig(filters config.FiltersConfig, logger *slog.Logger) usecase.Criteria {
	rules := make(map[domain.Collection]string, len(filters.CollectionRules))
	for key, rule := range filters.CollectionRules {
		collection, ok := domain.ParseCollection(key)
		if !ok {
			logger.Warn("ignoring rule for unknown collection", "collection", key)
			continue
		}
		rules[collection] = rule
	}

	return usecase.Criteria{
		Personas:        filters.PersonaList(),
		SkipCriteria:    append([]string(nil), filters.SkipCriteria...),
		CollectionRules: rules,
		PriorityTopics:  append([]string(nil), filters.PriorityTopics...),
	}
}
