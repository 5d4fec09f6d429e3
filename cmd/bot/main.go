package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/api"
	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/bot"
	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/config"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/embedding"
	"example.com/worklog/internal/outbox"
	persistence "example.com/worklog/internal/persistence/postgres"
	"example.com/worklog/internal/rollover"
	httptransport "example.com/worklog/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	if err := repo.NormalizeHistory(ctx); err != nil {
		logger.Fatal("historical activity normalization failed", zap.Error(err))
	}

	resolver := alias.NewResolver(repo)
	tracker := domain.NewTracker(repo, resolver)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
	go dispatcher.Start(ctx)

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.EmbeddingProvider,
		OllamaEndpoint: cfg.OllamaEndpoint,
		OllamaModel:    cfg.OllamaModel,
		GenAIAPIKey:    cfg.GenAIAPIKey,
		GenAIModel:     cfg.GenAIModel,
	})
	if err != nil {
		logger.Fatal("embedding engine init failed", zap.Error(err))
	}

	classifierCfg, err := classifier.LoadConfig(cfg.ClassifierConfigPath)
	if err != nil {
		logger.Fatal("classifier config load failed", zap.Error(err))
	}
	clf, err := classifier.New(ctx, engine, classifierCfg)
	if err != nil {
		logger.Fatal("classifier init failed", zap.Error(err))
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal("invalid rollover timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	runner := rollover.NewRunner(repo, clf, rollover.Policy(cfg.RolloverPolicy), logger)
	scheduler := rollover.NewScheduler(runner, loc, cfg.RolloverRetryDelay, logger)
	go scheduler.Start(ctx)

	router := bot.NewRouter(tracker, resolver, logger)

	mux := http.NewServeMux()
	api.NewHandler(tracker, repo).RegisterRoutes(mux)
	bot.NewHTTPHandler(router).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	authMiddleware.Skipper = func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}

	accessLog := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(accessLog(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("worklog service listening", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	dispatcher.Wait()
	scheduler.Wait()
}
