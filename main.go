package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/finsight-lab/finsight/internal/activities"
	"github.com/finsight-lab/finsight/internal/circuitbreaker"
	"github.com/finsight-lab/finsight/internal/config"
	"github.com/finsight-lab/finsight/internal/embeddings"
	"github.com/finsight-lab/finsight/internal/health"
	"github.com/finsight-lab/finsight/internal/httpapi"
	"github.com/finsight-lab/finsight/internal/llm"
	"github.com/finsight-lab/finsight/internal/market"
	_ "github.com/finsight-lab/finsight/internal/metrics" // register collectors
	"github.com/finsight-lab/finsight/internal/news"
	"github.com/finsight-lab/finsight/internal/prompts"
	"github.com/finsight-lab/finsight/internal/ratecontrol"
	"github.com/finsight-lab/finsight/internal/session"
	"github.com/finsight-lab/finsight/internal/streaming"
	"github.com/finsight-lab/finsight/internal/tracing"
	"github.com/finsight-lab/finsight/internal/vectordb"
	"github.com/finsight-lab/finsight/internal/workflows"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap logger for configuration loading; replaced once logging
	// settings are known.
	bootLog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger := buildLogger(cfg.Logging)
	defer logger.Sync()

	cfgMgr, err := config.NewManager(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to start configuration manager", zap.Error(err))
	}
	cfg = cfgMgr.Current()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	pack, err := prompts.Load(os.Getenv("PROMPTS_PATH"))
	if err != nil {
		logger.Fatal("Failed to load prompt pack", zap.Error(err))
	}

	// Outbound collaborators share one rate-limit registry; each gets its
	// own circuit breaker.
	limits := ratecontrol.FromConfig(cfg.RateLimits, logger)
	llmClient := llm.NewClient(cfg.LLM, circuitbreaker.FromConfig(cfg.CircuitBreakers.LLM), limits, logger)
	marketClient := market.NewClient(cfg.Market, circuitbreaker.FromConfig(cfg.CircuitBreakers.Market), limits, logger)
	newsClient := news.NewClient(cfg.News, circuitbreaker.FromConfig(cfg.CircuitBreakers.News), limits, logger)
	vectorClient := vectordb.NewClient(cfg.Vector, circuitbreaker.FromConfig(cfg.CircuitBreakers.Vector), logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	sessions := session.NewManager(cfg.Session, redisClient, logger)
	streams := streaming.NewManager(cfg.Streaming.RingCapacity)

	var embedOpts []option.RequestOption
	if cfg.LLM.APIKey != "" {
		embedOpts = append(embedOpts, option.WithAPIKey(cfg.LLM.APIKey))
	}
	if cfg.LLM.BaseURL != "" {
		embedOpts = append(embedOpts, option.WithBaseURL(cfg.LLM.BaseURL))
	}
	embedder := embeddings.NewService(cfg.Embeddings, embeddings.NewRedisCache(redisClient), logger, embedOpts...)

	stages := activities.NewActivities(cfg, activities.Deps{
		Fast:     llmClient.Fast(),
		Strong:   llmClient.Strong(),
		Market:   marketClient,
		News:     newsClient,
		Vectors:  vectorClient,
		Embedder: embedder,
		Prompts:  pack,
		Logger:   logger,
	})
	engine := workflows.NewEngine(cfg.Pipeline, stages, sessions, streams, logger)

	hm := health.NewManager(logger)
	_ = hm.RegisterChecker(health.NewRedisChecker(redisClient, logger))
	_ = hm.RegisterChecker(health.NewBreakerChecker("llm", llmClient.Breaker(), true))
	_ = hm.RegisterChecker(health.NewBreakerChecker("market_data", marketClient.Breaker(), false))
	_ = hm.RegisterChecker(health.NewBreakerChecker("news_search", newsClient.Breaker(), false))
	_ = hm.RegisterChecker(health.NewBreakerChecker("vector_search", vectorClient.Breaker(), false))
	_ = hm.RegisterChecker(health.NewEndpointChecker("qdrant", cfg.Vector.BaseURL()+"/readyz", false))
	if err := hm.Start(ctx); err != nil {
		logger.Warn("Health manager start failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	httpapi.NewHandler(engine, streams, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:        mux,
		ReadTimeout:    cfg.Service.ReadTimeout,
		WriteTimeout:   cfg.Service.WriteTimeout,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("HTTP server listening",
			zap.Int("port", cfg.Service.Port),
			zap.String("policy", engine.Policy()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Outbound rate limits and the pipeline tunables (policy, stage
	// timeout, classify timeout, retrieval depth) follow the config file
	// without a restart; addresses, models, and credentials are fixed at
	// startup.
	cfgMgr.OnReload(func(next *config.Config) {
		limits.Configure("llm", next.RateLimits.LLM)
		limits.Configure("market", next.RateLimits.Market)
		limits.Configure("news", next.RateLimits.News)
		engine.ApplyConfig(next.Pipeline)
		stages.ApplyConfig(next)
	})
	cfgMgr.Watch()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	_ = hm.Stop()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	logger, err := zc.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}
