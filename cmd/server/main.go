package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/windfall/francoflex_service/internal/client"
	"github.com/windfall/francoflex_service/internal/config"
	"github.com/windfall/francoflex_service/internal/handler/http"
	"github.com/windfall/francoflex_service/internal/handler/ws"
	"github.com/windfall/francoflex_service/internal/logger"
	"github.com/windfall/francoflex_service/internal/repository"
	"github.com/windfall/francoflex_service/internal/server"
	"github.com/windfall/francoflex_service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting francoflex_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()

	// Scoring
	if cfg.SpeechAceAPIKey == "" {
		log.Warn().Msg("SPEECHACE_API_KEY not set, every analysis will fail at scoring")
	}
	scorer := client.NewSpeechAceClient(cfg.SpeechAceAPIKey, cfg.SpeechAceEndpoint, cfg.SpeechAceTimeout)

	// Feedback generation
	var generator service.TextGenerator
	switch cfg.FeedbackProvider {
	case config.ProviderGemini:
		geminiClient, err := client.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GCPProjectID, cfg.GCPLocation)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini client")
		} else {
			generator = geminiClient.WithModel(cfg.GeminiModel)
			closers = append(closers, geminiClient.Close)
			log.Info().Str("model", cfg.GeminiModel).Msg("Gemini client initialized")
		}
	default:
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY not set, feedback generation disabled")
		} else {
			generator = client.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL).WithModel(cfg.OpenAIModel)
			log.Info().Str("model", cfg.OpenAIModel).Msg("OpenAI client initialized")
		}
	}

	// Initialize Redis client
	var jobQueue service.JobQueue
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			jobQueue = redisClient
			closers = append(closers, func() { redisClient.Close() })
			log.Info().Msg("Redis client initialized")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, async jobs disabled")
	}

	// Initialize Postgres client
	var analysisRepo repository.AnalysisRepository = repository.NewInMemoryAnalysisRepository()
	var postgresClient *client.PostgresClient
	if cfg.DatabaseURL != "" {
		postgresClient, err = client.NewPostgresClient(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Postgres client, using in-memory history")
		} else {
			analysisRepo = repository.NewPostgresAnalysisRepository(postgresClient)
			closers = append(closers, postgresClient.Close)
			log.Info().Msg("Postgres client initialized")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory history")
	}

	// Audio storage
	audioStore, closeStore := newAudioStore(ctx, cfg, log)
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	// Events
	var events service.EventPublisher
	if cfg.PubSubProjectID != "" {
		pubsubClient, err := client.NewPubSubClient(ctx, cfg.PubSubProjectID, cfg.PubSubTopicID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client")
		} else {
			events = pubsubClient
			closers = append(closers, pubsubClient.Close)
			log.Info().Str("topic", cfg.PubSubTopicID).Msg("Pub/Sub client initialized")
		}
	}

	// Initialize services
	fetcher := service.NewAudioFetcher(service.AudioFetcherConfig{
		Timeout:      cfg.AudioFetchTimeout,
		MaxBytes:     cfg.AudioMaxBytes,
		AllowPrivate: cfg.AudioAllowPrivateURLs,
	}, log)
	composer := service.NewFeedbackComposer(generator, cfg.GenerationTimeout, log)
	analysisService := service.NewAnalysisService(analysisRepo, log)
	pronunciationService := service.NewPronunciationService(fetcher, scorer, composer, log).
		WithHistory(analysisService).
		WithEvents(events)
	jobService := service.NewJobService(pronunciationService, jobQueue, log)
	uploadService := service.NewUploadService(audioStore, cfg.AudioMaxBytes, log)
	authService := service.NewAuthService(cfg.JWTSecret)
	if !authService.Enabled() {
		log.Warn().Msg("JWT_SECRET not set, requests run as the anonymous user")
	}

	// Initialize handlers
	healthHandler := http.NewHealthHandler()
	if redisClient != nil {
		healthHandler.AddCheck("redis", redisClient.Ping)
	}
	if postgresClient != nil {
		healthHandler.AddCheck("postgres", postgresClient.Ping)
	}
	pronunciationHandler := http.NewPronunciationHandler(log, pronunciationService, jobService, cfg.AudioMaxBytes)
	analysisHandler := http.NewAnalysisHandler(log, analysisService)
	audioHandler := http.NewAudioHandler(log, uploadService, cfg.AudioMaxBytes)
	wsHandler := ws.NewHandler(log, pronunciationService).WithMaxInFlight(cfg.WSMaxInFlight)

	// Websocket hub; base64 audio is about a third larger than the bytes.
	hub := server.NewWebSocketHub(log, cfg.CORSAllowedOrigins).
		WithReadLimit(cfg.AudioMaxBytes*4/3 + 64<<10)
	go hub.Run(ctx)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(cfg, log,
		healthHandler,
		pronunciationHandler,
		analysisHandler,
		audioHandler,
		authService,
		hub,
		wsHandler,
	)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Msg("Servers started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down servers...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	cancel()

	// Close clients
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}

	log.Info().Msg("Server stopped")
}

// newAudioStore builds the configured upload backend. A nil store disables uploads.
func newAudioStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.AudioStore, func()) {
	switch cfg.StorageBackend {
	case config.StorageR2:
		r2, err := client.NewCloudflareClient(ctx,
			cfg.CloudflareAccessKeyID,
			cfg.CloudflareSecretKey,
			cfg.CloudflareR2Endpoint,
			cfg.CloudflareBucketName,
			cfg.CloudflarePublicURL,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Cloudflare R2 client")
			return nil, nil
		}
		log.Info().Msg("Cloudflare R2 client initialized")
		return r2, nil

	case config.StorageGCS:
		gcs, err := client.NewStorageClient(ctx, cfg.GCSBucketName, cfg.GCSCredentialsFile)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize GCS client")
			return nil, nil
		}
		log.Info().Str("bucket", cfg.GCSBucketName).Msg("GCS client initialized")
		return gcs, gcs.Close

	case config.StorageMinio:
		mc, err := client.NewMinioClient(ctx,
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioUseSSL,
			cfg.MinioPublicURL,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize MinIO client")
			return nil, nil
		}
		log.Info().Str("bucket", cfg.MinioBucket).Msg("MinIO client initialized")
		return mc, nil

	default:
		log.Warn().Msg("STORAGE_BACKEND not set, audio uploads disabled")
		return nil, nil
	}
}
