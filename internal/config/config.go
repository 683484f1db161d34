package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Feedback providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Audio storage backends. An empty backend disables uploads.
const (
	StorageR2    = "r2"
	StorageGCS   = "gcs"
	StorageMinio = "minio"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Host     string `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"SERVER_HTTP_PORT" default:"8080"`

	Environment string `envconfig:"SERVER_ENV" default:"development"`

	// Timeouts
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"150s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// SpeechAce pronunciation scoring
	SpeechAceAPIKey   string        `envconfig:"SPEECHACE_API_KEY"`
	SpeechAceEndpoint string        `envconfig:"SPEECHACE_API_ENDPOINT" default:"https://api.speechace.co"`
	SpeechAceTimeout  time.Duration `envconfig:"SPEECHACE_TIMEOUT" default:"60s"`

	// Feedback generation
	FeedbackProvider  string        `envconfig:"FEEDBACK_PROVIDER" default:"openai"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"45s"`
	OpenAIAPIKey      string        `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL     string        `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string        `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GCPProjectID      string        `envconfig:"GCP_PROJECT_ID"`
	GCPLocation       string        `envconfig:"GCP_LOCATION" default:"europe-west1"`

	// Audio ingestion
	AudioFetchTimeout     time.Duration `envconfig:"AUDIO_FETCH_TIMEOUT" default:"30s"`
	AudioMaxBytes         int64         `envconfig:"AUDIO_MAX_BYTES" default:"10485760"`
	AudioAllowPrivateURLs bool          `envconfig:"AUDIO_ALLOW_PRIVATE_URLS" default:"false"`

	// Websocket
	WSMaxInFlight int `envconfig:"WS_MAX_IN_FLIGHT" default:"2"`

	// Audio storage
	StorageBackend string `envconfig:"STORAGE_BACKEND"`

	// Cloudflare R2
	CloudflareAccessKeyID string `envconfig:"CLOUDFLARE_ACCESS_KEY_ID"`
	CloudflareSecretKey   string `envconfig:"CLOUDFLARE_SECRET_ACCESS_KEY"`
	CloudflareR2Endpoint  string `envconfig:"CLOUDFLARE_R2_ENDPOINT"`
	CloudflarePublicURL   string `envconfig:"CLOUDFLARE_PUBLIC_URL"`
	CloudflareBucketName  string `envconfig:"CLOUDFLARE_BUCKET_NAME"`

	// Google Cloud Storage
	GCSBucketName      string `envconfig:"GCS_BUCKET_NAME"`
	GCSCredentialsFile string `envconfig:"GCS_CREDENTIALS_FILE"`

	// MinIO
	MinioEndpoint  string `envconfig:"MINIO_ENDPOINT"`
	MinioAccessKey string `envconfig:"MINIO_ACCESS_KEY_ID"`
	MinioSecretKey string `envconfig:"MINIO_SECRET_ACCESS_KEY"`
	MinioBucket    string `envconfig:"MINIO_BUCKET_NAME"`
	MinioUseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	MinioPublicURL string `envconfig:"MINIO_PUBLIC_URL"`

	// Redis
	RedisURL string `envconfig:"REDIS_URL"`

	// Database
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`

	// Pub/Sub
	PubSubProjectID string `envconfig:"PUBSUB_PROJECT_ID"`
	PubSubTopicID   string `envconfig:"PUBSUB_TOPIC_ID" default:"pronunciation-analyzed"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// CORS
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	CORSAllowedMethods []string `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,OPTIONS"`
	CORSAllowedHeaders []string `envconfig:"CORS_ALLOWED_HEADERS" default:"Accept,Authorization,Content-Type,X-Request-ID,X-Requested-With"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	switch c.FeedbackProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown FEEDBACK_PROVIDER %q", c.FeedbackProvider)
	}

	switch c.StorageBackend {
	case "", StorageR2, StorageGCS, StorageMinio:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.AudioMaxBytes <= 0 {
		return fmt.Errorf("AUDIO_MAX_BYTES must be positive, got %d", c.AudioMaxBytes)
	}
	if c.AudioFetchTimeout <= 0 {
		return fmt.Errorf("AUDIO_FETCH_TIMEOUT must be positive, got %s", c.AudioFetchTimeout)
	}
	return nil
}

// HTTPAddress returns the HTTP server address.
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
