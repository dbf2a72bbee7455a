package config

import (
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	Endpoint   string
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	QuotaDelay  time.Duration
}

type Config struct {
	Env      string
	Port     string
	LogLevel string

	Google   OAuthClient
	Facebook OAuthClient
	Tiktok   OAuthClient

	PostgresURI   string
	RedisURI      string
	RunMigrations bool
	FrontendURL   string
	R2            R2

	// SecretKey encrypts OAuth tokens at rest and must be 16, 24 or 32 bytes.
	SecretKey      string
	IdentitySecret string
	IdentityIssuer string
	StateSecret    string
	StateTTL       time.Duration
	CookieName     string

	HTTPTimeout       time.Duration
	UploadTimeout     time.Duration
	RefreshWindow     time.Duration
	UploadTokenWindow time.Duration
	MaxUploadBytes    int

	WorkerConcurrency int
	SweepInterval     string
	RefreshInterval   string
	Retry             Retry
}

func LoadConfig() *Config {
	return &Config{
		Env:      getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "3000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Google: OAuthClient{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},
		Facebook: OAuthClient{
			ClientID:     getEnv("FACEBOOK_APP_ID", ""),
			ClientSecret: getEnv("FACEBOOK_APP_SECRET", ""),
			RedirectURI:  getEnv("FACEBOOK_REDIRECT_URI", ""),
		},
		Tiktok: OAuthClient{
			ClientID:     getEnv("TIKTOK_CLIENT_KEY", ""),
			ClientSecret: getEnv("TIKTOK_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("TIKTOK_REDIRECT_URI", ""),
		},
		PostgresURI:   getEnv("POSTGRES_URI", ""),
		RedisURI:      getEnv("REDIS_URI", "localhost:6379"),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			Endpoint:   getEnv("R2_ENDPOINT", ""),
		},
		SecretKey:         getEnv("SECRET_KEY", ""),
		IdentitySecret:    getEnv("IDENTITY_JWT_SECRET", ""),
		IdentityIssuer:    getEnv("IDENTITY_JWT_ISSUER", ""),
		StateSecret:       getEnv("OAUTH_STATE_SECRET", ""),
		StateTTL:          getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		CookieName:        getEnv("COOKIE_NAME", "videoblade_session"),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		UploadTimeout:     getEnvDuration("UPLOAD_TIMEOUT", 2*time.Hour),
		RefreshWindow:     getEnvDuration("TOKEN_REFRESH_WINDOW", 5*time.Minute),
		UploadTokenWindow: getEnvDuration("UPLOAD_TOKEN_WINDOW", 30*time.Minute),
		MaxUploadBytes:    getEnvInt("MAX_UPLOAD_BYTES", 2<<30),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		SweepInterval:     getEnv("SWEEP_INTERVAL", "@every 1m"),
		RefreshInterval:   getEnv("TOKEN_REFRESH_INTERVAL", "@every 10m"),
		Retry: Retry{
			MaxAttempts: getEnvInt("PUBLISH_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvDuration("PUBLISH_RETRY_BASE_DELAY", 2*time.Minute),
			MaxDelay:    getEnvDuration("PUBLISH_RETRY_MAX_DELAY", time.Hour),
			QuotaDelay:  getEnvDuration("PUBLISH_QUOTA_DELAY", time.Hour),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
