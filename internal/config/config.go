package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret string

	// Image host (Cloudflare-Images compatible provider)
	ImageHostAPIBase      string
	ImageHostAccountID    string
	ImageHostAPIToken     string
	ImageHostAccountHash  string
	ImageHostDeliveryBase string
	ImageHostPageSize     int

	// Metadata embedded in every uploaded object, used by reconciliation
	MediaAppTag      string
	MediaEnvironment string

	// Upload limits
	UploadMaxFiles       int
	UploadsPerDay        int
	UploadDefaultMaxSize int64

	// Reconciliation
	CleanupSchedule  string
	CleanupDryRun    bool
	StatsCacheTTL    time.Duration
	ReconcileOnStart bool

	// Security
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "alumnet"),
		DBPassword: getEnv("DB_PASSWORD", "alumnet"),
		DBName:     getEnv("DB_NAME", "alumnet"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production"),

		// Image host
		ImageHostAPIBase:      getEnv("IMAGE_HOST_API_BASE", "https://api.cloudflare.com/client/v4"),
		ImageHostAccountID:    getEnv("IMAGE_HOST_ACCOUNT_ID", ""),
		ImageHostAPIToken:     getEnv("IMAGE_HOST_API_TOKEN", ""),
		ImageHostAccountHash:  getEnv("IMAGE_HOST_ACCOUNT_HASH", ""),
		ImageHostDeliveryBase: getEnv("IMAGE_HOST_DELIVERY_BASE", "https://imagedelivery.net"),
		ImageHostPageSize:     getEnvAsInt("IMAGE_HOST_PAGE_SIZE", 100),

		// Media metadata
		MediaAppTag:      getEnv("MEDIA_APP_TAG", "alumnet"),
		MediaEnvironment: getEnv("MEDIA_ENVIRONMENT", getEnv("ENV", "development")),

		// Upload limits
		UploadMaxFiles:       getEnvAsInt("UPLOAD_MAX_FILES", 10),
		UploadsPerDay:        getEnvAsInt("UPLOADS_PER_DAY", 200),
		UploadDefaultMaxSize: getEnvAsInt64("UPLOAD_DEFAULT_MAX_SIZE", 10*1024*1024),

		// Reconciliation
		CleanupSchedule:  getEnv("CLEANUP_SCHEDULE", "0 3 * * *"),
		CleanupDryRun:    getEnv("CLEANUP_DRY_RUN", "true") == "true",
		StatsCacheTTL:    getEnvAsDuration("STATS_CACHE_TTL", "5m"),
		ReconcileOnStart: getEnv("RECONCILE_ON_START", "false") == "true",

		// Security
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	value, _ := time.ParseDuration(defaultValue)
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
