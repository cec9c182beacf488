// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Record store
	StoreDriver   string // "postgres" | "mongo" | "memory"
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	DBMaxConns    int
	DBMinConns    int

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int

	// Redis (relevance queue + ward event fan-out); empty runs both in-process
	RedisURL string

	// Ward boundaries (GeoJSON FeatureCollection)
	WardGeoJSONPath string

	// Engine tuning
	GrievancesPer24h     int
	GroupingRadiusMeters float64
	GroupingLookback     time.Duration
	QuickCheckLookback   time.Duration
	OldPhotoAge          time.Duration
	WorkerAttempts       int
	WorkerBackoff        time.Duration
	WorkerEnabled        bool
	ReconcileInterval    time.Duration
	ScoringConfigPath    string

	// Evidence storage; S3 when S3Bucket is set, local disk otherwise
	UploadDir     string
	PublicBaseURL string
	S3Bucket      string
	S3Endpoint    string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	S3PublicURL   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	port := getEnvInt("PORT", 8080)
	cfg := &Config{
		Port:        port,
		Environment: getEnv("ENVIRONMENT", "development"),

		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "civic"),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 25),
		DBMinConns:    getEnvInt("DB_MIN_CONNS", 5),

		JWTSecret:      getEnv("JWT_SECRET", devJWTSecret),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"), ","),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 60),

		RedisURL: getEnv("REDIS_URL", ""),

		WardGeoJSONPath: getEnv("WARD_GEOJSON_PATH", "data/wards.geojson"),

		GrievancesPer24h:     getEnvInt("GRIEVANCES_PER_24H", 3),
		GroupingRadiusMeters: getEnvFloat("GROUPING_RADIUS_METERS", 100),
		GroupingLookback:     time.Duration(getEnvInt("GROUPING_LOOKBACK_DAYS", 7)) * 24 * time.Hour,
		QuickCheckLookback:   time.Duration(getEnvInt("QUICK_CHECK_LOOKBACK_HOURS", 72)) * time.Hour,
		OldPhotoAge:          time.Duration(getEnvInt("OLD_PHOTO_DAYS", 30)) * 24 * time.Hour,
		WorkerAttempts:       getEnvInt("WORKER_ATTEMPTS", 3),
		WorkerBackoff:        getEnvDuration("WORKER_BACKOFF", 2*time.Second),
		WorkerEnabled:        getEnvBool("WORKER_ENABLED", true),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 10*time.Minute),
		ScoringConfigPath:    getEnv("SCORING_CONFIG_PATH", ""),

		UploadDir:     getEnv("UPLOAD_DIR", "uploads"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		S3PublicURL:   getEnv("S3_PUBLIC_URL", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "mongo", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres, mongo or memory, got %q", c.StoreDriver)
	}
	if c.GrievancesPer24h < 1 {
		return fmt.Errorf("GRIEVANCES_PER_24H must be at least 1")
	}
	if c.WorkerAttempts < 1 {
		return fmt.Errorf("WORKER_ATTEMPTS must be at least 1")
	}

	// Validate required fields in production
	if c.Environment == "production" {
		if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.StoreDriver == "mongo" && c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required in production")
		}
		if c.StoreDriver == "memory" {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
		if c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
