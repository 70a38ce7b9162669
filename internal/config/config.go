package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds SDK and tooling configuration.
type Config struct {
	Env          string
	LogLevel     string
	APIBaseURL   string
	AppKey       string
	AppSignature string
	ContainerDir string

	RequestTimeout   time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	SaveInterval     time.Duration

	// Local manifest override for development builds.
	LocalManifestPath string

	// MetricsPort, when set, exposes Prometheus metrics on that port.
	MetricsPort string

	// Mock server settings (cmd/engage-mockserver).
	MockServerPort   string
	MockTokenSecret  string
	MockManifestPath string
	MockManifestTTL  time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		APIBaseURL:   getEnv("ENGAGE_API_BASE_URL", "https://api.engage.example.com/v9"),
		AppKey:       getEnv("ENGAGE_APP_KEY", ""),
		AppSignature: getEnv("ENGAGE_APP_SIGNATURE", ""),
		ContainerDir: getEnv("ENGAGE_CONTAINER_DIR", ""),

		RequestTimeout:   getEnvAsDuration("ENGAGE_REQUEST_TIMEOUT", 10*time.Second),
		RetryMaxAttempts: getEnvAsInt("ENGAGE_RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getEnvAsDuration("ENGAGE_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvAsDuration("ENGAGE_RETRY_MAX_DELAY", 5*time.Minute),
		SaveInterval:     getEnvAsDuration("ENGAGE_SAVE_INTERVAL", 10*time.Second),

		LocalManifestPath: getEnv("ENGAGE_LOCAL_MANIFEST", ""),
		MetricsPort:       getEnv("ENGAGE_METRICS_PORT", ""),

		MockServerPort:   getEnv("MOCK_SERVER_PORT", "8090"),
		MockTokenSecret:  getEnv("MOCK_TOKEN_SECRET", "engage-mock-secret"),
		MockManifestPath: getEnv("MOCK_MANIFEST_PATH", ""),
		MockManifestTTL:  getEnvAsDuration("MOCK_MANIFEST_TTL", time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
