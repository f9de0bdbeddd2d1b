package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Storage   StorageConfig
	Ingestion IngestionConfig
	Server    ServerConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type        string // "mongodb", "dynamodb", "postgresql"
	MongoDBURI  string
	MongoDBName string
	Region      string // For AWS DynamoDB
	TableName   string
	Endpoint    string // Custom endpoint for local testing
	PostgresURI string
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	UnsplashAccessKey string
	PexelsAPIKey      string
	Interval          time.Duration
	CategoryDelay     time.Duration
	ProviderTimeout   time.Duration
	PerPage           int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "mongodb"),
			MongoDBURI:  getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDBName: getEnv("MONGODB_DATABASE", "wallpapers"),
			Region:      getEnv("AWS_REGION", "us-west-2"),
			TableName:   getEnv("TABLE_NAME", "wallpapers"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			PostgresURI: getEnv("POSTGRES_URI", ""),
		},
		Ingestion: IngestionConfig{
			UnsplashAccessKey: getEnv("UNSPLASH_ACCESS_KEY", ""),
			PexelsAPIKey:      getEnv("PEXELS_API_KEY", ""),
			Interval:          getEnvDuration("FETCH_INTERVAL", 2*time.Hour),
			CategoryDelay:     getEnvDuration("CATEGORY_DELAY", 2*time.Second),
			ProviderTimeout:   getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
			PerPage:           getEnvInt("FETCH_PER_PAGE", 30),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
