package config

import (
	"errors"
	"os"
	"strings"
)

type Config struct {
	Port            string
	DatabaseURL     string
	MerkleAPIURL    string
	MerkleAuthToken string
	OpenAIAPIKey    string
	LogLevel        string
	LogFormat       string
	Environment     string
}

func Load() *Config {
	return &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		DatabaseURL:     getEnvOrDefault("DATABASE_URL", "postgres://localhost/farcaster?sslmode=disable"),
		MerkleAPIURL:    getEnvOrDefault("MERKLE_API_URL", "https://api.warpcast.com"),
		MerkleAuthToken: os.Getenv("MERKLE_AUTH_TOKEN"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:       getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:     getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if c.MerkleAuthToken == "" {
		problems = append(problems, "MERKLE_AUTH_TOKEN is required")
	}

	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is required")
	}

	if c.MerkleAPIURL != "" && !strings.HasPrefix(c.MerkleAPIURL, "http") {
		problems = append(problems, "MERKLE_API_URL must be an http(s) URL")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
