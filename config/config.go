// Package config loads application settings from the environment and the
// JSON files describing providers and pricing.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"canvasflow/models"
)

// Config holds all application configuration
type Config struct {
	Environment string // "production" switches logging to JSON

	// File-backed configuration
	ProvidersPath string // providers.json, hot-reloaded when it changes
	PricingPath   string // pricing.json, hot-reloaded when it changes
	CostDBPath    string // sqlite file for incurred cost; empty keeps costs in memory

	// Provider health probing
	HealthCheckInterval    time.Duration
	HealthFailureThreshold int
	HealthCooldown         time.Duration

	// Engine tuning
	UpdateBufferSize int
	WatchDebounce    time.Duration

	MetricsEnabled bool
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		ProvidersPath: getEnv("PROVIDERS_PATH", "providers.json"),
		PricingPath:   getEnv("PRICING_PATH", "pricing.json"),
		CostDBPath:    getEnv("COST_DB_PATH", ""),

		HealthCheckInterval:    getDurationEnv("HEALTH_CHECK_INTERVAL", 5*time.Minute),
		HealthFailureThreshold: getIntEnv("HEALTH_FAILURE_THRESHOLD", 3),
		HealthCooldown:         getDurationEnv("HEALTH_COOLDOWN", time.Hour),

		UpdateBufferSize: getIntEnv("UPDATE_BUFFER_SIZE", 256),
		WatchDebounce:    getDurationEnv("WATCH_DEBOUNCE", 500*time.Millisecond),

		MetricsEnabled: getBoolEnv("METRICS_ENABLED", false),
	}
}

// LoadProviders loads provider configuration from a JSON file
func LoadProviders(filePath string) (*models.ProvidersFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var file models.ProvidersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	return &file, nil
}

// LoadPricing loads the price table from a JSON file
func LoadPricing(filePath string) (*models.PricingFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file models.PricingFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing JSON: %w", err)
	}

	return &file, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
