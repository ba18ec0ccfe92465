package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Environment is the deployment environment (development, production, etc.).
	// Defaults to "development" if SYNC_ENV is not set.
	Environment string
	// EncryptionKeyBase64 is the base64-encoded encryption key used for encrypting/decrypting
	// account credentials. Must be 32 bytes when decoded (44 characters in base64).
	EncryptionKeyBase64 string
	// SyncHost is this process's FQDN, used for the account host-affinity lock.
	// Defaults to the OS hostname if SYNC_HOST is not set.
	SyncHost string
	// DBHost is the PostgreSQL database hostname. Defaults to "localhost".
	DBHost string
	// DBPort is the PostgreSQL database port. Defaults to "5432".
	DBPort string
	// DBUsername is the PostgreSQL database username. Defaults to "syncengine".
	DBUsername string
	// DBPassword is the PostgreSQL database password. Required, no default.
	DBPassword string
	// DBName is the PostgreSQL database name. Defaults to "syncengine".
	DBName string
	// DBSSLMode is the PostgreSQL SSL mode (disable, require, verify-full, etc.). Defaults to "disable".
	DBSSLMode string
	// RPCPort is the control-plane RPC server port. Defaults to "11765".
	RPCPort string
	// BlobStorePath is the bbolt database file backing the content-addressed blob store.
	BlobStorePath string
	// MetaCachePath is the file backing the remote-metadata key-value cache.
	MetaCachePath string
	// PollFrequency is how long a FolderSyncWorker sleeps between poll cycles.
	PollFrequency time.Duration
	// SupervisorHeartbeat is how often an AccountSyncSupervisor checks worker state transitions.
	SupervisorHeartbeat time.Duration
	// SearchServerLoc is the address of the external search-index notifier.
	// Empty disables the notifier (Open Question (c) in SPEC_FULL.md).
	SearchServerLoc string
}

// NewConfig loads and returns a new Config instance from environment variables.
func NewConfig() (*Config, error) {
	env := os.Getenv("SYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: .env file not found, using environment variables")
		}
	}

	hostname, _ := os.Hostname()

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("SYNC_ENCRYPTION_KEY_BASE64"),
		SyncHost:            getEnvOrDefault("SYNC_HOST", hostname),
		DBHost:              getEnvOrDefault("SYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("SYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("SYNC_DB_USER", "syncengine"),
		DBPassword:          os.Getenv("SYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("SYNC_DB_NAME", "syncengine"),
		DBSSLMode:           getEnvOrDefault("SYNC_DB_SSLMODE", "disable"),
		RPCPort:             getEnvOrDefault("SYNC_RPC_PORT", "11765"),
		BlobStorePath:       getEnvOrDefault("SYNC_BLOBSTORE_PATH", "./data/blobs.db"),
		MetaCachePath:       getEnvOrDefault("SYNC_METACACHE_PATH", "./data/metacache.db"),
		SearchServerLoc:     os.Getenv("SEARCH_SERVER_LOC"),
	}

	pollSeconds, err := strconv.Atoi(getEnvOrDefault("SYNC_POLL_FREQUENCY_SECONDS", "30"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_POLL_FREQUENCY_SECONDS is not a valid integer: %w", err)
	}
	config.PollFrequency = time.Duration(pollSeconds) * time.Second

	heartbeatMs, err := strconv.Atoi(getEnvOrDefault("SYNC_SUPERVISOR_HEARTBEAT_MS", "1000"))
	if err != nil {
		return nil, fmt.Errorf("SYNC_SUPERVISOR_HEARTBEAT_MS is not a valid integer: %w", err)
	}
	config.SupervisorHeartbeat = time.Duration(heartbeatMs) * time.Millisecond

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that all required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("SYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	// Validate EncryptionKeyBase64 format: must be valid base64 and decode to 32 bytes
	decoded, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("SYNC_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("SYNC_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d bytes", len(decoded))
	}

	if c.SyncHost == "" {
		return fmt.Errorf("SYNC_HOST is required and could not be inferred from the OS hostname")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("SYNC_DB_PASSWORD is required")
	}

	// Validate DBPort format: must be a valid port number (1-65535)
	if err := validatePort(c.DBPort); err != nil {
		return fmt.Errorf("SYNC_DB_PORT is not a valid port number: %w", err)
	}

	// Validate RPCPort format: must be a valid port number (1-65535)
	if err := validatePort(c.RPCPort); err != nil {
		return fmt.Errorf("SYNC_RPC_PORT is not a valid port number: %w", err)
	}

	if c.SearchServerLoc != "" {
		parsedURL, err := url.Parse(c.SearchServerLoc)
		if err != nil {
			return fmt.Errorf("SEARCH_SERVER_LOC is not a valid URL: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("SEARCH_SERVER_LOC must use http:// or https:// scheme, got: %s", parsedURL.Scheme)
		}
	}

	return nil
}

// validatePort checks if a string represents a valid port number (1-65535).
func validatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port must be a number: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// GetDatabaseURL returns a PostgreSQL connection string built from the configuration.
// The password and username are properly URL-encoded to handle special characters.
func (c *Config) GetDatabaseURL() string {
	// URL-encode username and password to handle special characters
	encodedUsername := url.QueryEscape(c.DBUsername)
	encodedPassword := url.QueryEscape(c.DBPassword)

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		encodedUsername,
		encodedPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// getEnvOrDefault retrieves an environment variable, returning the default value if not set or empty.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
