package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	Algorithm  string // Optional: JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	PepperFile string // Optional: path to file containing pepper for secret hashing

	DatabaseDriver string // Database driver (sqlite, postgres) (default: sqlite)
	DatabaseFile   string // Path to SQLite database file (default: ./auth.db)
	DatabaseURL    string // Postgres connection string (required for postgres driver)

	CacheDriver   string // Replay/nonce cache driver (memory, redis) (default: memory)
	RedisAddr     string // Redis address (required for redis driver)
	RedisPassword string // Optional: redis password
	RedisDB       int    // Optional: redis database number

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	Port      int    // HTTP server port (default: 8080)

	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired grant sweep interval (default: 1h)
	HousekeepingGrace    time.Duration // How long expired grants linger for replay detection (default: 24h)

	AccessTokenTTL  time.Duration // Default access token lifetime (default: 5m)
	AssertionMaxAge time.Duration // Max age of client assertion iat, 0 disables (default: 5m)
	ClockSkew       time.Duration // Leeway on time claims (default: 30s)

	DPoPProofLifetime time.Duration // How far in the past a DPoP proof iat may lie (default: 1m)
	DPoPRequireNonce  bool          // Force server issued nonces on DPoP proofs (default: false)
	DPoPNonceTTL      time.Duration // Validity of issued DPoP nonces (default: 5m)

	DeviceVerificationURI string        // User facing URI for device flow codes
	DevicePollInterval    time.Duration // Minimum time between device polls (default: 5s)
	DeviceCodeTTL         time.Duration // Default device code lifetime (default: 10m)

	PARRequestTTL time.Duration // Pushed authorization request lifetime (default: 60s)

	// SeedClientID/SeedClientSecret register a confidential client at
	// startup when set. Intended for dev and e2e environments; leave
	// unset in production.
	SeedClientID     string
	SeedClientSecret string
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:     os.Getenv("AUTH_ISSUER"),
		Algorithm:  getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		PepperFile: os.Getenv("AUTH_PEPPER_FILE"),

		DatabaseDriver: getEnvOrDefault("AUTH_DATABASE_DRIVER", "sqlite"),
		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		DatabaseURL:    os.Getenv("AUTH_DATABASE_URL"),

		CacheDriver:   getEnvOrDefault("AUTH_CACHE_DRIVER", "memory"),
		RedisAddr:     os.Getenv("AUTH_REDIS_ADDR"),
		RedisPassword: os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("AUTH_REDIS_DB", 0),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		Port:      getEnvIntOrDefault("PORT", 8080),

		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		HousekeepingGrace:    getEnvDurationOrDefault("HOUSEKEEPING_GRACE", 24*time.Hour),

		AccessTokenTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 5*time.Minute),
		AssertionMaxAge: getEnvDurationOrDefault("AUTH_ASSERTION_MAX_AGE", 5*time.Minute),
		ClockSkew:       getEnvDurationOrDefault("AUTH_CLOCK_SKEW", 30*time.Second),

		DPoPProofLifetime: getEnvDurationOrDefault("AUTH_DPOP_PROOF_LIFETIME", time.Minute),
		DPoPRequireNonce:  getEnvBool("AUTH_DPOP_REQUIRE_NONCE"),
		DPoPNonceTTL:      getEnvDurationOrDefault("AUTH_DPOP_NONCE_TTL", 5*time.Minute),

		DeviceVerificationURI: os.Getenv("AUTH_DEVICE_VERIFICATION_URI"),
		DevicePollInterval:    getEnvDurationOrDefault("AUTH_DEVICE_POLL_INTERVAL", 5*time.Second),
		DeviceCodeTTL:         getEnvDurationOrDefault("AUTH_DEVICE_CODE_TTL", 10*time.Minute),

		PARRequestTTL: getEnvDurationOrDefault("AUTH_PAR_REQUEST_TTL", 60*time.Second),

		SeedClientID:     os.Getenv("AUTH_SEED_CLIENT_ID"),
		SeedClientSecret: os.Getenv("AUTH_SEED_CLIENT_SECRET"),
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "keygate"
	}
	if cfg.DeviceVerificationURI == "" {
		cfg.DeviceVerificationURI = cfg.Issuer + "/device"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBool(key string) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && value
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
