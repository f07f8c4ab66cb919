package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	KeycloakURL   string // Identity provider base URL (default: http://localhost:8081)
	KeycloakRealm string // Identity provider realm (default: matric-dev)
	ClientID      string // OAuth2 client ID for the service account (default: matric-platform)
	ClientSecret  string // Required: OAuth2 client secret
	Scope         string // OAuth2 scope requested on the client credentials grant

	VaultURL     string // Secret store base URL (default: http://localhost:8200)
	VaultJWTPath string // JWT auth mount path on the store (default: auth/jwt/login)
	VaultRole    string // Role requested on the JWT login (default: matric-service)

	TenantID                string // Required: tenant this broker instance serves
	UserID                  string // Required: service identity recorded on audit events
	TenantClaim             string // Optional: JWT claim checked against TenantID
	DisableTenantClaimCheck bool   // Optional: skip the tenant claim check

	RefreshMargin  time.Duration // Refresh tokens this long before expiry (default: 60s)
	TokenCacheFile string        // Optional: path to the sealed token cache file
	MasterKeyPath  string        // Optional: path to master encryption key file (required with cache file)

	DatabaseFile         string        // Path to SQLite audit database file (default: ./broker.db)
	AuditRetention       time.Duration // How long audit events are kept (default: 30 days)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		KeycloakURL:   getEnvOrDefault("BROKER_KEYCLOAK_URL", "http://localhost:8081"),
		KeycloakRealm: getEnvOrDefault("BROKER_KEYCLOAK_REALM", "matric-dev"),
		ClientID:      getEnvOrDefault("BROKER_CLIENT_ID", "matric-platform"),
		ClientSecret:  os.Getenv("BROKER_CLIENT_SECRET"),
		Scope:         getEnvOrDefault("BROKER_SCOPE", "openid profile"),

		VaultURL:     getEnvOrDefault("BROKER_VAULT_URL", "http://localhost:8200"),
		VaultJWTPath: getEnvOrDefault("BROKER_VAULT_JWT_PATH", "auth/jwt/login"),
		VaultRole:    getEnvOrDefault("BROKER_VAULT_ROLE", "matric-service"),

		TenantID:                os.Getenv("BROKER_TENANT_ID"),
		UserID:                  os.Getenv("BROKER_USER_ID"),
		TenantClaim:             os.Getenv("BROKER_TENANT_CLAIM"),
		DisableTenantClaimCheck: getEnvBoolOrDefault("BROKER_DISABLE_TENANT_CLAIM_CHECK", false),

		RefreshMargin:  getEnvDurationOrDefault("BROKER_REFRESH_MARGIN", 60*time.Second),
		TokenCacheFile: os.Getenv("BROKER_TOKEN_CACHE_FILE"),
		MasterKeyPath:  os.Getenv("BROKER_MASTER_KEY_PATH"),

		DatabaseFile:         getEnvOrDefault("BROKER_DATABASE_FILE", "broker.db"),
		AuditRetention:       getEnvDurationOrDefault("BROKER_AUDIT_RETENTION", 30*24*time.Hour),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
