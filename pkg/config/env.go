package config

import "os"

// envconfig prefix; every field carries its full variable name in the struct tag.
const EnvPrefix = "LIBRARY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultSQLiteDSN = "file:library.db?_foreign_keys=on&_busy_timeout=5000"
)

const (
	EnvAppEnv    = "LIBRARY_APP_ENV"
	EnvPort      = "LIBRARY_APP_PORT"
	EnvLogFormat = "LIBRARY_LOG_FORMAT"

	EnvDBDSN  = "LIBRARY_DB_DSN"
	EnvDBHost = "LIBRARY_DB_HOST"
	EnvDBUser = "LIBRARY_DB_USER"
	EnvDBName = "LIBRARY_DB_NAME"

	EnvRedisURL = "LIBRARY_REDIS_URL"

	EnvJWTSecret              = "LIBRARY_JWT_SECRET"
	EnvJWTIssuer              = "LIBRARY_JWT_ISSUER"
	EnvJWTExpMins             = "LIBRARY_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "LIBRARY_REFRESH_TOKEN_TTL_MINUTES"

	EnvUseSQLite = "LIBRARY_USE_SQLITE"

	EnvLoansMaxActive         = "LIBRARY_LOANS_MAX_ACTIVE"
	EnvLoansDuration          = "LIBRARY_LOANS_DURATION"
	EnvLoansCreateMaxAttempts = "LIBRARY_LOANS_CREATE_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// LookupEnv returns the variable's value, or fallback when it is unset or empty.
// It serves the few settings needed before Load, such as the bootstrap log format.
func LookupEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
