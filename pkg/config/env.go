package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "LIBRARY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "LIBRARY_APP_ENV"
	EnvPort     = "LIBRARY_APP_PORT"
	EnvLogLevel = "LIBRARY_LOG_LEVEL"

	EnvDBDSN    = "LIBRARY_DB_DSN"
	EnvDBDriver = "LIBRARY_DB_DRIVER"
	EnvDBHost   = "LIBRARY_DB_HOST"
	EnvDBUser   = "LIBRARY_DB_USER"
	EnvDBName   = "LIBRARY_DB_NAME"

	EnvRedisURL = "LIBRARY_REDIS_URL"

	EnvJWTSecret              = "LIBRARY_JWT_SECRET"
	EnvJWTIssuer              = "LIBRARY_JWT_ISSUER"
	EnvJWTExpMins             = "LIBRARY_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "LIBRARY_REFRESH_TOKEN_TTL_MINUTES"

	EnvGCSBucket         = "LIBRARY_GCS_BUCKET_NAME"
	EnvGCSUploadExpiry   = "LIBRARY_GCS_UPLOAD_URL_EXPIRY"
	EnvGCSDownloadExpiry = "LIBRARY_GCS_DOWNLOAD_URL_EXPIRY"

	EnvPubSubReservationTopic = "LIBRARY_PUBSUB_RESERVATION_EVENTS_TOPIC"

	EnvReservationHoldWindow    = "LIBRARY_RESERVATION_HOLD_WINDOW"
	EnvReservationMaxLoanDays   = "LIBRARY_RESERVATION_MAX_LOAN_DAYS"
	EnvReservationLateFeePerDay = "LIBRARY_RESERVATION_LATE_FEE_PER_DAY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
