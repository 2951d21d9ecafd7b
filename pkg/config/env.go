package config

const EnvPrefix = "SIGNUP_SYNC"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv          = "SIGNUP_SYNC_APP_ENV"
	EnvPort            = "PORT"
	EnvServiceToken    = "SIGNUP_SYNC_SERVICE_TOKEN"
	EnvDBDSN           = "ENGARDE_DATABASE_URL"
	EnvDBHost          = "SIGNUP_SYNC_DB_HOST"
	EnvDBUser          = "SIGNUP_SYNC_DB_USER"
	EnvDBName          = "SIGNUP_SYNC_DB_NAME"
	EnvDBPassword      = "SIGNUP_SYNC_DB_PASSWORD"
	EnvRedisURL        = "SIGNUP_SYNC_REDIS_URL"
	EnvCORSOrigins     = "CORS_ORIGINS"
	EnvSyncWindowDays  = "SIGNUP_SYNC_WINDOW_DAYS"
	EnvSyncTimeout     = "SIGNUP_SYNC_TIMEOUT"
	EnvSyncLockTTL     = "SIGNUP_SYNC_LOCK_TTL"
	EnvSyncDedupPolicy = "SIGNUP_SYNC_DEDUP_POLICY"
	EnvEAHost          = "EASYAPPOINTMENTS_MYSQL_HOST"
	EnvEAPassword      = "EASYAPPOINTMENTS_MYSQL_PASSWORD"
	EnvEATablePrefix   = "EASYAPPOINTMENTS_TABLE_PREFIX"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
