package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App              AppConfig
	Service          ServiceConfig
	DB               DBConfig
	Redis            RedisConfig
	Auth             AuthConfig
	CORS             CORSConfig
	FeatureFlags     FeatureFlagsConfig
	Sync             SyncConfig
	EasyAppointments EasyAppointmentsConfig
	Zoom             ZoomConfig
	Eventbrite       EventbriteConfig
	PoshVIP          PoshVIPConfig
	Scheduler        SchedulerConfig
	GCP              GCPConfig
	PubSub           PubSubConfig
	Outbox           OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SIGNUP_SYNC_APP_ENV" default:"dev"`
	Port         string `envconfig:"PORT" default:"8001"`
	LogLevel     string `envconfig:"SIGNUP_SYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SIGNUP_SYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SIGNUP_SYNC_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SIGNUP_SYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"ENGARDE_DATABASE_URL"`

	LegacyHost     string `envconfig:"SIGNUP_SYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"SIGNUP_SYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SIGNUP_SYNC_DB_USER"`
	LegacyPassword string `envconfig:"SIGNUP_SYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"SIGNUP_SYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"SIGNUP_SYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SIGNUP_SYNC_DB_MAX_OPEN_CONNS" default:"15"`
	MaxIdleConns    int           `envconfig:"SIGNUP_SYNC_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"SIGNUP_SYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SIGNUP_SYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements at warn once they take this long.
	SlowQueryThreshold time.Duration `envconfig:"SIGNUP_SYNC_DB_SLOW_QUERY" default:"500ms"`
}

// RedisConfig is optional; without it sync serialization stays in-process.
type RedisConfig struct {
	URL          string        `envconfig:"SIGNUP_SYNC_REDIS_URL"`
	Address      string        `envconfig:"SIGNUP_SYNC_REDIS_ADDR"`
	Password     string        `envconfig:"SIGNUP_SYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"SIGNUP_SYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SIGNUP_SYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SIGNUP_SYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SIGNUP_SYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SIGNUP_SYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SIGNUP_SYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type AuthConfig struct {
	ServiceToken string `envconfig:"SIGNUP_SYNC_SERVICE_TOKEN" required:"true"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SIGNUP_SYNC_AUTO_MIGRATE" default:"false"`
}

type SyncConfig struct {
	WindowDays  int           `envconfig:"SIGNUP_SYNC_WINDOW_DAYS" default:"7"`
	Timeout     time.Duration `envconfig:"SIGNUP_SYNC_TIMEOUT" default:"2m"`
	Concurrency int           `envconfig:"SIGNUP_SYNC_CONCURRENCY" default:"4"`
	DedupPolicy string        `envconfig:"SIGNUP_SYNC_DEDUP_POLICY" default:"external_id_first"`
	LockTTL     time.Duration `envconfig:"SIGNUP_SYNC_LOCK_TTL" default:"5m"`
}

// Window is the look-back used when a source has never synced or a sync is forced.
func (s SyncConfig) Window() time.Duration {
	if s.WindowDays <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

func (s SyncConfig) validate() error {
	switch s.DedupPolicy {
	case "", "external_id_first", "email_first":
	default:
		return fmt.Errorf("%s must be external_id_first or email_first, got %q", EnvSyncDedupPolicy, s.DedupPolicy)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvSyncTimeout)
	}
	// A lock that expires mid-run lets a second sync of the source start.
	if s.LockTTL < s.Timeout {
		return fmt.Errorf("%s (%s) must be at least %s (%s)", EnvSyncLockTTL, s.LockTTL, EnvSyncTimeout, s.Timeout)
	}
	return nil
}

type EasyAppointmentsConfig struct {
	DSN            string `envconfig:"EASYAPPOINTMENTS_MYSQL_DSN"`
	Host           string `envconfig:"EASYAPPOINTMENTS_MYSQL_HOST"`
	Port           int    `envconfig:"EASYAPPOINTMENTS_MYSQL_PORT" default:"3306"`
	User           string `envconfig:"EASYAPPOINTMENTS_MYSQL_USER" default:"root"`
	Password       string `envconfig:"EASYAPPOINTMENTS_MYSQL_PASSWORD"`
	Database       string `envconfig:"EASYAPPOINTMENTS_MYSQL_DATABASE" default:"railway"`
	TablePrefix    string `envconfig:"EASYAPPOINTMENTS_TABLE_PREFIX" default:"ea_"`
	CustomerRoleID int    `envconfig:"EASYAPPOINTMENTS_CUSTOMER_ROLE_ID" default:"4"`
}

// Configured reports whether enough connection settings exist to reach MySQL.
func (e EasyAppointmentsConfig) Configured() bool {
	return strings.TrimSpace(e.DSN) != "" || strings.TrimSpace(e.Host) != ""
}

// MySQLDSN returns the go-sql-driver DSN, building it from parts when needed.
func (e EasyAppointmentsConfig) MySQLDSN() string {
	if e.DSN != "" {
		return e.DSN
	}
	port := e.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", e.User, e.Password, e.Host, port, e.Database)
}

type ZoomConfig struct {
	AccountID    string `envconfig:"SIGNUP_SYNC_ZOOM_ACCOUNT_ID"`
	ClientID     string `envconfig:"SIGNUP_SYNC_ZOOM_CLIENT_ID"`
	ClientSecret string `envconfig:"SIGNUP_SYNC_ZOOM_CLIENT_SECRET"`
	APIBaseURL   string `envconfig:"SIGNUP_SYNC_ZOOM_API_BASE_URL" default:"https://api.zoom.us/v2"`
	OAuthURL     string `envconfig:"SIGNUP_SYNC_ZOOM_OAUTH_URL" default:"https://zoom.us/oauth/token"`
}

type EventbriteConfig struct {
	Token   string `envconfig:"SIGNUP_SYNC_EVENTBRITE_TOKEN"`
	BaseURL string `envconfig:"SIGNUP_SYNC_EVENTBRITE_BASE_URL" default:"https://www.eventbriteapi.com/v3"`
}

type PoshVIPConfig struct {
	APIKey  string `envconfig:"SIGNUP_SYNC_POSHVIP_API_KEY"`
	BaseURL string `envconfig:"SIGNUP_SYNC_POSHVIP_BASE_URL" default:"https://api.posh.vip"`
}

type SchedulerConfig struct {
	Spec       string `envconfig:"SIGNUP_SYNC_SCHEDULER_SPEC" default:"0 */15 * * * *"`
	RunOnStart bool   `envconfig:"SIGNUP_SYNC_SCHEDULER_RUN_ON_START" default:"false"`
	// RetentionSpec schedules pruning of published outbox rows.
	RetentionSpec string `envconfig:"SIGNUP_SYNC_SCHEDULER_RETENTION_SPEC" default:"0 30 3 * * *"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SIGNUP_SYNC_GCP_PROJECT_ID"`
	// Either inline service-account JSON or a key file path; ambient
	// credentials are used when both are empty.
	CredentialsJSON        string `envconfig:"SIGNUP_SYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SIGNUP_SYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	FunnelTopic string `envconfig:"SIGNUP_SYNC_PUBSUB_FUNNEL_TOPIC" default:"funnel-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SIGNUP_SYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SIGNUP_SYNC_OUTBOX_PUBLISH_POLL_MS" default:"1000"`
	MaxAttempts    int `envconfig:"SIGNUP_SYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SIGNUP_SYNC_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
