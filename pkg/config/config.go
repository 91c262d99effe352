package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	FeatureFlags  FeatureFlagsConfig
	Storage       StorageConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Ingest        IngestConfig
	Match         MatchConfig
	Cron          CronConfig
	CORS          CORSConfig
	AuthRateLimit AuthRateLimitConfig
	UploadLimit   UploadRateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverLocal, StorageDriverGCS:
	default:
		return fmt.Errorf("%s must be one of %q or %q", EnvStorageDriver, StorageDriverLocal, StorageDriverGCS)
	}
	if c.Storage.Driver == StorageDriverGCS && strings.TrimSpace(c.Storage.GCSBucket) == "" {
		return fmt.Errorf("%s is required when %s=%s", EnvStorageGCSBucket, EnvStorageDriver, StorageDriverGCS)
	}
	switch c.Ingest.Dispatch {
	case DispatchLocal:
	case DispatchPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvIngestDispatch, DispatchPubSub)
		}
	default:
		return fmt.Errorf("%s must be one of %q or %q", EnvIngestDispatch, DispatchLocal, DispatchPubSub)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"LEDGERMATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"LEDGERMATCH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LEDGERMATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEDGERMATCH_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEDGERMATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGERMATCH_DB_DSN"`
	Driver string `envconfig:"LEDGERMATCH_DB_DRIVER" default:"postgres"`

	// SQLitePath is used only when the sqlite feature flag is on.
	SQLitePath string `envconfig:"LEDGERMATCH_SQLITE_PATH" default:"ledgermatch.db"`

	Host     string `envconfig:"LEDGERMATCH_DB_HOST"`
	Port     int    `envconfig:"LEDGERMATCH_DB_PORT" default:"5432"`
	User     string `envconfig:"LEDGERMATCH_DB_USER"`
	Password string `envconfig:"LEDGERMATCH_DB_PASSWORD"`
	Name     string `envconfig:"LEDGERMATCH_DB_NAME"`
	SSLMode  string `envconfig:"LEDGERMATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGERMATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGERMATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGERMATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGERMATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGERMATCH_REDIS_URL"`
	Address      string        `envconfig:"LEDGERMATCH_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGERMATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGERMATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGERMATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGERMATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGERMATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGERMATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGERMATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret                 string `envconfig:"LEDGERMATCH_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"LEDGERMATCH_JWT_ISSUER" default:"ledgermatch"`
	ExpirationMinutes      int    `envconfig:"LEDGERMATCH_JWT_EXPIRATION_MINUTES" default:"60"`
	RefreshTokenTTLMinutes int    `envconfig:"LEDGERMATCH_REFRESH_TOKEN_TTL_MINUTES" default:"4320"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"LEDGERMATCH_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"LEDGERMATCH_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"LEDGERMATCH_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"LEDGERMATCH_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"LEDGERMATCH_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LEDGERMATCH_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LEDGERMATCH_AUTO_MIGRATE" default:"false"`
}

type StorageConfig struct {
	Driver    string `envconfig:"LEDGERMATCH_STORAGE_DRIVER" default:"local"`
	LocalDir  string `envconfig:"LEDGERMATCH_STORAGE_LOCAL_DIR" default:"uploads"`
	GCSBucket string `envconfig:"LEDGERMATCH_STORAGE_GCS_BUCKET"`
	GCSPrefix string `envconfig:"LEDGERMATCH_STORAGE_GCS_PREFIX" default:"uploads"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"LEDGERMATCH_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"LEDGERMATCH_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	IngestTopic        string `envconfig:"LEDGERMATCH_PUBSUB_INGEST_TOPIC" default:"lm-ingest-requests"`
	IngestSubscription string `envconfig:"LEDGERMATCH_PUBSUB_INGEST_SUBSCRIPTION" default:"lm-ingest-worker"`
	// DedupeTTL bounds how long a delivered ingest request is remembered.
	DedupeTTL time.Duration `envconfig:"LEDGERMATCH_PUBSUB_DEDUPE_TTL" default:"72h"`
}

type IngestConfig struct {
	Dispatch       string        `envconfig:"LEDGERMATCH_INGEST_DISPATCH" default:"local"`
	Workers        int64         `envconfig:"LEDGERMATCH_INGEST_WORKERS" default:"4"`
	MaxUploadMB    int           `envconfig:"LEDGERMATCH_MAX_UPLOAD_MB" default:"25"`
	PreviewRows    int           `envconfig:"LEDGERMATCH_INGEST_PREVIEW_ROWS" default:"20"`
	StaleAfter     time.Duration `envconfig:"LEDGERMATCH_INGEST_STALE_AFTER" default:"30m"`
	MappingLockTTL time.Duration `envconfig:"LEDGERMATCH_INGEST_MAPPING_LOCK_TTL" default:"30s"`
}

// MaxUploadBytes converts the configured upload ceiling into bytes.
func (i IngestConfig) MaxUploadBytes() int64 {
	if i.MaxUploadMB <= 0 {
		return 0
	}
	return int64(i.MaxUploadMB) << 20
}

type MatchConfig struct {
	DuplicateEnabled bool   `envconfig:"LEDGERMATCH_MATCH_DUPLICATE_ENABLED" default:"true"`
	DuplicateScope   string `envconfig:"LEDGERMATCH_MATCH_DUPLICATE_SCOPE" default:"job"`
	ExactEnabled     bool   `envconfig:"LEDGERMATCH_MATCH_EXACT_ENABLED" default:"true"`
	PartialEnabled   bool   `envconfig:"LEDGERMATCH_MATCH_PARTIAL_ENABLED" default:"true"`
	PartialTolerance string `envconfig:"LEDGERMATCH_MATCH_PARTIAL_TOLERANCE" default:"0.02"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"LEDGERMATCH_CRON_INTERVAL" default:"10m"`
	RecomputeEnabled bool          `envconfig:"LEDGERMATCH_CRON_RECOMPUTE_ENABLED" default:"false"`
	// RunOnce names jobs to run a single time before exiting; "all" selects every job.
	RunOnce []string `envconfig:"LEDGERMATCH_CRON_RUN_ONCE"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"LEDGERMATCH_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// AuthRateLimitConfig bounds attempts per client IP and per email on the login and
// register endpoints. A zero limit disables that counter.
type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"LEDGERMATCH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit       int           `envconfig:"LEDGERMATCH_RATE_LIMIT_LOGIN_IP" default:"20"`
	LoginEmailLimit    int           `envconfig:"LEDGERMATCH_RATE_LIMIT_LOGIN_EMAIL" default:"10"`
	RegisterWindow     time.Duration `envconfig:"LEDGERMATCH_RATE_LIMIT_REGISTER_WINDOW" default:"1h"`
	RegisterIPLimit    int           `envconfig:"LEDGERMATCH_RATE_LIMIT_REGISTER_IP" default:"10"`
	RegisterEmailLimit int           `envconfig:"LEDGERMATCH_RATE_LIMIT_REGISTER_EMAIL" default:"3"`
}

// UploadRateLimitConfig bounds bank file submissions per client IP and per uploader.
type UploadRateLimitConfig struct {
	Window    time.Duration `envconfig:"LEDGERMATCH_RATE_LIMIT_UPLOAD_WINDOW" default:"1m"`
	IPLimit   int           `envconfig:"LEDGERMATCH_RATE_LIMIT_UPLOAD_IP" default:"30"`
	UserLimit int           `envconfig:"LEDGERMATCH_RATE_LIMIT_UPLOAD_USER" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
