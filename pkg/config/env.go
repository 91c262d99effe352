package config

// EnvPrefix is handed to envconfig; every field also declares its full variable name.
const EnvPrefix = "LEDGERMATCH"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	StorageDriverLocal = "local"
	StorageDriverGCS   = "gcs"

	DispatchLocal  = "local"
	DispatchPubSub = "pubsub"
)

const (
	EnvAppEnv           = "LEDGERMATCH_APP_ENV"
	EnvPort             = "LEDGERMATCH_APP_PORT"
	EnvDBDSN            = "LEDGERMATCH_DB_DSN"
	EnvDBHost           = "LEDGERMATCH_DB_HOST"
	EnvDBUser           = "LEDGERMATCH_DB_USER"
	EnvDBName           = "LEDGERMATCH_DB_NAME"
	EnvUseSQLite        = "LEDGERMATCH_USE_SQLITE"
	EnvRedisURL         = "LEDGERMATCH_REDIS_URL"
	EnvJWTSecret        = "LEDGERMATCH_JWT_SECRET"
	EnvJWTIssuer        = "LEDGERMATCH_JWT_ISSUER"
	EnvStorageDriver    = "LEDGERMATCH_STORAGE_DRIVER"
	EnvStorageGCSBucket = "LEDGERMATCH_STORAGE_GCS_BUCKET"
	EnvGCPProjectID     = "LEDGERMATCH_GCP_PROJECT_ID"
	EnvIngestDispatch   = "LEDGERMATCH_INGEST_DISPATCH"
	EnvMatchTolerance   = "LEDGERMATCH_MATCH_PARTIAL_TOLERANCE"
	EnvMatchDupScope    = "LEDGERMATCH_MATCH_DUPLICATE_SCOPE"
	EnvCORSOrigins      = "LEDGERMATCH_CORS_ALLOWED_ORIGINS"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
