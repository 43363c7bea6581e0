package config

const EnvPrefix = "PHARMAFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:pharmaflow.db?cache=shared&_fk=1"
)

const (
	ShippingProviderShiprocket = "shiprocket"
	ShippingProviderDelhivery  = "delhivery"
)

const (
	EventsSinkPubSub = "pubsub"
	EventsSinkKafka  = "kafka"
	EventsSinkNone   = "none"
)

const (
	EnvAppEnv                  = "PHARMAFLOW_APP_ENV"
	EnvPort                    = "PHARMAFLOW_APP_PORT"
	EnvDBDSN                   = "PHARMAFLOW_DB_DSN"
	EnvDBHost                  = "PHARMAFLOW_DB_HOST"
	EnvDBUser                  = "PHARMAFLOW_DB_USER"
	EnvDBName                  = "PHARMAFLOW_DB_NAME"
	EnvDBTransactions          = "PHARMAFLOW_DB_TRANSACTIONS"
	EnvRedisURL                = "PHARMAFLOW_REDIS_URL"
	EnvJWTSecret               = "PHARMAFLOW_JWT_SECRET"
	EnvJWTIssuer               = "PHARMAFLOW_JWT_ISSUER"
	EnvUseSQLite               = "PHARMAFLOW_USE_SQLITE"
	EnvOrderNumberAttempts     = "PHARMAFLOW_ORDER_NUMBER_ATTEMPTS"
	EnvRazorpayKeyID           = "PHARMAFLOW_RAZORPAY_KEY_ID"
	EnvRazorpayKeySecret       = "PHARMAFLOW_RAZORPAY_KEY_SECRET"
	EnvShippingDefaultProvider = "PHARMAFLOW_SHIPPING_DEFAULT_PROVIDER"
	EnvGCPProjectID            = "PHARMAFLOW_GCP_PROJECT_ID"
	EnvKafkaBrokers            = "PHARMAFLOW_KAFKA_BROKERS"
	EnvEventsSink              = "PHARMAFLOW_EVENTS_SINK"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
