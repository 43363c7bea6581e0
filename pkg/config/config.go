package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	RateLimit    RateLimitConfig
	Orders       OrdersConfig
	Razorpay     RazorpayConfig
	Intents      IntentsConfig
	Shipping     ShippingConfig
	Shiprocket   ShiprocketConfig
	Delhivery    DelhiveryConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express.
func (c *Config) Validate() error {
	var errs error
	if c.Orders.NumberAttempts <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%s must be positive", EnvOrderNumberAttempts))
	}
	switch strings.ToLower(strings.TrimSpace(c.Shipping.DefaultProvider)) {
	case ShippingProviderShiprocket, ShippingProviderDelhivery:
	default:
		errs = multierr.Append(errs, fmt.Errorf("%s must be %q or %q", EnvShippingDefaultProvider, ShippingProviderShiprocket, ShippingProviderDelhivery))
	}
	switch c.Outbox.Sink() {
	case EventsSinkPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s is required for the pubsub sink", EnvGCPProjectID))
		}
	case EventsSinkKafka:
		if len(c.Kafka.BrokerList()) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s is required for the kafka sink", EnvKafkaBrokers))
		}
	case EventsSinkNone:
	default:
		errs = multierr.Append(errs, fmt.Errorf("unsupported %s %q", EnvEventsSink, c.Outbox.SinkName))
	}
	if c.Razorpay.KeyID != "" && c.Razorpay.KeySecret == "" {
		errs = multierr.Append(errs, errors.New("razorpay key secret is required when a key id is set"))
	}
	return errs
}

type AppConfig struct {
	Env          string `envconfig:"PHARMAFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"PHARMAFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PHARMAFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PHARMAFLOW_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins string `envconfig:"PHARMAFLOW_CORS_ORIGINS" default:"http://localhost:3000"`
}

// AllowedOrigins splits CORSOrigins and drops blanks.
func (a AppConfig) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(a.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PHARMAFLOW_SERVICE_KIND" default:"api"`
	// MetricsAddr is where workers expose /metrics. The API serves it on its
	// own router instead.
	MetricsAddr string `envconfig:"PHARMAFLOW_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"PHARMAFLOW_DB_DSN"`
	Driver string `envconfig:"PHARMAFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PHARMAFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"PHARMAFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PHARMAFLOW_DB_USER"`
	LegacyPassword string `envconfig:"PHARMAFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"PHARMAFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"PHARMAFLOW_DB_SSLMODE" default:"disable"`

	// Transactions selects the atomic unit of work. Standalone deployments
	// without multi-statement transactions run the sequential fallback.
	Transactions bool `envconfig:"PHARMAFLOW_DB_TRANSACTIONS" default:"true"`

	MaxOpenConns    int           `envconfig:"PHARMAFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHARMAFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHARMAFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHARMAFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PHARMAFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PHARMAFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"PHARMAFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHARMAFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHARMAFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHARMAFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHARMAFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHARMAFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHARMAFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PHARMAFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PHARMAFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PHARMAFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PHARMAFLOW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PHARMAFLOW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	HTTPIdempotencyTTL time.Duration `envconfig:"PHARMAFLOW_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type RateLimitConfig struct {
	Window       time.Duration `envconfig:"PHARMAFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	UserLimit    int           `envconfig:"PHARMAFLOW_RATE_LIMIT_USER" default:"120"`
	IPLimit      int           `envconfig:"PHARMAFLOW_RATE_LIMIT_IP" default:"300"`
	WebhookLimit int           `envconfig:"PHARMAFLOW_RATE_LIMIT_WEBHOOK_IP" default:"600"`
}

type OrdersConfig struct {
	NumberPrefix   string `envconfig:"PHARMAFLOW_ORDER_NUMBER_PREFIX" default:"ORD"`
	NumberAttempts int    `envconfig:"PHARMAFLOW_ORDER_NUMBER_ATTEMPTS" default:"5"`
}

type RazorpayConfig struct {
	KeyID         string        `envconfig:"PHARMAFLOW_RAZORPAY_KEY_ID"`
	KeySecret     string        `envconfig:"PHARMAFLOW_RAZORPAY_KEY_SECRET"`
	WebhookSecret string        `envconfig:"PHARMAFLOW_RAZORPAY_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"PHARMAFLOW_RAZORPAY_BASE_URL" default:"https://api.razorpay.com"`
	Currency      string        `envconfig:"PHARMAFLOW_RAZORPAY_CURRENCY" default:"INR"`
	Timeout       time.Duration `envconfig:"PHARMAFLOW_RAZORPAY_TIMEOUT" default:"10s"`
}

type IntentsConfig struct {
	WebhookToken string `envconfig:"PHARMAFLOW_INTENT_WEBHOOK_TOKEN"`
}

type ShippingConfig struct {
	DefaultProvider string        `envconfig:"PHARMAFLOW_SHIPPING_DEFAULT_PROVIDER" default:"shiprocket"`
	Timeout         time.Duration `envconfig:"PHARMAFLOW_SHIPPING_TIMEOUT" default:"10s"`
}

type ShiprocketConfig struct {
	Email          string `envconfig:"PHARMAFLOW_SHIPROCKET_EMAIL"`
	Password       string `envconfig:"PHARMAFLOW_SHIPROCKET_PASSWORD"`
	BaseURL        string `envconfig:"PHARMAFLOW_SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in"`
	PickupLocation string `envconfig:"PHARMAFLOW_SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	WebhookToken   string `envconfig:"PHARMAFLOW_SHIPROCKET_WEBHOOK_TOKEN"`
}

type DelhiveryConfig struct {
	APIToken       string `envconfig:"PHARMAFLOW_DELHIVERY_API_TOKEN"`
	BaseURL        string `envconfig:"PHARMAFLOW_DELHIVERY_BASE_URL" default:"https://track.delhivery.com"`
	PickupLocation string `envconfig:"PHARMAFLOW_DELHIVERY_PICKUP_LOCATION" default:"Primary"`
	WebhookToken   string `envconfig:"PHARMAFLOW_DELHIVERY_WEBHOOK_TOKEN"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PHARMAFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PHARMAFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PHARMAFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"PHARMAFLOW_PUBSUB_DOMAIN_TOPIC" default:"pharmaflow-domain-events"`
}

type KafkaConfig struct {
	Brokers string `envconfig:"PHARMAFLOW_KAFKA_BROKERS"`
	Topic   string `envconfig:"PHARMAFLOW_KAFKA_TOPIC" default:"pharmaflow.domain-events"`
}

// BrokerList splits the comma separated broker list.
func (k KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, part := range strings.Split(k.Brokers, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

type OutboxConfig struct {
	SinkName       string `envconfig:"PHARMAFLOW_EVENTS_SINK" default:"pubsub"`
	BatchSize      int    `envconfig:"PHARMAFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"PHARMAFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"PHARMAFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// MaintenanceConfig drives the cron worker's housekeeping jobs.
type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"PHARMAFLOW_MAINTENANCE_INTERVAL" default:"1h"`
	OutboxRetentionDays int           `envconfig:"PHARMAFLOW_OUTBOX_RETENTION_DAYS" default:"30"`
	IntentTTL           time.Duration `envconfig:"PHARMAFLOW_PAYMENT_INTENT_TTL" default:"30m"`
}

// Sink returns the normalized outbox sink name.
func (o OutboxConfig) Sink() string {
	sink := strings.TrimSpace(strings.ToLower(o.SinkName))
	if sink == "" {
		return EventsSinkPubSub
	}
	return sink
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.Driver = DBDriverSQLite
		db.DSN = defaultSQLiteDSN
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
