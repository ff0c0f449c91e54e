// Package config loads settings from an optional .env file and the process
// environment through viper.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Lock      LockConfig
	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	Schedule  ScheduleConfig
	JWT       JWTConfig
}

type ServerConfig struct {
	Port           string
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type StoreConfig struct {
	Driver      string
	BoltPath    string
	BoltTimeout time.Duration
}

type LockConfig struct {
	Driver string
	TTL    time.Duration
}

type LedgerConfig struct {
	MaxRetries       int
	RetryBackoff     time.Duration
	OperationTimeout time.Duration
	LockTimeout      time.Duration
}

type ReconcileConfig struct {
	Tolerance      decimal.Decimal
	MaxAttempts    int
	PublishReports bool
}

type ScheduleConfig struct {
	CurrencyPlaces int32
}

type JWTConfig struct {
	SecretKey string
}

var envBindings = map[string]string{
	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.user":     "DATABASE_USER",
	"database.password": "DATABASE_PASSWORD",
	"database.name":     "DATABASE_NAME",
	"database.ssl_mode": "DATABASE_SSL_MODE",

	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"server.port":            "PORT",
	"server.request_timeout": "SERVER_REQUEST_TIMEOUT",
	"server.allowed_origins": "SERVER_ALLOWED_ORIGINS",

	"store.driver":       "STORE_DRIVER",
	"store.bolt_path":    "STORE_BOLT_PATH",
	"store.bolt_timeout": "STORE_BOLT_TIMEOUT",

	"lock.driver": "LOCK_DRIVER",
	"lock.ttl":    "LOCK_TTL",

	"ledger.max_retries":       "LEDGER_MAX_RETRIES",
	"ledger.retry_backoff":     "LEDGER_RETRY_BACKOFF",
	"ledger.operation_timeout": "LEDGER_OPERATION_TIMEOUT",
	"ledger.lock_timeout":      "LEDGER_LOCK_TIMEOUT",

	"reconcile.tolerance":       "RECONCILE_TOLERANCE",
	"reconcile.max_attempts":    "RECONCILE_MAX_ATTEMPTS",
	"reconcile.publish_reports": "RECONCILE_PUBLISH_REPORTS",

	"schedule.currency_places": "SCHEDULE_CURRENCY_PLACES",

	"jwt.secret_key": "JWT_SECRET_KEY",
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.request_timeout", 60*time.Second)
	viper.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	viper.SetDefault("store.driver", StorePostgres)
	viper.SetDefault("store.bolt_path", "fintrack.db")
	viper.SetDefault("store.bolt_timeout", time.Second)

	viper.SetDefault("lock.driver", LockLocal)
	viper.SetDefault("lock.ttl", 30*time.Second)

	viper.SetDefault("ledger.max_retries", 5)
	viper.SetDefault("ledger.retry_backoff", 5*time.Millisecond)
	viper.SetDefault("ledger.operation_timeout", 10*time.Second)
	viper.SetDefault("ledger.lock_timeout", 5*time.Second)

	viper.SetDefault("reconcile.tolerance", "")
	viper.SetDefault("reconcile.max_attempts", 3)
	viper.SetDefault("reconcile.publish_reports", false)

	viper.SetDefault("schedule.currency_places", 2)
}

// DefaultTolerance is 0.01 of the minor currency unit: 0.0001 for a currency
// with two decimal places.
func DefaultTolerance(places int32) decimal.Decimal {
	return decimal.New(1, -(places + 2))
}

// Load reads configFile (usually ".env") if it exists, lets the environment
// override it and returns the validated settings. A missing file is not an
// error.
func Load(configFile string) (*Config, error) {
	viper.SetConfigFile(configFile)
	viper.AutomaticEnv()
	for key, env := range envBindings {
		viper.BindEnv(key, env)
	}
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// .env files use the environment variable names; map them onto the dotted keys.
	for key, env := range envBindings {
		if fileKey := strings.ToLower(env); viper.InConfig(fileKey) {
			viper.SetDefault(key, viper.Get(fileKey))
		}
	}

	places := viper.GetInt32("schedule.currency_places")
	tolerance := DefaultTolerance(places)
	if raw := viper.GetString("reconcile.tolerance"); raw != "" {
		var err error
		if tolerance, err = decimal.NewFromString(raw); err != nil {
			return nil, fmt.Errorf("invalid reconcile.tolerance: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           viper.GetString("server.port"),
			RequestTimeout: viper.GetDuration("server.request_timeout"),
			AllowedOrigins: viper.GetStringSlice("server.allowed_origins"),
		},
		Store: StoreConfig{
			Driver:      viper.GetString("store.driver"),
			BoltPath:    viper.GetString("store.bolt_path"),
			BoltTimeout: viper.GetDuration("store.bolt_timeout"),
		},
		Lock: LockConfig{
			Driver: viper.GetString("lock.driver"),
			TTL:    viper.GetDuration("lock.ttl"),
		},
		Ledger: LedgerConfig{
			MaxRetries:       viper.GetInt("ledger.max_retries"),
			RetryBackoff:     viper.GetDuration("ledger.retry_backoff"),
			OperationTimeout: viper.GetDuration("ledger.operation_timeout"),
			LockTimeout:      viper.GetDuration("ledger.lock_timeout"),
		},
		Reconcile: ReconcileConfig{
			Tolerance:      tolerance,
			MaxAttempts:    viper.GetInt("reconcile.max_attempts"),
			PublishReports: viper.GetBool("reconcile.publish_reports"),
		},
		Schedule: ScheduleConfig{
			CurrencyPlaces: places,
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreBolt, StorePostgres:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Lock.Driver {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("unknown lock.driver %q", c.Lock.Driver)
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must not be negative")
	}
	if c.Ledger.OperationTimeout <= 0 {
		return fmt.Errorf("ledger.operation_timeout must be positive")
	}
	if c.Reconcile.Tolerance.IsNegative() {
		return fmt.Errorf("reconcile.tolerance must not be negative")
	}
	if c.Schedule.CurrencyPlaces < 0 {
		return fmt.Errorf("schedule.currency_places must not be negative")
	}
	return nil
}
