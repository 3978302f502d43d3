package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"

	TriggerLocal    = "local"
	TriggerPGNotify = "pg_notify"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Provider  ProviderConfig
	Recovery  RecoveryConfig
	Trigger   TriggerConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval  time.Duration
	AutoStart bool
}

type ProviderConfig struct {
	URL           string
	Authorization string
	Sender        string
	Campaign      string
	Timeout       time.Duration
}

type RecoveryConfig struct {
	Concurrency int
}

type TriggerConfig struct {
	Source    string
	Workers   int
	QueueSize int
}

type AuthConfig struct {
	APIKey string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadAll reads the whole configuration from the environment and reports
// every problem it finds at once.
func LoadAll() (*Config, error) {
	var errs []error

	str := func(key string) string {
		v, err := requireEnv(key)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	num := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", DriverPostgres),
			URL:    str("DATABASE_URL"),
		},
		Provider: ProviderConfig{
			URL:           getEnv("PROVIDER_URL", "https://capi.inforu.co.il/api/v2/SMS/SendSms"),
			Authorization: str("PROVIDER_AUTH"),
			Sender:        getEnv("PROVIDER_SENDER", "FlightInfo"),
			Campaign:      getEnv("PROVIDER_CAMPAIGN", "Flight Update"),
			Timeout:       time.Duration(num("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:  time.Duration(num("SCHED_INTERVAL_SECONDS", 300)) * time.Second,
			AutoStart: flag("SCHED_AUTOSTART", false),
		},
		Recovery: RecoveryConfig{
			Concurrency: num("RECOVERY_CONCURRENCY", 1),
		},
		Trigger: TriggerConfig{
			Source:    getEnv("TRIGGER_SOURCE", TriggerLocal),
			Workers:   num("TRIGGER_WORKERS", 4),
			QueueSize: num("TRIGGER_QUEUE_SIZE", 256),
		},
		Auth: AuthConfig{
			APIKey: str("API_KEY"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "INFO"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, dbErr := getEnvInt("REDIS_DB", 0)
	ttl, ttlErr := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors([]error{dbErr, ttlErr})
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Recovery.Concurrency <= 0 || cfg.Recovery.Concurrency > 10 {
		errs = append(errs, errors.New("RECOVERY_CONCURRENCY must be between 1 and 10"))
	}
	if cfg.Trigger.Workers <= 0 {
		errs = append(errs, errors.New("TRIGGER_WORKERS must be > 0"))
	}
	if cfg.Trigger.QueueSize <= 0 {
		errs = append(errs, errors.New("TRIGGER_QUEUE_SIZE must be > 0"))
	}
	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, cfg.Database.Driver))
	}
	switch cfg.Trigger.Source {
	case TriggerLocal:
	case TriggerPGNotify:
		if cfg.Database.Driver != DriverPostgres {
			errs = append(errs, errors.New("TRIGGER_SOURCE=pg_notify requires DATABASE_DRIVER=pgx"))
		}
	default:
		errs = append(errs, fmt.Errorf("TRIGGER_SOURCE must be %q or %q, got %q", TriggerLocal, TriggerPGNotify, cfg.Trigger.Source))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
