package infra

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type AppSection struct {
	Port       int    `yaml:"port"`
	AppVersion string `yaml:"app_version"`
}

type AuthDBConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"sslmode"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

type ConcurrencyConfig struct {
	MaxRequests   int `yaml:"max_requests"`
	PostgresMax   int `yaml:"postgresql_max"`
	MongoMax      int `yaml:"mongodb_max"`
	AcquireWaitMS int `yaml:"acquire_wait_ms"`
}

type PoolConfig struct {
	MinConns           int `yaml:"min_conns"`
	MaxConns           int `yaml:"max_conns"`
	ConnectTimeoutSecs int `yaml:"connect_timeout_secs"`
	ReapIntervalMins   int `yaml:"reap_interval_mins"`
	IdleThresholdMins  int `yaml:"idle_threshold_mins"`
}

type RetentionConfig struct {
	Days      int    `yaml:"days"`
	SweepTime string `yaml:"sweep_time"` // 每日固定時刻 HH:MM
}

type RedisSection struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs"`
}

type OtelSection struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type Config struct {
	App         AppSection        `yaml:"app"`
	AuthDB      AuthDBConfig      `yaml:"auth_db"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Pool        PoolConfig        `yaml:"pool"`
	Retention   RetentionConfig   `yaml:"retention"`
	Redis       RedisSection      `yaml:"redis"`
	Otel        OtelSection       `yaml:"otel"`
}

var AppConfig Config

// LoadConfig 讀取 config.yml 後套用環境變數覆蓋與預設值。
// 找不到 config.yml 不算錯誤，全部走環境變數與預設值。
func LoadConfig() error {
	f, err := os.Open("config.yml")
	if err == nil {
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&AppConfig); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	applyEnvOverrides()
	applyDefaults()
	return nil
}

func applyEnvOverrides() {
	overrideInt("PORT", &AppConfig.App.Port)
	overrideString("PG_HOST", &AppConfig.AuthDB.Host)
	overrideInt("PG_PORT", &AppConfig.AuthDB.Port)
	overrideString("PG_DATABASE", &AppConfig.AuthDB.Database)
	overrideString("PG_USER", &AppConfig.AuthDB.User)
	overrideString("PG_PASSWORD", &AppConfig.AuthDB.Password)
	overrideString("PG_SSLMODE", &AppConfig.AuthDB.SSLMode)
	overrideInt("PG_CONNECT_TIMEOUT", &AppConfig.AuthDB.ConnectTimeout)
	overrideInt("MAX_CONCURRENT_REQUESTS", &AppConfig.Concurrency.MaxRequests)
	overrideInt("POSTGRESQL_MAX_CONCURRENT", &AppConfig.Concurrency.PostgresMax)
	overrideInt("MONGODB_MAX_CONCURRENT", &AppConfig.Concurrency.MongoMax)
	overrideString("REDIS_ADDR", &AppConfig.Redis.Addr)
}

func applyDefaults() {
	if AppConfig.App.Port <= 0 {
		AppConfig.App.Port = 3010
	}
	if AppConfig.AuthDB.Port <= 0 {
		AppConfig.AuthDB.Port = 5432
	}
	if AppConfig.AuthDB.SSLMode == "" {
		AppConfig.AuthDB.SSLMode = "prefer"
	}
	if AppConfig.AuthDB.ConnectTimeout <= 0 {
		AppConfig.AuthDB.ConnectTimeout = 30
	}
	if AppConfig.Concurrency.MaxRequests <= 0 {
		AppConfig.Concurrency.MaxRequests = 200
	}
	if AppConfig.Concurrency.PostgresMax <= 0 {
		AppConfig.Concurrency.PostgresMax = 100
	}
	if AppConfig.Concurrency.MongoMax <= 0 {
		AppConfig.Concurrency.MongoMax = 100
	}
	if AppConfig.Concurrency.AcquireWaitMS <= 0 {
		AppConfig.Concurrency.AcquireWaitMS = 30000
	}
	if AppConfig.Pool.MinConns <= 0 {
		AppConfig.Pool.MinConns = 1
	}
	if AppConfig.Pool.MaxConns <= 0 {
		AppConfig.Pool.MaxConns = 30
	}
	if AppConfig.Pool.ConnectTimeoutSecs <= 0 {
		AppConfig.Pool.ConnectTimeoutSecs = 30
	}
	if AppConfig.Pool.ReapIntervalMins <= 0 {
		AppConfig.Pool.ReapIntervalMins = 5
	}
	if AppConfig.Pool.IdleThresholdMins <= 0 {
		AppConfig.Pool.IdleThresholdMins = 10
	}
	if AppConfig.Retention.Days <= 0 {
		AppConfig.Retention.Days = 30
	}
	if AppConfig.Retention.SweepTime == "" {
		AppConfig.Retention.SweepTime = "03:00"
	}
	if AppConfig.Redis.CacheTTLSecs <= 0 {
		AppConfig.Redis.CacheTTLSecs = 60
	}
}

func overrideString(env string, target *string) {
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func overrideInt(env string, target *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
