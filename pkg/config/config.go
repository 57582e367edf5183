package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stderr"`
	} `yaml:"log"`
	Backend struct {
		BaseURL        string        `yaml:"base_url" default:"http://localhost:8000" validate:"required,url"`
		Lang           string        `yaml:"lang" default:"zh-TW" validate:"oneof=en zh-TW"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"30s"`
	} `yaml:"backend"`
	Tracker struct {
		StreamMaxReconnects int           `yaml:"stream_max_reconnects" default:"3" validate:"min=1"`
		StreamBackoffBase   time.Duration `yaml:"stream_backoff_base" default:"1s"`
		StreamBackoffMax    time.Duration `yaml:"stream_backoff_max" default:"8s"`
		PollBase            time.Duration `yaml:"poll_base" default:"3s"`
		PollMax             time.Duration `yaml:"poll_max" default:"15s"`
		PollMaxRetries      int           `yaml:"poll_max_retries" default:"120" validate:"min=60,max=120"`
		ProgressStep        int           `yaml:"progress_step" default:"8" validate:"min=1"`
		ProgressCap         int           `yaml:"progress_cap" default:"95" validate:"min=1,max=99"`
		LogCap              int           `yaml:"log_cap" default:"200" validate:"min=10"`
		LogTrim             int           `yaml:"log_trim" default:"10" validate:"min=1"`
	} `yaml:"tracker"`
	StockContext struct {
		TTL        time.Duration `yaml:"ttl" default:"5m"`
		MaxRetries int           `yaml:"max_retries" default:"2" validate:"min=0,max=5"`
		RetryBase  time.Duration `yaml:"retry_base" default:"2s"`
		RetryStep  time.Duration `yaml:"retry_step" default:"1s"`
		UseRedis   bool          `yaml:"use_redis"`
	} `yaml:"stock_context"`
	Watchlist struct {
		Backend    string `yaml:"backend" default:"sqlite" validate:"oneof=memory redis sqlite"`
		SQLitePath string `yaml:"sqlite_path" default:"tradedesk.db"`
		Max        int    `yaml:"max" default:"20" validate:"min=1,max=100"`
	} `yaml:"watchlist"`
	Server struct {
		Host            string        `yaml:"host" default:"127.0.0.1"`
		Port            int           `yaml:"port" default:"8090" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"0s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		AllowOrigins    []string      `yaml:"allow_origins" default:"[\"http://localhost:5173\"]"`
		RateLimit       struct {
			Rate  float64 `yaml:"rate" default:"0.2"`
			Burst int     `yaml:"burst" default:"3" validate:"min=1"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"tradedesk"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
		Topics  struct {
			Events string `yaml:"events" default:"tradedesk.analysis.events"`
			Logs   string `yaml:"logs" default:"tradedesk.logs"`
		} `yaml:"topics"`
		RequiredAcks int    `yaml:"required_acks" default:"-1"`
		Compression  string `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"tradedesk-archive"`
			Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"5"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"tradedesk.analysis.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"tradedesk"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"30s"`
	} `yaml:"clickhouse"`
	Notify struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"notify"`
	Export struct {
		Dir string `yaml:"dir" default:"."`
	} `yaml:"export"`
}

// Default returns a configuration populated only from defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv reads an optional .env file, loads YAML and overrides with TRADEDESK_* variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.applyEnv(os.Getenv)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("TRADEDESK_ENV", &c.Environment)
	str("TRADEDESK_LOG_LEVEL", &c.Log.Level)
	str("TRADEDESK_BACKEND_URL", &c.Backend.BaseURL)
	str("TRADEDESK_LANG", &c.Backend.Lang)
	str("TRADEDESK_WATCHLIST_BACKEND", &c.Watchlist.Backend)
	str("TRADEDESK_SQLITE_PATH", &c.Watchlist.SQLitePath)
	num("TRADEDESK_SERVER_PORT", &c.Server.Port)
	str("TRADEDESK_REDIS_HOST", &c.Redis.Host)
	num("TRADEDESK_REDIS_PORT", &c.Redis.Port)
	str("TRADEDESK_REDIS_PASSWORD", &c.Redis.Password)
	flag("TRADEDESK_KAFKA_ENABLED", &c.Kafka.Enabled)
	if v := getenv("TRADEDESK_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	str("TRADEDESK_KAFKA_EVENTS_TOPIC", &c.Kafka.Topics.Events)
	str("TRADEDESK_CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("TRADEDESK_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	flag("TRADEDESK_NOTIFY", &c.Notify.Enabled)
	str("TRADEDESK_EXPORT_DIR", &c.Export.Dir)
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Tracker.StreamBackoffMax < c.Tracker.StreamBackoffBase {
		return fmt.Errorf("tracker.stream_backoff_max must be >= stream_backoff_base")
	}
	if c.Tracker.PollMax < c.Tracker.PollBase {
		return fmt.Errorf("tracker.poll_max must be >= poll_base")
	}
	if c.Tracker.LogTrim >= c.Tracker.LogCap {
		return fmt.Errorf("tracker.log_trim must be < log_cap")
	}
	if c.Watchlist.Backend == "sqlite" && c.Watchlist.SQLitePath == "" {
		return fmt.Errorf("watchlist.sqlite_path is required for the sqlite backend")
	}
	return nil
}
