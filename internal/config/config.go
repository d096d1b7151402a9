package config

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// SMPPConfig holds the carrier-facing session configuration.
type SMPPConfig struct {
	Host         string `envconfig:"SMPP_HOST"          required:"true"`
	Port         int    `envconfig:"SMPP_PORT"          default:"2775"`
	SystemID     string `envconfig:"SMPP_SYSTEM_ID"     required:"true"`
	Password     string `envconfig:"SMPP_PASSWORD"      required:"true"`
	SystemType   string `envconfig:"SMPP_SYSTEM_TYPE"   default:""`
	AddrTON      int    `envconfig:"SMPP_TON"           default:"1"`
	AddrNPI      int    `envconfig:"SMPP_NPI"           default:"1"`
	AddressRange string `envconfig:"SMPP_ADDRESS_RANGE" default:""`
	BindMode     string `envconfig:"SMPP_BIND_MODE"     default:"transceiver"`

	ReconnectInterval    time.Duration `envconfig:"SMPP_RECONNECT_INTERVAL"     default:"5s"`
	MaxReconnectAttempts int           `envconfig:"SMPP_MAX_RECONNECT_ATTEMPTS" default:"10"`
	ConnectTimeout       time.Duration `envconfig:"SMPP_CONNECT_TIMEOUT"        default:"10s"`
	RequestTimeout       time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT"        default:"30s"`
	EnquireLink          time.Duration `envconfig:"SMPP_ENQUIRE_LINK"           default:"10s"`

	MaxMessagesPerSecond  float64 `envconfig:"SMPP_MAX_MESSAGES_PER_SECOND"  default:"100"`
	MaxConcurrentRequests int     `envconfig:"SMPP_MAX_CONCURRENT_REQUESTS"  default:"50"`

	DeliverQueueSize    int           `envconfig:"DELIVER_QUEUE_SIZE"    default:"1024"`
	DeliverQueueTimeout time.Duration `envconfig:"DELIVER_QUEUE_TIMEOUT" default:"5s"`
}

// WebhookConfig holds the dispatcher defaults.
type WebhookConfig struct {
	Secret     string        `envconfig:"WEBHOOK_SECRET"      required:"true"`
	Timeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT"     default:"10s"`
	MaxRetries int           `envconfig:"WEBHOOK_MAX_RETRIES" default:"3"`
	RetryDelay time.Duration `envconfig:"WEBHOOK_RETRY_DELAY" default:"1s"`
}

// PipelineConfig holds inbound processing knobs.
type PipelineConfig struct {
	PersistMaxRetries int           `envconfig:"PERSIST_MAX_RETRIES" default:"3"`
	PersistRetryDelay time.Duration `envconfig:"PERSIST_RETRY_DELAY" default:"200ms"`
}

// HTTPConfig holds the ops HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `envconfig:"HTTP_ADDR"          default:"0.0.0.0:8000"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT"  default:"60s"`
}

// Config holds the overall gateway configuration.
type Config struct {
	DatabaseURL         string `envconfig:"DATABASE_URL" required:"true"`
	RedisAddr           string `envconfig:"REDIS_ADDR"   default:"localhost:6379"`
	RedisPassword       string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB             int    `envconfig:"REDIS_DB"     default:"0"`
	LogLevel            string `envconfig:"LOG_LEVEL"    default:"info"`
	ClassifierRulesPath string `envconfig:"CLASSIFIER_RULES_PATH" default:""`

	SMPP     SMPPConfig
	Webhook  WebhookConfig
	Pipeline PipelineConfig
	HTTP     HTTPConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.SMPP.Port < 1 || c.SMPP.Port > 65535 {
		return errors.New("SMPP_PORT out of range")
	}
	if c.SMPP.AddrTON < 0 || c.SMPP.AddrTON > 7 {
		return errors.New("SMPP_TON out of range (0-7)")
	}
	if c.SMPP.AddrNPI < 0 || c.SMPP.AddrNPI > 15 {
		return errors.New("SMPP_NPI out of range (0-15)")
	}
	switch c.SMPP.BindMode {
	case "transceiver", "trx", "transmitter", "tx", "receiver", "rx":
	default:
		return errors.New("SMPP_BIND_MODE must be transceiver, transmitter or receiver")
	}
	if c.SMPP.MaxReconnectAttempts < 1 {
		return errors.New("SMPP_MAX_RECONNECT_ATTEMPTS must be >= 1")
	}
	if c.Webhook.MaxRetries < 1 {
		return errors.New("WEBHOOK_MAX_RETRIES must be >= 1")
	}
	return nil
}
