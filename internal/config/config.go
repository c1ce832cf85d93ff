package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	StatusTopic     string        `mapstructure:"status_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
	Partitions      int           `mapstructure:"partitions"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

// TelephonyConfig holds vendor credentials and call placement defaults.
type TelephonyConfig struct {
	Provider           string        `mapstructure:"provider"`
	AccountSID         string        `mapstructure:"account_sid"`
	AuthToken          string        `mapstructure:"auth_token"`
	PublicBaseURL      string        `mapstructure:"public_base_url"`
	ValidateSignatures bool          `mapstructure:"validate_signatures"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
	RingTimeout        time.Duration `mapstructure:"ring_timeout"`
	AMDTimeout         time.Duration `mapstructure:"amd_timeout"`
	MockFailureRatio   float64       `mapstructure:"mock_failure_ratio"`
}

type DialerConfig struct {
	MaxLines        int           `mapstructure:"max_lines"`
	ConnectClaimTTL time.Duration `mapstructure:"connect_claim_ttl"`
	// ClaimStore is "redis" or "local"; local only serves a single API replica.
	ClaimStore string `mapstructure:"claim_store"`
}

type LLMConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

type SweeperConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	MaxCallDuration time.Duration `mapstructure:"max_call_duration"`
	Retention       time.Duration `mapstructure:"retention"`
	BatchSize       int           `mapstructure:"batch_size"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "triple-line-dialer")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("kafka.status_topic", "dialer.call-status")
	v.SetDefault("kafka.consumer_group_id", "dialer-status-worker")
	v.SetDefault("kafka.partitions", 12)
	v.SetDefault("telephony.provider", "twilio")
	v.SetDefault("telephony.request_timeout", 10*time.Second)
	v.SetDefault("telephony.rate_limit", 5.0)
	v.SetDefault("telephony.rate_burst", 3)
	v.SetDefault("telephony.ring_timeout", 25*time.Second)
	v.SetDefault("telephony.amd_timeout", 30*time.Second)
	v.SetDefault("dialer.max_lines", 3)
	v.SetDefault("dialer.connect_claim_ttl", 2*time.Minute)
	v.SetDefault("dialer.claim_store", "redis")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.request_timeout", 20*time.Second)
	v.SetDefault("llm.rate_limit", 1.0)
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.stale_after", 15*time.Minute)
	v.SetDefault("sweeper.max_call_duration", 4*time.Hour)
	v.SetDefault("sweeper.retention", 90*24*time.Hour)
	v.SetDefault("sweeper.batch_size", 500)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
