// Package config assembles the gate daemon's settings from defaults, an
// optional YAML file and GATE_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the daemon reads.
const EnvPrefix = "GATE"

// Config holds the daemon settings.
type Config struct {
	// GateID identifies the physical checkpoint (GATE_ID).
	GateID string `mapstructure:"id" validate:"required"`
	// SiteID identifies the site the gate belongs to.
	SiteID string `mapstructure:"site_id"`

	VerifyBudget        time.Duration `mapstructure:"verify_budget" validate:"gt=0"`
	TickInterval        time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	PollInterval        time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold" validate:"gte=0,lt=1"`
	IdentityFloor       float64       `mapstructure:"identity_floor" validate:"gte=0,lt=1"`

	TagBridgeURL        string        `mapstructure:"tag_bridge_url" validate:"omitempty,url"`
	TagControlURL       string        `mapstructure:"tag_control_url" validate:"omitempty,url"`
	TagReconnectBackoff time.Duration `mapstructure:"tag_reconnect_backoff" validate:"gt=0"`

	DetectionNarrowURL string  `mapstructure:"detection_narrow_url" validate:"omitempty,url"`
	DetectionBroadURL  string  `mapstructure:"detection_broad_url" validate:"omitempty,url"`
	DetectionMaxRPS    float64 `mapstructure:"detection_max_rps" validate:"gte=0"`
	// RequestTimeout bounds every outbound HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	// FrameMaxAge is how old the latest frame may be and still be classified.
	FrameMaxAge time.Duration `mapstructure:"frame_max_age" validate:"gte=0"`

	AttendanceURL     string        `mapstructure:"attendance_url" validate:"omitempty,url"`
	AttendanceTimeout time.Duration `mapstructure:"attendance_timeout" validate:"gt=0"`

	PolicyFile string `mapstructure:"policy_file"`

	APIAddr     string `mapstructure:"api_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	HealthAddr  string `mapstructure:"health_addr"`

	KafkaBrokers      []string `mapstructure:"kafka_brokers" validate:"dive,hostname_port"`
	KafkaAuditTopic   string   `mapstructure:"kafka_audit_topic" validate:"required_with=KafkaBrokers"`
	KafkaOutcomeTopic string   `mapstructure:"kafka_outcome_topic" validate:"required_with=KafkaBrokers"`

	DatabaseURL string `mapstructure:"database_url"`
	// MigrationsDir holds the SQL migrations applied at startup when a
	// database is configured.
	MigrationsDir string `mapstructure:"migrations_dir"`

	// Keyboard enables the raw-mode terminal manual scan source.
	Keyboard bool `mapstructure:"keyboard"`

	LogLevel     string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// defaults lists every key so that environment variables bind even when no
// file mentions them.
var defaults = map[string]any{
	"id":                    "",
	"site_id":               "",
	"verify_budget":         30 * time.Second,
	"tick_interval":         100 * time.Millisecond,
	"poll_interval":         time.Second,
	"confidence_threshold":  0.4,
	"identity_floor":        0.3,
	"tag_bridge_url":        "",
	"tag_control_url":       "",
	"tag_reconnect_backoff": 3 * time.Second,
	"detection_narrow_url":  "",
	"detection_broad_url":   "",
	"detection_max_rps":     2.0,
	"request_timeout":       5 * time.Second,
	"frame_max_age":         5 * time.Second,
	"attendance_url":        "",
	"attendance_timeout":    10 * time.Second,
	"policy_file":           "",
	"api_addr":              ":8080",
	"metrics_addr":          ":9090",
	"health_addr":           "",
	"kafka_brokers":         []string{},
	"kafka_audit_topic":     "gate.overrides",
	"kafka_outcome_topic":   "gate.outcomes",
	"database_url":          "",
	"migrations_dir":        "db/migrations",
	"keyboard":              false,
	"log_level":             "info",
	"otlp_endpoint":         "",
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// KafkaEnabled reports whether events should be published to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// compact trims entries and drops empty ones, so GATE_KAFKA_BROKERS="" and
// trailing commas mean no brokers.
func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
