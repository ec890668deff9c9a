package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

const (
	TianapiModeLive = "live"
	TianapiModeFake = "fake"
)

type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Redis     RedisConfig      `yaml:"redis"`
	Tianapi   TianapiConfig    `yaml:"tianapi"`
	KuaidiBox KuaidiBoxConfig  `yaml:"kuaidibox"`
	Shipments []ShipmentConfig `yaml:"shipments" validate:"dive"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host" validate:"required"`
	Port                     int    `yaml:"port" validate:"min=1,max=65535"`
	ShipmentUpdatedTopicName string `yaml:"shipment_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

type TianapiConfig struct {
	BaseURL            string `yaml:"base_url" validate:"omitempty,url"`
	APIKey             string `yaml:"api_key"`
	Mode               string `yaml:"mode" validate:"omitempty,oneof=live fake"`
	TimeoutSeconds     int    `yaml:"timeout_seconds" validate:"min=0,max=60"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"min=0"`
}

type KuaidiBoxConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	WorkerHTTPAddr          string `yaml:"worker_http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds" validate:"min=0"`

	// PollIntervalOverrideSeconds заменяет часовой интервал всех треков.
	// Только для демо.
	PollIntervalOverrideSeconds int `yaml:"poll_interval_override_seconds" validate:"min=0"`
}

// ShipmentConfig is one statically configured shipment. APIKey falls back to
// tianapi.api_key.
type ShipmentConfig struct {
	TrackingNumber    string `yaml:"tracking_number" validate:"required"`
	DisplayName       string `yaml:"display_name"`
	PollIntervalHours int    `yaml:"poll_interval_hours" validate:"omitempty,min=1,max=24"`
	APIKey            string `yaml:"api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.ShipmentUpdatedTopicName == "" {
		c.Kafka.ShipmentUpdatedTopicName = "shipment.updated"
	}
	if c.Tianapi.BaseURL == "" {
		c.Tianapi.BaseURL = "https://apis.tianapi.com/kuaidi/index"
	}
	if c.Tianapi.Mode == "" {
		c.Tianapi.Mode = TianapiModeLive
	}
	if c.Tianapi.TimeoutSeconds == 0 {
		c.Tianapi.TimeoutSeconds = 10
	}
	if c.KuaidiBox.HTTPAddr == "" {
		c.KuaidiBox.HTTPAddr = ":8080"
	}
	if c.KuaidiBox.WorkerHTTPAddr == "" {
		c.KuaidiBox.WorkerHTTPAddr = ":8081"
	}
	if c.KuaidiBox.KafkaConsumerGroup == "" {
		c.KuaidiBox.KafkaConsumerGroup = "track-api"
	}
	if c.KuaidiBox.CurrentStatusTTLSeconds == 0 {
		c.KuaidiBox.CurrentStatusTTLSeconds = 600
	}
	for i := range c.Shipments {
		if c.Shipments[i].PollIntervalHours == 0 {
			c.Shipments[i].PollIntervalHours = models.DefaultPollIntervalHours
		}
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Tianapi.Mode == TianapiModeLive {
		for _, s := range c.Shipments {
			if s.APIKey == "" && c.Tianapi.APIKey == "" {
				return fmt.Errorf("invalid config: shipment %s has no api key", s.TrackingNumber)
			}
		}
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, c.Database.SSLMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

// RedisAddr is empty when redis is not configured.
func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) TianapiTimeout() time.Duration {
	return time.Duration(c.Tianapi.TimeoutSeconds) * time.Second
}

func (c *Config) CurrentStatusTTL() time.Duration {
	return time.Duration(c.KuaidiBox.CurrentStatusTTLSeconds) * time.Second
}

func (c *Config) PollIntervalOverride() time.Duration {
	return time.Duration(c.KuaidiBox.PollIntervalOverrideSeconds) * time.Second
}

// Queries returns the configured shipments as registration queries. In fake
// mode a missing api key is replaced with a placeholder.
func (c *Config) Queries() []models.TrackingQuery {
	out := make([]models.TrackingQuery, 0, len(c.Shipments))
	for _, s := range c.Shipments {
		key := s.APIKey
		if key == "" {
			key = c.Tianapi.APIKey
		}
		if key == "" && c.Tianapi.Mode == TianapiModeFake {
			key = "demo"
		}
		out = append(out, models.TrackingQuery{
			APIKey:            key,
			TrackingNumber:    s.TrackingNumber,
			DisplayName:       s.DisplayName,
			PollIntervalHours: s.PollIntervalHours,
		})
	}
	return out
}
