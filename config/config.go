package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Packlane    PacklaneConfig    `yaml:"packlane"`
	CarrierFeed CarrierFeedConfig `yaml:"carrier_feed"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PacklaneConfig struct {
	ShipmentHTTPAddr string `yaml:"shipment_http_addr"`
	TrackingHTTPAddr string `yaml:"tracking_http_addr"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// "headers" trusts gateway-injected identity headers (local/dev),
	// "jwt" verifies bearer tokens with the configured secret.
	AuthMode  string `yaml:"auth_mode"`
	JWTSecret string `yaml:"jwt_secret"`

	// When enabled, shipments are visible to any identity from the owning company.
	CompanySharingEnabled bool `yaml:"company_sharing_enabled"`

	PublicTrackingTTLSeconds int `yaml:"public_tracking_ttl_seconds"`

	IngestRateLimitPerMinute int `yaml:"ingest_rate_limit_per_minute"`
}

// CarrierFeedConfig drives the background poller that pulls tracking events
// from an upstream carrier API for carrier-linked shipments.
type CarrierFeedConfig struct {
	Enabled bool `yaml:"enabled"`

	// "http" talks to the carrier emulator API, "fake" is a deterministic
	// in-process stub for local runs.
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
	LeaseSeconds        int `yaml:"lease_seconds"`
	RateLimitPerMinute  int `yaml:"rate_limit_per_minute"`

	InTransitMinSeconds int `yaml:"in_transit_min_seconds"`
	InTransitMaxSeconds int `yaml:"in_transit_max_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
