package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Event relay.
	EventBusURL    string   `envconfig:"EVENT_BUS_URL" default:"http://localhost:4005"`
	Subscribers    []string `envconfig:"EVENT_SUBSCRIBERS" default:"http://localhost:4003/events,http://localhost:4004/events"`
	RelayLog       string   `envconfig:"RELAY_LOG" default:"memory"` // memory | kafka
	KafkaBrokers   string   `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC" default:"domain-events"`
	DeliverTimeout int      `envconfig:"DELIVER_TIMEOUT_SECONDS" default:"10"`

	// Stores. With an empty DynamoDB endpoint and UseMemoryStore set, the
	// services run on the in-memory repositories.
	UseMemoryStore   bool   `envconfig:"USE_MEMORY_STORE" default:"true"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	OrderTableName   string `envconfig:"ORDER_TABLE_NAME" default:"orders"`
	PaymentTableName string `envconfig:"PAYMENT_TABLE_NAME" default:"payments"`
	DynamoDBEndpoint string `envconfig:"DYNAMODB_ENDPOINT" default:""`

	// Cache.
	RedisAddr    string `envconfig:"REDIS_ADDR" default:""`
	CacheTTLSecs int    `envconfig:"CACHE_TTL_SECONDS" default:"300"`

	// Collaborators.
	ProductServiceURL string `envconfig:"PRODUCT_SERVICE_URL" default:"http://localhost:4002"`
	PaymentServiceURL string `envconfig:"PAYMENT_SERVICE_URL" default:"http://localhost:4004"`

	// Payment gateway simulation.
	GatewayFailureRate float64 `envconfig:"GATEWAY_FAILURE_RATE" default:"0.1"`

	// Saga reconciliation.
	SagaTimeoutSecs   int `envconfig:"SAGA_TIMEOUT_SECONDS" default:"120"`
	SweepIntervalSecs int `envconfig:"SWEEP_INTERVAL_SECONDS" default:"30"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
