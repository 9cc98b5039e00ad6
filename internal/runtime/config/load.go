package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	idspkg "github.com/drblury/cdcsync/internal/runtime/ids"
)

// Defaults applied by Load and ApplyDefaults.
const (
	DefaultPubSubSystem       = "kafka"
	DefaultKafkaBroker        = "kafka:9092"
	DefaultTopic              = "local-postgres.public.mytable"
	DefaultKafkaGroupPrefix   = "my-sync-group"
	DefaultKafkaInitialOffset = "earliest"
	DefaultDestinationDriver  = "postgres"
	DefaultDestinationTable   = "mytable"
	DefaultRetryMaxRetries    = 5
	DefaultMetricsEnabled     = true
	DefaultRetryInitial       = 200 * time.Millisecond
	DefaultRetryMax           = 10 * time.Second
	DefaultMetricsPort        = 9090
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads the optional YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup is Load with a custom environment.
func LoadWithLookup(path string, lookup LookupFunc) (*Config, error) {
	cfg := NewDefault()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	return cfg, nil
}

// NewDefault returns a Config holding the defaults whose zero value is a
// valid setting: RetryMaxRetries 0 disables retries and MetricsEnabled false
// turns the HTTP endpoints off, so both must be set before the file and the
// environment are read.
func NewDefault() *Config {
	return &Config{
		RetryMaxRetries: DefaultRetryMaxRetries,
		MetricsEnabled:  DefaultMetricsEnabled,
	}
}

// ApplyEnv overrides cfg with the variables that are set in the environment.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return errspkg.ErrConfigRequired
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	env.str("PUBSUB_SYSTEM", &cfg.PubSubSystem)
	env.str("KAFKA_TOPIC", &cfg.Topic)
	env.str("DEAD_LETTER_TOPIC", &cfg.DeadLetterTopic)
	env.list("KAFKA_BOOTSTRAP_SERVERS", &cfg.KafkaBrokers)
	env.str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	env.str("KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	env.str("KAFKA_GROUP_PREFIX", &cfg.KafkaGroupPrefix)
	env.str("KAFKA_INITIAL_OFFSET", &cfg.KafkaInitialOffset)
	env.str("RABBITMQ_URL", &cfg.RabbitMQURL)
	env.str("NATS_URL", &cfg.NATSURL)
	env.str("HTTP_SERVER_ADDRESS", &cfg.HTTPServerAddress)
	env.str("HTTP_PUBLISHER_URL", &cfg.HTTPPublisherURL)
	env.str("IO_FILE", &cfg.IOFile)
	env.str("AWS_REGION", &cfg.AWSRegion)
	env.str("AWS_ACCESS_KEY_ID", &cfg.AWSAccessKeyID)
	env.str("AWS_SECRET_ACCESS_KEY", &cfg.AWSSecretAccessKey)
	env.str("AWS_ENDPOINT", &cfg.AWSEndpoint)
	env.str("CLOUD_DB_CONNECTION", &cfg.DestinationConnection)
	env.str("DESTINATION_DRIVER", &cfg.DestinationDriver)
	env.str("DESTINATION_TABLE", &cfg.DestinationTable)
	env.boolean("DESTINATION_CREATE_TABLE", &cfg.DestinationCreateTable)
	env.integer("DESTINATION_MAX_OPEN_CONNS", &cfg.DestinationMaxOpenConns)
	env.integer("DESTINATION_MAX_IDLE_CONNS", &cfg.DestinationMaxIdleConns)
	env.duration("DESTINATION_CONN_MAX_LIFETIME", &cfg.DestinationConnMaxLife)
	env.integer("RETRY_MAX_RETRIES", &cfg.RetryMaxRetries)
	env.duration("RETRY_INITIAL_INTERVAL", &cfg.RetryInitialInterval)
	env.duration("RETRY_MAX_INTERVAL", &cfg.RetryMaxInterval)
	env.boolean("METRICS_ENABLED", &cfg.MetricsEnabled)
	env.integer("METRICS_PORT", &cfg.MetricsPort)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)

	return env.err()
}

// ApplyDefaults fills unset fields. RetryMaxRetries and MetricsEnabled are
// left alone, see NewDefault. When no consumer group is configured a
// unique one is generated from KafkaGroupPrefix; EphemeralConsumerGroup then
// reports true.
func (c *Config) ApplyDefaults() {
	if c.PubSubSystem == "" {
		c.PubSubSystem = DefaultPubSubSystem
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if len(c.KafkaBrokers) == 0 && strings.EqualFold(c.PubSubSystem, "kafka") {
		c.KafkaBrokers = []string{DefaultKafkaBroker}
	}
	if c.KafkaGroupPrefix == "" {
		c.KafkaGroupPrefix = DefaultKafkaGroupPrefix
	}
	if c.KafkaConsumerGroup == "" {
		c.KafkaConsumerGroup = idspkg.WithPrefix(c.KafkaGroupPrefix + "-")
		c.ephemeralGroup = true
	}
	if c.KafkaInitialOffset == "" {
		c.KafkaInitialOffset = DefaultKafkaInitialOffset
	}
	if c.DestinationDriver == "" {
		c.DestinationDriver = DefaultDestinationDriver
	}
	if c.DestinationTable == "" {
		c.DestinationTable = DefaultDestinationTable
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = DefaultRetryInitial
	}
	if c.RetryMaxInterval == 0 {
		c.RetryMaxInterval = DefaultRetryMax
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = DefaultMetricsPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (r *envReader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

func (r *envReader) list(key string, dst *[]string) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (r *envReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return errspkg.ConfigValidationError{Err: errors.Join(r.errs...)}
}
