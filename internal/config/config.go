// Package config assembles the process configuration from defaults, an
// optional YAML file, .env files, environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lsm/eventlogger/internal/backoff"
	"github.com/lsm/eventlogger/internal/observability"
	"github.com/lsm/eventlogger/internal/pipeline"
	"github.com/lsm/eventlogger/internal/sink"
	blobsink "github.com/lsm/eventlogger/internal/sink/blob"
	grpcsink "github.com/lsm/eventlogger/internal/sink/grpc"
	httpsink "github.com/lsm/eventlogger/internal/sink/http"
	kafkasink "github.com/lsm/eventlogger/internal/sink/kafka"
	logsink "github.com/lsm/eventlogger/internal/sink/log"
	sqlsink "github.com/lsm/eventlogger/internal/sink/sql"
	temporalsink "github.com/lsm/eventlogger/internal/sink/temporal"
	grpcsource "github.com/lsm/eventlogger/internal/source/grpc"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissing reports a required setting with no value.
	ErrMissing = errors.New("missing required setting")
	// ErrInvalid reports a setting with an unusable value.
	ErrInvalid = errors.New("invalid setting")
)

// Config is the complete event-logger configuration.
type Config struct {
	Connection  ConnectionConfig `yaml:"connection"`
	Backoff     backoff.Config   `yaml:"backoff"`
	Sink        SinkConfig       `yaml:"sink"`
	Pipeline    pipeline.Config  `yaml:"pipeline"`
	LogLevel    string           `yaml:"logLevel"`
	MetricsAddr string           `yaml:"metricsAddr"`
}

// ConnectionConfig describes the remote event stream.
type ConnectionConfig struct {
	Target           string        `yaml:"target"`
	Method           string        `yaml:"method"`
	TLS              bool          `yaml:"tls"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"`
	KeepAliveTime    time.Duration `yaml:"keepAliveTime"`
	KeepAliveTimeout time.Duration `yaml:"keepAliveTimeout"`
}

// SinkConfig selects the sink and holds the settings of every kind. Only the
// section matching Type is used.
type SinkConfig struct {
	Type     sink.Kind           `yaml:"type"`
	SQL      sqlsink.Config      `yaml:"sql"`
	Log      logsink.Config      `yaml:"log"`
	Blob     blobsink.Config     `yaml:"blob"`
	Kafka    kafkasink.Config    `yaml:"kafka"`
	HTTP     httpsink.Config     `yaml:"http"`
	GRPC     grpcsink.Config     `yaml:"grpc"`
	Temporal temporalsink.Config `yaml:"temporal"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Method:           grpcsource.DefaultMethod,
			ConnectTimeout:   10 * time.Second,
			KeepAliveTime:    30 * time.Second,
			KeepAliveTimeout: 10 * time.Second,
		},
		Backoff:     backoff.DefaultConfig(),
		Sink:        SinkConfig{Type: sink.KindSQL},
		LogLevel:    "info",
		MetricsAddr: ":9090",
	}
}

// Keys under which settings are bound in viper, with their environment variables.
const (
	KeyTarget      = "target"
	KeyMethod      = "method"
	KeyTLS         = "tls"
	KeyDatabaseURL = "database-url"
	KeySink        = "sink"
	KeyLogLevel    = "log-level"
	KeyMetricsAddr = "metrics-addr"
	KeyBlobURL     = "blob-url"
	KeyKafkaBroker = "kafka-brokers"
	KeyKafkaTopic  = "kafka-topic"
	KeyHTTPURL     = "http-url"
)

var envBindings = map[string]string{
	KeyTarget:      "EVENT_LOGGER_TARGET",
	KeyMethod:      "EVENT_LOGGER_METHOD",
	KeyTLS:         "EVENT_LOGGER_TLS",
	KeyDatabaseURL: "DATABASE_URL",
	KeySink:        "EVENT_LOGGER_SINK",
	KeyLogLevel:    observability.LogLevelEnv,
	KeyMetricsAddr: "EVENT_LOGGER_METRICS_ADDR",
	KeyBlobURL:     "EVENT_LOGGER_BLOB_URL",
	KeyKafkaBroker: "EVENT_LOGGER_KAFKA_BROKERS",
	KeyKafkaTopic:  "EVENT_LOGGER_KAFKA_TOPIC",
	KeyHTTPURL:     "EVENT_LOGGER_HTTP_URL",
}

// LoadEnvFiles loads .env then .env.local from the working directory.
// Variables already present in the environment are never overwritten.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// BindEnv binds every setting to its environment variable.
func BindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Load builds the configuration. Precedence, highest first: flags bound in
// v, environment, the YAML file at path (if any), defaults.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if v != nil {
		cfg.applyOverrides(v)
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyOverrides(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str(KeyTarget, &c.Connection.Target)
	str(KeyMethod, &c.Connection.Method)
	str(KeyDatabaseURL, &c.Sink.SQL.DSN)
	str(KeyLogLevel, &c.LogLevel)
	str(KeyMetricsAddr, &c.MetricsAddr)
	str(KeyBlobURL, &c.Sink.Blob.URL)
	str(KeyKafkaTopic, &c.Sink.Kafka.Topic)
	str(KeyHTTPURL, &c.Sink.HTTP.URL)

	if v.IsSet(KeyTLS) {
		c.Connection.TLS = v.GetBool(KeyTLS)
	}
	if v.IsSet(KeySink) {
		c.Sink.Type = sink.Kind(strings.ToLower(v.GetString(KeySink)))
	}
	if v.IsSet(KeyKafkaBroker) {
		var brokers []string
		for _, b := range strings.Split(v.GetString(KeyKafkaBroker), ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Sink.Kafka.Cluster.Brokers = brokers
	}
}

// Validate reports every missing or invalid setting at once. Each error
// wraps ErrMissing or ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	missing := func(what string) { errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, what)) }
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Connection.Target == "" {
		missing("connection.target (--target, EVENT_LOGGER_TARGET)")
	}
	if c.Connection.Method != "" && !strings.HasPrefix(c.Connection.Method, "/") {
		invalid("connection.method %q must be a full method name like /pkg.Service/Method", c.Connection.Method)
	}
	if c.Connection.ConnectTimeout < 0 {
		invalid("connection.connectTimeout must not be negative")
	}

	b := c.Backoff
	if b.InitialInterval < 0 || b.MaxInterval < 0 || b.Multiplier < 0 || b.RandomizationFactor < 0 || b.RandomizationFactor >= 1 {
		invalid("backoff values must be non-negative and jitter below 1")
	}
	if b.InitialInterval > 0 && b.MaxInterval > 0 && b.InitialInterval > b.MaxInterval {
		invalid("backoff.initialInterval %v exceeds backoff.maxInterval %v", b.InitialInterval, b.MaxInterval)
	}

	if !validLevel(c.LogLevel) {
		invalid("logLevel %q (use debug, info, warn or error)", c.LogLevel)
	}

	switch c.Sink.Type {
	case sink.KindSQL:
		if c.Sink.SQL.DSN == "" {
			missing("database url (--database-url, DATABASE_URL)")
		} else if _, err := sqlsink.ParseDSN(c.Sink.SQL.DSN); err != nil {
			invalid("database url: %v", err)
		}
	case sink.KindLog:
		if !validLevel(c.Sink.Log.Level) {
			invalid("sink.log.level %q (use debug, info, warn or error)", c.Sink.Log.Level)
		}
	case sink.KindBlob:
		if c.Sink.Blob.URL == "" {
			missing("sink.blob.url (EVENT_LOGGER_BLOB_URL)")
		}
	case sink.KindKafka:
		if c.Sink.Kafka.Topic == "" {
			missing("sink.kafka.topic (EVENT_LOGGER_KAFKA_TOPIC)")
		}
		if err := c.Sink.Kafka.Cluster.Validate(); err != nil {
			invalid("sink.kafka.cluster: %v", err)
		}
	case sink.KindHTTP:
		if c.Sink.HTTP.URL == "" {
			missing("sink.http.url (EVENT_LOGGER_HTTP_URL)")
		}
	case sink.KindGRPC:
		if c.Sink.GRPC.Address == "" {
			missing("sink.grpc.address")
		}
	case sink.KindTemporal:
		if c.Sink.Temporal.TaskQueue == "" {
			missing("sink.temporal.taskQueue")
		}
		if c.Sink.Temporal.WorkflowType == "" {
			missing("sink.temporal.workflowType")
		}
	default:
		invalid("sink.type %q (one of %v)", c.Sink.Type, sink.Kinds)
	}

	return errors.Join(errs...)
}

func validLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
