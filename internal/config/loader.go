package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehrlich-b/go-readout/hardware"
	"github.com/ehrlich-b/go-readout/internal/constants"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/sink"
)

// EnvPrefix prefixes every environment override, e.g. READOUT_READOUT_POOL_SIZE
const EnvPrefix = "READOUT"

// Sink types
const (
	SinkDiscard = "discard"
	SinkFile    = "file"
	SinkAvro    = "avro"
	SinkKafka   = "kafka"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Set overrides a key, taking precedence over the file and environment
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Load loads configuration from path (optional) and environment variables
func (l *Loader) Load(path string) (*Config, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (l *Loader) setDefaults() {
	// Readout defaults
	l.v.SetDefault("readout.pool_size", constants.DefaultPoolSize)
	l.v.SetDefault("readout.buffer_size", constants.DefaultBufferSize)
	l.v.SetDefault("readout.drain_timeout", constants.DefaultDrainTimeout)
	l.v.SetDefault("readout.drain_poll_interval", constants.DrainPollInterval)
	l.v.SetDefault("readout.max_flush_retries", constants.DefaultMaxFlushRetries)
	l.v.SetDefault("readout.block_on_empty", true)
	l.v.SetDefault("readout.run_type", "")
	l.v.SetDefault("readout.source", constants.DefaultSource)
	l.v.SetDefault("readout.roc_id", constants.DefaultROCID)

	// Run cycle defaults
	l.v.SetDefault("run.number", 1)
	l.v.SetDefault("run.events", 0)
	l.v.SetDefault("run.duration", 0)
	l.v.SetDefault("run.cycles", 1)

	// Simulator defaults
	l.v.SetDefault("sim.event_size", 256)
	l.v.SetDefault("sim.size_jitter", 0)
	l.v.SetDefault("sim.sync_every", 1000)
	l.v.SetDefault("sim.residual_after_sync", 2)
	l.v.SetDefault("sim.seed", 0)

	// Pulser defaults
	l.v.SetDefault("pulser.mode", "fixed")
	l.v.SetDefault("pulser.rate", 1000.0)
	l.v.SetDefault("pulser.cpu", -1)
	l.v.SetDefault("pulser.nice", 0)
	l.v.SetDefault("pulser.seed", 0)

	// Sink defaults
	l.v.SetDefault("sink.type", SinkDiscard)
	l.v.SetDefault("sink.path", "")
	l.v.SetDefault("sink.buffer_size", 64*1024)
	l.v.SetDefault("sink.avro.compression", "snappy")
	l.v.SetDefault("sink.kafka.brokers", []string{})
	l.v.SetDefault("sink.kafka.topic", "")
	l.v.SetDefault("sink.kafka.required_acks", -1)
	l.v.SetDefault("sink.kafka.compression", "none")
	l.v.SetDefault("sink.kafka.max_message_bytes", 1<<20)
	l.v.SetDefault("sink.kafka.idempotent", false)
	l.v.SetDefault("sink.kafka.retry_max", 3)
	l.v.SetDefault("sink.kafka.retry_backoff", "100ms")
	l.v.SetDefault("sink.kafka.security_protocol", sink.ProtocolPlaintext)
	l.v.SetDefault("sink.kafka.sasl_mechanism", "")
	l.v.SetDefault("sink.kafka.sasl_username", "")
	l.v.SetDefault("sink.kafka.sasl_password", "")
	l.v.SetDefault("sink.kafka.aws_region", "")
	l.v.SetDefault("sink.kafka.tls.ca_cert_file", "")
	l.v.SetDefault("sink.kafka.tls.client_cert_file", "")
	l.v.SetDefault("sink.kafka.tls.client_key_file", "")
	l.v.SetDefault("sink.kafka.tls.insecure_skip_verify", false)

	// Observability defaults
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "text")
	l.v.SetDefault("metrics.enabled", true)
	l.v.SetDefault("metrics.listen", ":9090")
	l.v.SetDefault("metrics.path", "/metrics")
	l.v.SetDefault("metrics.namespace", "")
}

// Validate validates the configuration
func (l *Loader) Validate(config *Config) error {
	r := config.Readout
	if r.PoolSize < 1 || r.PoolSize > constants.MaxPoolSize {
		return fmt.Errorf("readout.pool_size %d out of range [1, %d]", r.PoolSize, constants.MaxPoolSize)
	}
	if r.BufferSize < 1 || r.BufferSize > constants.MaxBufferSize {
		return fmt.Errorf("readout.buffer_size %d out of range [1, %d]", r.BufferSize, constants.MaxBufferSize)
	}
	if r.DrainTimeout <= 0 {
		return errors.New("readout.drain_timeout must be positive")
	}
	if r.MaxFlushRetries < 0 {
		return errors.New("readout.max_flush_retries must not be negative")
	}

	if config.Run.Number < 0 {
		return fmt.Errorf("invalid run.number: %d", config.Run.Number)
	}
	if config.Run.Cycles < 0 {
		return fmt.Errorf("invalid run.cycles: %d", config.Run.Cycles)
	}

	if config.Sim.EventSize < 1 {
		return fmt.Errorf("invalid sim.event_size: %d", config.Sim.EventSize)
	}

	mode, err := hardware.ParsePulserMode(config.Pulser.Mode)
	if err != nil {
		return err
	}
	if mode != hardware.PulserExternal && config.Pulser.Rate <= 0 {
		return fmt.Errorf("pulser.rate must be positive for %s mode", mode)
	}
	if mode == hardware.PulserExternal {
		return errors.New("pulser.mode external has no trigger source in the simulator")
	}

	switch config.Sink.Type {
	case SinkDiscard:
	case SinkFile, SinkAvro:
		if config.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for %s sink", config.Sink.Type)
		}
	case SinkKafka:
		if len(config.Sink.Kafka.Brokers) == 0 {
			return errors.New("sink.kafka.brokers is required for kafka sink")
		}
		if config.Sink.Kafka.Topic == "" {
			return errors.New("sink.kafka.topic is required for kafka sink")
		}
		if err := validateKafkaSecurity(config.Sink.Kafka); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", config.Sink.Type)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return err
	}
	if config.Logging.Format != "text" && config.Logging.Format != "json" {
		return fmt.Errorf("unsupported logging format: %s", config.Logging.Format)
	}

	if config.Metrics.Enabled && config.Metrics.Listen == "" {
		return errors.New("metrics.listen is required when metrics are enabled")
	}

	return nil
}

func validateKafkaSecurity(k KafkaConfig) error {
	switch k.SecurityProtocol {
	case sink.ProtocolPlaintext, sink.ProtocolSSL:
		return nil
	case sink.ProtocolSASLPlaintext, sink.ProtocolSASLSSL:
	default:
		return fmt.Errorf("unsupported sink.kafka.security_protocol: %s", k.SecurityProtocol)
	}

	switch k.SASLMechanism {
	case sink.MechanismPlain, sink.MechanismSCRAMSHA256, sink.MechanismSCRAMSHA512:
		if k.SASLUsername == "" {
			return fmt.Errorf("sink.kafka.sasl_username is required for %s", k.SASLMechanism)
		}
	case sink.MechanismAWSMSKIAM:
		if k.AWSRegion == "" {
			return errors.New("sink.kafka.aws_region is required for AWS_MSK_IAM")
		}
	default:
		return fmt.Errorf("unsupported sink.kafka.sasl_mechanism: %q", k.SASLMechanism)
	}
	return nil
}
