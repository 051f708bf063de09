// Package config loads readout configuration from a YAML file and
// READOUT_-prefixed environment variables.
package config

import (
	"io"
	"time"

	readout "github.com/ehrlich-b/go-readout"
	"github.com/ehrlich-b/go-readout/hardware"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/internal/sched"
	"github.com/ehrlich-b/go-readout/sink"
)

// Config is the root configuration structure
type Config struct {
	Readout ReadoutConfig `mapstructure:"readout"`
	Run     RunConfig     `mapstructure:"run"`
	Sim     SimConfig     `mapstructure:"sim"`
	Pulser  PulserConfig  `mapstructure:"pulser"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ReadoutConfig contains buffer pool and drain settings
type ReadoutConfig struct {
	PoolSize          int           `mapstructure:"pool_size"`
	BufferSize        int           `mapstructure:"buffer_size"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
	DrainPollInterval time.Duration `mapstructure:"drain_poll_interval"`
	MaxFlushRetries   int           `mapstructure:"max_flush_retries"`
	BlockOnEmpty      bool          `mapstructure:"block_on_empty"`
	RunType           string        `mapstructure:"run_type"`
	Source            string        `mapstructure:"source"`
	ROCID             uint16        `mapstructure:"roc_id"`
}

// RunConfig controls the run cycle driven by the simulator
type RunConfig struct {
	Number   int           `mapstructure:"number"`
	Events   uint32        `mapstructure:"events"`   // triggers per run, 0 for no limit
	Duration time.Duration `mapstructure:"duration"` // run length, 0 for no limit
	Cycles   int           `mapstructure:"cycles"`   // runs to take, 0 until interrupted
}

// SimConfig configures the simulated trigger interface
type SimConfig struct {
	EventSize         int   `mapstructure:"event_size"`
	SizeJitter        int   `mapstructure:"size_jitter"`
	SyncEvery         int   `mapstructure:"sync_every"`
	ResidualAfterSync int   `mapstructure:"residual_after_sync"`
	Seed              int64 `mapstructure:"seed"`
}

// PulserConfig configures the trigger source
type PulserConfig struct {
	Mode string  `mapstructure:"mode"`
	Rate float64 `mapstructure:"rate"`
	CPU  int     `mapstructure:"cpu"`
	Nice int     `mapstructure:"nice"`
	Seed int64   `mapstructure:"seed"`
}

// SinkConfig selects where packaged events go
type SinkConfig struct {
	Type       string      `mapstructure:"type"` // discard, file, avro or kafka
	Path       string      `mapstructure:"path"`
	BufferSize int         `mapstructure:"buffer_size"`
	Avro       AvroConfig  `mapstructure:"avro"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

// AvroConfig contains Avro container settings
type AvroConfig struct {
	Compression string `mapstructure:"compression"`
}

// KafkaConfig contains Kafka producer settings
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	RequiredAcks    int           `mapstructure:"required_acks"`
	Compression     string        `mapstructure:"compression"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	Idempotent      bool          `mapstructure:"idempotent"`
	RetryMax        int           `mapstructure:"retry_max"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`

	SecurityProtocol string    `mapstructure:"security_protocol"`
	SASLMechanism    string    `mapstructure:"sasl_mechanism"`
	SASLUsername     string    `mapstructure:"sasl_username"`
	SASLPassword     string    `mapstructure:"sasl_password"`
	AWSRegion        string    `mapstructure:"aws_region"`
	TLS              TLSConfig `mapstructure:"tls"`
}

// TLSConfig contains broker TLS settings
type TLSConfig struct {
	CACertFile         string `mapstructure:"ca_cert_file"`
	ClientCertFile     string `mapstructure:"client_cert_file"`
	ClientKeyFile      string `mapstructure:"client_key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains Prometheus exporter settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Params builds readout parameters for hw and s
func (c *Config) Params(hw readout.Hardware, s readout.Sink) readout.Params {
	p := readout.DefaultParams(hw, s)
	p.PoolSize = c.Readout.PoolSize
	p.BufferSize = c.Readout.BufferSize
	p.DrainTimeout = c.Readout.DrainTimeout
	p.DrainPollInterval = c.Readout.DrainPollInterval
	p.MaxFlushRetries = c.Readout.MaxFlushRetries
	p.BlockOnEmpty = c.Readout.BlockOnEmpty
	p.RunType = c.Readout.RunType
	p.Source = c.Readout.Source
	return p
}

// SimConfig returns the simulator configuration
func (c *Config) SimConfig() hardware.SimConfig {
	return hardware.SimConfig{
		EventSize:         c.Sim.EventSize,
		SizeJitter:        c.Sim.SizeJitter,
		SyncEvery:         c.Sim.SyncEvery,
		ResidualAfterSync: c.Sim.ResidualAfterSync,
		Seed:              c.Sim.Seed,
	}
}

// PulserConfig returns the trigger source configuration. Mode has already
// been checked by Validate.
func (c *Config) PulserConfig(logger *logging.Logger) hardware.PulserConfig {
	mode, _ := hardware.ParsePulserMode(c.Pulser.Mode)
	return hardware.PulserConfig{
		Mode:   mode,
		Rate:   c.Pulser.Rate,
		Limit:  c.Run.Events,
		Sched:  sched.Options{CPU: c.Pulser.CPU, Nice: c.Pulser.Nice},
		Seed:   c.Pulser.Seed,
		Logger: logger,
	}
}

// KafkaConfig returns the Kafka sink configuration
func (c *Config) KafkaConfig() sink.KafkaConfig {
	k := c.Sink.Kafka
	return sink.KafkaConfig{
		Brokers:         k.Brokers,
		Topic:           k.Topic,
		Source:          c.Readout.Source,
		RequiredAcks:    k.RequiredAcks,
		Compression:     k.Compression,
		MaxMessageBytes: k.MaxMessageBytes,
		Idempotent:      k.Idempotent,
		RetryMax:        k.RetryMax,
		RetryBackoff:    k.RetryBackoff,
		Security: sink.KafkaSecurity{
			Protocol:           k.SecurityProtocol,
			Mechanism:          k.SASLMechanism,
			Username:           k.SASLUsername,
			Password:           k.SASLPassword,
			AWSRegion:          k.AWSRegion,
			CACertFile:         k.TLS.CACertFile,
			ClientCertFile:     k.TLS.ClientCertFile,
			ClientKeyFile:      k.TLS.ClientKeyFile,
			InsecureSkipVerify: k.TLS.InsecureSkipVerify,
		},
	}
}

// BankPackager returns the event packager for the configured ROC
func (c *Config) BankPackager() *sink.BankPackager {
	return sink.NewBankPackager(c.Readout.ROCID)
}

// LoggingConfig returns a logger configuration writing to out
func (c *Config) LoggingConfig(out io.Writer) *logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = c.Logging.Format
	if out != nil {
		cfg.Output = out
	}
	return cfg
}
