package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
	"github.com/ehrlich-b/go-readout/internal/logging"
)

// KafkaConfig configures the Kafka sink
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Source  string // CloudEvents source attribute

	RequiredAcks    int    // -1 all, 0 none, 1 leader
	Compression     string // none, gzip, snappy, lz4, zstd
	MaxMessageBytes int
	Idempotent      bool
	RetryMax        int
	RetryBackoff    time.Duration

	Security KafkaSecurity
}

// DefaultKafkaConfig returns defaults suited to ordered event delivery
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:         brokers,
		Topic:           topic,
		RequiredAcks:    int(sarama.WaitForAll),
		Compression:     "none",
		MaxMessageBytes: 1 << 20,
		RetryMax:        3,
		RetryBackoff:    100 * time.Millisecond,
	}
}

// SaramaConfig converts c into a sarama producer configuration
func (c KafkaConfig) SaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	cfg.Producer.Compression = parseCompression(c.Compression)
	if c.MaxMessageBytes > 0 {
		cfg.Producer.MaxMessageBytes = c.MaxMessageBytes
	}
	cfg.Producer.Idempotent = c.Idempotent
	cfg.Producer.Retry.Max = c.RetryMax
	if c.RetryBackoff > 0 {
		cfg.Producer.Retry.Backoff = c.RetryBackoff
	}

	// Idempotent producer requires Net.MaxOpenRequests to be 1
	if c.Idempotent {
		cfg.Net.MaxOpenRequests = 1
	}
	return cfg
}

// Kafka publishes each event as a JSON CloudEvent. Events of one run share
// a message key so they land on one partition in production order.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	source   string
	logger   *logging.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewKafka connects a synchronous producer to the configured brokers
func NewKafka(cfg KafkaConfig, logger *logging.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic configured")
	}

	sc := cfg.SaramaConfig()
	if err := cfg.Security.apply(sc); err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	k := NewKafkaWithProducer(producer, cfg.Topic, cfg.Source, logger)
	k.logger.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"security", cfg.Security.Protocol,
		"mechanism", cfg.Security.Mechanism)
	return k, nil
}

// NewKafkaWithProducer wraps an existing producer
func NewKafkaWithProducer(producer sarama.SyncProducer, topic, source string, logger *logging.Logger) *Kafka {
	if logger == nil {
		logger = logging.Default()
	}
	return &Kafka{
		producer: producer,
		topic:    topic,
		source:   source,
		logger:   logger,
	}
}

// Emit implements interfaces.Sink
func (k *Kafka) Emit(ev *interfaces.Event) error {
	msg, err := k.Message(ev)
	if err != nil {
		k.failed.Add(1)
		return err
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		k.failed.Add(1)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	k.sent.Add(1)
	k.logger.Debug("event produced",
		"topic", k.topic,
		"partition", partition,
		"offset", offset,
		"seq", ev.Sequence)
	return nil
}

// Message builds the Kafka message for ev. The value is a serialized copy,
// so ev may be released once Message returns.
func (k *Kafka) Message(ev *interfaces.Event) (*sarama.ProducerMessage, error) {
	event, err := NewCloudEvent(k.source, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to build CloudEvent: %w", err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(strconv.Itoa(ev.Run)),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(event.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(event.Type())},
			{Key: []byte("ce_source"), Value: []byte(event.Source())},
			{Key: []byte("ce_id"), Value: []byte(event.ID())},
		},
	}, nil
}

// Stats returns the number of sent and failed messages
func (k *Kafka) Stats() (sent, failed uint64) {
	return k.sent.Load(), k.failed.Load()
}

// Close closes the Kafka producer
func (k *Kafka) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// parseCompression parses a compression codec name
func parseCompression(name string) sarama.CompressionCodec {
	switch name {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}

var _ interfaces.Sink = (*Kafka)(nil)
