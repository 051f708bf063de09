package main

import (
	"fmt"
	"os"

	readout "github.com/ehrlich-b/go-readout"
	"github.com/ehrlich-b/go-readout/internal/config"
	"github.com/ehrlich-b/go-readout/internal/logging"
	"github.com/ehrlich-b/go-readout/sink"
)

// openSink builds the sink selected by cfg.Sink.Type. File-backed sinks
// own their file and close it when the readout closes them.
func openSink(cfg *config.Config, logger *logging.Logger) (readout.Sink, error) {
	switch cfg.Sink.Type {
	case config.SinkDiscard:
		return &sink.Discard{}, nil

	case config.SinkFile:
		f, err := os.Create(cfg.Sink.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("writing banks to file", "path", cfg.Sink.Path)
		return sink.NewWriter(f, cfg.Sink.BufferSize), nil

	case config.SinkAvro:
		f, err := os.Create(cfg.Sink.Path)
		if err != nil {
			return nil, err
		}
		a, err := sink.NewAvro(f, sink.AvroConfig{Compression: cfg.Sink.Avro.Compression})
		if err != nil {
			f.Close()
			return nil, err
		}
		logger.Info("writing avro container", "path", cfg.Sink.Path, "compression", cfg.Sink.Avro.Compression)
		return a, nil

	case config.SinkKafka:
		return sink.NewKafka(cfg.KafkaConfig(), logger)

	default:
		return nil, fmt.Errorf("unsupported sink type: %s", cfg.Sink.Type)
	}
}
