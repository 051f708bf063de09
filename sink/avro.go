package sink

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// AvroSchema is the record schema of the Avro archive sink
const AvroSchema = `{
	"type": "record",
	"name": "ReadoutEvent",
	"namespace": "io.readout",
	"fields": [
		{"name": "run", "type": "int"},
		{"name": "run_id", "type": "string"},
		{"name": "sequence", "type": "long"},
		{"name": "sync", "type": "boolean"},
		{"name": "length", "type": "int"},
		{"name": "emitted_at", "type": "string"},
		{"name": "data", "type": "bytes"}
	]
}`

// AvroConfig configures the Avro archive sink
type AvroConfig struct {
	// Compression is the OCF block codec: "null", "deflate" or "snappy"
	Compression string
}

// Avro appends each packaged event as one record of an Avro Object
// Container File.
type Avro struct {
	mu     sync.Mutex
	ocf    *goavro.OCFWriter
	closer io.Closer
	count  uint64
}

// NewAvro writes the OCF header to w and returns the sink. If w is an
// io.Closer it is closed by Close.
func NewAvro(w io.Writer, cfg AvroConfig) (*Avro, error) {
	codec, err := goavro.NewCodec(AvroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	compression := cfg.Compression
	if compression == "" {
		compression = goavro.CompressionNullLabel
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: compression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OCF writer: %w", err)
	}

	a := &Avro{ocf: ocf}
	if c, ok := w.(io.Closer); ok {
		a.closer = c
	}
	return a, nil
}

// Emit implements interfaces.Sink
func (a *Avro) Emit(ev *interfaces.Event) error {
	record := map[string]interface{}{
		"run":        int32(ev.Run),
		"run_id":     ev.RunID,
		"sequence":   int64(ev.Sequence),
		"sync":       ev.Sync,
		"length":     int32(ev.Length),
		"emitted_at": time.Now().UTC().Format(time.RFC3339Nano),
		"data":       ev.Packaged,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ocf.Append([]interface{}{record}); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	a.count++
	return nil
}

// Count returns the number of records written
func (a *Avro) Count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Close closes the underlying writer when it is an io.Closer
func (a *Avro) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

var _ interfaces.Sink = (*Avro)(nil)
