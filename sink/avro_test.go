package sink

import (
	"bytes"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

func readAvro(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()

	reader, err := goavro.NewOCFReader(bytes.NewReader(data))
	require.NoError(t, err)

	var records []map[string]interface{}
	for reader.Scan() {
		datum, err := reader.Read()
		require.NoError(t, err)
		records = append(records, datum.(map[string]interface{}))
	}
	require.NoError(t, reader.Err())
	return records
}

func TestAvroSink(t *testing.T) {
	tests := []struct {
		name        string
		compression string
	}{
		{"uncompressed", ""},
		{"deflate", goavro.CompressionDeflateLabel},
		{"snappy", goavro.CompressionSnappyLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			a, err := NewAvro(&buf, AvroConfig{Compression: tt.compression})
			require.NoError(t, err)

			for seq := uint32(1); seq <= 3; seq++ {
				ev := &interfaces.Event{
					Run:      8,
					RunID:    "abc",
					Sequence: seq,
					Sync:     seq == 3,
					Length:   4,
					Packaged: []byte{byte(seq), 0, 0, 0},
				}
				require.NoError(t, a.Emit(ev))
			}
			assert.Equal(t, uint64(3), a.Count())
			require.NoError(t, a.Close())

			records := readAvro(t, buf.Bytes())
			require.Len(t, records, 3)
			for i, r := range records {
				assert.Equal(t, int32(8), r["run"])
				assert.Equal(t, "abc", r["run_id"])
				assert.Equal(t, int64(i+1), r["sequence"])
				assert.Equal(t, i == 2, r["sync"])
				assert.Equal(t, int32(4), r["length"])
				assert.Equal(t, []byte{byte(i + 1), 0, 0, 0}, r["data"])
				assert.NotEmpty(t, r["emitted_at"])
			}
		})
	}
}

func TestAvroSinkCopiesPayload(t *testing.T) {
	var buf bytes.Buffer
	a, err := NewAvro(&buf, AvroConfig{})
	require.NoError(t, err)

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, a.Emit(&interfaces.Event{Run: 1, Sequence: 1, Length: 4, Packaged: payload}))

	// The buffer is reused by the next event once Emit returns
	copy(payload, []byte{9, 9, 9, 9})

	records := readAvro(t, buf.Bytes())
	require.Len(t, records, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, records[0]["data"])
}

func TestAvroSinkBadCompression(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewAvro(&buf, AvroConfig{Compression: "lzma"})
	assert.Error(t, err)
}
