package sink

import (
	"strconv"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/ehrlich-b/go-readout/internal/constants"
	"github.com/ehrlich-b/go-readout/internal/interfaces"
)

// CloudEvent types
const (
	EventTypePhysics = "readout.event.physics.v1"
	EventTypeSync    = "readout.event.sync.v1"

	// ContentTypeBank is the data content type of a packaged event
	ContentTypeBank = "application/octet-stream"
)

// CloudEvent extension attribute names
const (
	ExtRun      = "readoutrun"
	ExtRunID    = "readoutrunid"
	ExtSequence = "readoutseq"
	ExtSync     = "readoutsync"
)

// NewCloudEvent wraps an event in a CloudEvents 1.0 envelope. The packaged
// bytes become the event data; the returned event references ev.Packaged
// and must be serialized before ev is released.
func NewCloudEvent(source string, ev *interfaces.Event) (cloudevents.Event, error) {
	if source == "" {
		source = constants.DefaultSource
	}

	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(uuid.New().String())
	event.SetSource(source)
	event.SetTime(time.Now())
	event.SetSubject(strconv.Itoa(ev.Run))
	if ev.Sync {
		event.SetType(EventTypeSync)
	} else {
		event.SetType(EventTypePhysics)
	}

	event.SetExtension(ExtRun, int32(ev.Run))
	event.SetExtension(ExtSequence, strconv.FormatUint(uint64(ev.Sequence), 10))
	event.SetExtension(ExtSync, ev.Sync)
	if ev.RunID != "" {
		event.SetExtension(ExtRunID, ev.RunID)
	}

	if err := event.SetData(ContentTypeBank, ev.Packaged); err != nil {
		return event, err
	}
	return event, nil
}
