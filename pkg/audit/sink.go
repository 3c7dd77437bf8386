package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/rbacd/pkg/observability"
)

// Sink persists audit entries
type Sink interface {
	// Record stores one entry
	Record(ctx context.Context, e *Entry) error

	// Close flushes and releases resources
	Close() error
}

// Recorder stamps entries and forwards them to a sink. A sink failure is
// logged and counted but never returned: an access decision stands whether
// or not its audit trail could be written.
type Recorder struct {
	sink     Sink
	failures prometheus.Counter
	now      func() time.Time
}

// NewRecorder creates a recorder. failures may be nil.
func NewRecorder(sink Sink, failures prometheus.Counter) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	return &Recorder{sink: sink, failures: failures, now: time.Now}
}

// Record fills in id, timestamp and request id, then writes the entry
func (r *Recorder) Record(ctx context.Context, e *Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = observability.RequestID(ctx)
	}
	if e.Severity == "" {
		e.Severity = SeverityLow
	}

	if err := r.sink.Record(ctx, e); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithFields(map[string]interface{}{
				"audit_id":     e.ID,
				"audit_action": string(e.Action),
			}).
			Error("failed to record security audit entry")
		if r.failures != nil {
			r.failures.Inc()
		}
	}
}

// Close closes the underlying sink
func (r *Recorder) Close() error {
	return r.sink.Close()
}

// NopSink discards entries
type NopSink struct{}

func (NopSink) Record(ctx context.Context, e *Entry) error { return nil }
func (NopSink) Close() error                               { return nil }
