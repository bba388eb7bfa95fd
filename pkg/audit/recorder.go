package audit

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/webqx-health/authcore/pkg/autherr"
	"github.com/webqx-health/authcore/pkg/observability"
)

// Recorder stamps entries and writes them to the configured sink. Write
// failures are logged and counted, never propagated: an auth flow must not
// fail because the audit trail is behind.
type Recorder struct {
	sink    Sink
	sinkTag string
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder over the sink. logger and metrics may be
// nil.
func NewRecorder(sink Sink, sinkTag string, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{
		sink:    sink,
		sinkTag: sinkTag,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Only intended for test use.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record stamps the entry with a ULID and timestamp and writes it. The
// returned error is always nil or an *autherr.LogError; callers are free to
// ignore it.
func (r *Recorder) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}

	if err := r.sink.Write(ctx, e); err != nil {
		logErr := &autherr.LogError{Sink: r.sinkTag, Err: err}
		if r.logger != nil {
			r.logger.WithError(logErr).
				WithField("action", string(e.Action)).
				Warn("audit write failed")
		}
		if r.metrics != nil {
			r.metrics.AuditWriteErrors.WithLabelValues(r.sinkTag).Inc()
		}
		return logErr
	}
	return nil
}

// Close closes the underlying sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}
