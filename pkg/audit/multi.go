package audit

import (
	"context"
	"fmt"
)

// MultiSink fans an entry out to every configured sink. A failing sink does
// not stop the others; the first error is returned so the recorder can
// count it.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to all the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, e *Entry) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink: %w", err)
		}
	}
	return firstErr
}
