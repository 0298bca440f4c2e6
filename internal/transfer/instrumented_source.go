package transfer

import (
	"context"

	"github.com/italolelis/artifactd/internal/telemetry"
)

// InstrumentedSource wraps a Source with spans and client metrics, labelled
// by URI scheme.
type InstrumentedSource struct {
	source    Source
	telemetry *telemetry.Telemetry
}

// NewInstrumentedSource creates a new instrumented source.
func NewInstrumentedSource(source Source, tel *telemetry.Telemetry) *InstrumentedSource {
	return &InstrumentedSource{
		source:    source,
		telemetry: tel,
	}
}

func (s *InstrumentedSource) Probe(ctx context.Context, uri string) (int64, error) {
	size := int64(-1)

	err := s.telemetry.InstrumentClientOperation(ctx, Scheme(uri), "probe", func(ctx context.Context) error {
		var err error
		size, err = s.source.Probe(ctx, uri)

		return err
	})

	return size, err
}

func (s *InstrumentedSource) Open(ctx context.Context, uri string) (*Stream, error) {
	var stream *Stream

	err := s.telemetry.InstrumentClientOperation(ctx, Scheme(uri), "open", func(ctx context.Context) error {
		var err error
		stream, err = s.source.Open(ctx, uri)

		return err
	})

	return stream, err
}
