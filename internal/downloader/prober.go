package downloader

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/telemetry"
	"github.com/italolelis/artifactd/internal/transfer"
)

// Prober asks each source for its declared length without transferring it.
type Prober struct {
	source    transfer.Source
	timeout   time.Duration
	telemetry *telemetry.Telemetry
}

func NewProber(source transfer.Source, timeout time.Duration, tel *telemetry.Telemetry) *Prober {
	return &Prober{source: source, timeout: timeout, telemetry: tel}
}

// ProbeAll returns the size of each item in order. A failed probe or a
// missing length yields zero and a warning; it never aborts.
func (p *Prober) ProbeAll(ctx context.Context, items []manifest.Descriptor) []int64 {
	sizes := make([]int64, len(items))

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}

		sizes[i] = p.Probe(ctx, item)
	}

	return sizes
}

// Probe returns the declared size of one item, or zero when unknown.
func (p *Prober) Probe(ctx context.Context, item manifest.Descriptor) int64 {
	logger := logctx.LoggerFromContext(ctx).With("file_name", item.FileName)

	if p.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	size, err := p.source.Probe(ctx, item.SourceURI)
	if err != nil {
		p.telemetry.RecordProbe("error")
		logger.WarnContext(ctx, "size probe failed", "err", &transfer.ProbeError{URI: item.SourceURI, Err: err})

		return 0
	}

	if size <= 0 {
		p.telemetry.RecordProbe("unknown")
		logger.WarnContext(ctx, "source did not declare a size", "source", item.SourceURI)

		return 0
	}

	p.telemetry.RecordProbe("success")
	logger.DebugContext(ctx, "size probed", "size", humanize.Bytes(uint64(size)))

	return size
}
