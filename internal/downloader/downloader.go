package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/artifactd/internal/cleanup"
	"github.com/italolelis/artifactd/internal/downloader/progress"
	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/notifier"
	"github.com/italolelis/artifactd/internal/telemetry"
	"github.com/italolelis/artifactd/internal/transfer"
)

var (
	// ErrNotPrepared is returned by Advance before Prepare succeeded.
	ErrNotPrepared = errors.New("orchestrator not prepared")
	// ErrAwaitingRetry is returned by Advance while the current item is failed.
	ErrAwaitingRetry = errors.New("orchestrator failed, awaiting retry")
)

const defaultProgressInterval = 1 << 20

// Options wires the orchestrator to its collaborators. Source and Staging
// are required.
type Options struct {
	Source        transfer.Source
	Staging       *Staging
	PostProcessor PostProcessor
	Notifier      notifier.Bridge
	Telemetry     *telemetry.Telemetry

	// ProgressInterval is the number of bytes between progress callbacks.
	ProgressInterval int64
	// ProbeTimeout bounds each size probe. Zero means no bound.
	ProbeTimeout time.Duration
	// AppName prefixes notification titles.
	AppName string

	// OnAllFinished runs once, when every artifact is in place.
	OnAllFinished func()
	// OnError runs on every transition to the failed state.
	OnError func(error)
	// OnDownloaded runs after OnFinished for artifacts this run
	// transferred, not for those found already in place.
	OnDownloaded func(manifest.Descriptor)
}

// Orchestrator acquires the manifest one artifact at a time, in order.
// Advance and Run must be driven from a single goroutine; Snapshot, Retry
// and Done are safe to call from any goroutine.
type Orchestrator struct {
	opts    Options
	items   []manifest.Descriptor
	prober  *Prober
	checker *Checker

	// transferred is set when the current item was fetched by an attempt
	// that then failed in post-processing. Driver goroutine only.
	transferred bool

	mu       sync.Mutex
	state    State
	current  int
	err      error
	agg      *progress.Aggregator
	prepared bool
	checking bool
	allDone  bool
	fileName string

	finishOnce sync.Once
	done       chan struct{}
	retry      chan struct{}
}

func New(m *manifest.Manifest, opts Options) (*Orchestrator, error) {
	if m == nil || m.Len() == 0 {
		return nil, manifest.ErrEmpty
	}

	if opts.Source == nil {
		return nil, errors.New("source is required")
	}

	if opts.Staging == nil {
		return nil, errors.New("staging is required")
	}

	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}

	if opts.AppName == "" {
		opts.AppName = "artifactd"
	}

	items := m.Items()

	return &Orchestrator{
		opts:    opts,
		items:   items,
		prober:  NewProber(opts.Source, opts.ProbeTimeout, opts.Telemetry),
		checker: NewChecker(opts.PostProcessor),
		state:   StateIdle,
		agg:     progress.NewAggregator(make([]int64, len(items))),
		done:    make(chan struct{}),
		retry:   make(chan struct{}, 1),
	}, nil
}

// Prepare scans local storage and probes sizes. It runs once; later calls
// are no-ops. When every artifact is already present it finishes right
// away without probing.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	o.mu.Lock()
	if o.prepared {
		o.mu.Unlock()

		return nil
	}

	o.state = StateChecking
	o.checking = true
	o.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx)

	scan := o.checker.Scan(ctx, o.items)

	for i, present := range scan.Present {
		logger.DebugContext(ctx, "existence check", "file_name", o.items[i].FileName, "present", present)
	}

	if scan.AllPresent() {
		logger.InfoContext(ctx, "all artifacts already present", "count", len(o.items))

		o.mu.Lock()
		o.prepared = true
		o.checking = false
		o.current = len(o.items)
		o.mu.Unlock()

		o.finishAll(ctx)

		return nil
	}

	o.mu.Lock()
	o.state = StateProbing
	o.mu.Unlock()

	sizes := o.prober.ProbeAll(ctx, o.items)
	if err := ctx.Err(); err != nil {
		return err
	}

	agg := progress.NewAggregator(sizes)
	agg.Resume(scan.ResumeIndex)

	o.mu.Lock()
	for i := range o.items {
		o.items[i].Size = sizes[i]
	}

	o.agg = agg
	o.current = scan.ResumeIndex
	o.prepared = true
	o.checking = false
	o.state = StateIdle
	o.mu.Unlock()

	logger.InfoContext(ctx, "resuming acquisition",
		"resume_index", scan.ResumeIndex,
		"count", len(o.items),
		"completed", humanize.Bytes(uint64(agg.CompletedBytes())),
		"total", humanize.Bytes(uint64(agg.TotalBytes())),
	)

	o.opts.Telemetry.SetOverallProgress(agg.Overall())

	return nil
}

// Advance processes the current artifact and moves to the next one. It
// returns done once every artifact is in place. On failure the
// orchestrator stays at the same index until Retry.
func (o *Orchestrator) Advance(ctx context.Context) (bool, error) {
	o.mu.Lock()

	switch {
	case !o.prepared:
		o.mu.Unlock()

		return false, ErrNotPrepared
	case o.allDone:
		o.mu.Unlock()

		return true, nil
	case o.state == StateFailed:
		o.mu.Unlock()

		return false, ErrAwaitingRetry
	case o.current >= len(o.items):
		o.mu.Unlock()
		o.finishAll(ctx)

		return true, nil
	}

	index := o.current
	item := o.items[index]

	o.state = StateInProgress
	o.fileName = item.FileName
	o.agg.StartItem(index)
	o.mu.Unlock()

	ctx, logger := logctx.With(ctx, "file_name", item.FileName, "index", index)

	fetched, err := o.acquire(ctx, item)
	if err != nil {
		o.transferred = o.transferred || fetched
		o.fail(ctx, err)

		return false, err
	}

	fetched = fetched || o.transferred
	o.transferred = false

	if item.OnFinished != nil {
		item.OnFinished()
	}

	if fetched && o.opts.OnDownloaded != nil {
		o.opts.OnDownloaded(item)
	}

	o.mu.Lock()
	overall := o.agg.CompleteItem()
	o.current++
	o.state = StateIdle
	o.fileName = ""
	last := o.current >= len(o.items)
	progressNote := o.progressLocked()
	o.mu.Unlock()

	status := "present"
	if fetched {
		status = "downloaded"
	}

	o.opts.Telemetry.RecordArtifact(status, item.Size)
	o.opts.Telemetry.SetOverallProgress(overall)

	logger.InfoContext(ctx, "artifact ready", "status", status, "overall", humanize.FtoaWithDigits(overall*100, 2))

	if last {
		o.finishAll(ctx)

		return true, nil
	}

	o.notify(ctx, notifier.ProgressMessage(o.opts.AppName, progressNote))

	return false, nil
}

// Run drives the orchestrator until every artifact is in place or ctx is
// done. After a failure it waits for Retry. It holds the staging lock for
// its whole lifetime.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := o.opts.Staging.Lock(); err != nil {
		return err
	}

	defer func() {
		if err := o.opts.Staging.Unlock(); err != nil {
			logger.WarnContext(ctx, "failed to release staging lock", "err", err)
		}
	}()

	if _, err := cleanup.RemoveLeftovers(ctx, o.destinationDirs()); err != nil {
		logger.WarnContext(ctx, "failed to remove leftovers", "err", err)
	}

	if err := o.Prepare(ctx); err != nil {
		return fmt.Errorf("failed to prepare: %w", err)
	}

	for {
		done, err := o.Advance(ctx)
		if done {
			return nil
		}

		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.InfoContext(ctx, "waiting for retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.retry:
		}
	}
}

// Retry clears a failure so the current artifact is attempted again. The
// index, baseline and probed sizes are kept. It returns false, doing
// nothing, when the orchestrator is not failed.
func (o *Orchestrator) Retry() bool {
	o.mu.Lock()
	if o.state != StateFailed {
		o.mu.Unlock()

		return false
	}

	o.err = nil
	o.state = StateInProgress
	o.mu.Unlock()

	o.opts.Telemetry.RecordRetry()

	select {
	case o.retry <- struct{}{}:
	default:
	}

	return true
}

// Snapshot returns the current progress.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		State:               o.state,
		CurrentFileName:     o.fileName,
		CurrentIndex:        o.current,
		ItemCount:           len(o.items),
		CurrentItemFraction: o.agg.CurrentFraction(),
		CurrentItemBytes:    o.agg.CurrentBytes(),
		DownloadedBytes:     o.agg.CompletedBytes(),
		TotalBytes:          o.agg.TotalBytes(),
		OverallFraction:     o.agg.Overall(),
		IsAllDownloaded:     o.allDone,
		IsChecking:          o.checking,
	}

	if o.err != nil {
		s.Error = o.err.Error()
	}

	return s
}

// Err returns the error that failed the current artifact, if any.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.err
}

// Done is closed once every artifact is in place.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// acquire runs the per-item steps up to post-processing. It reports
// whether the artifact was transferred rather than found in place.
func (o *Orchestrator) acquire(ctx context.Context, item manifest.Descriptor) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)
	dest := item.Path()

	present, err := regularFileExists(dest)
	if err != nil {
		return false, &transfer.FilesystemError{Op: "stat", Path: dest, Err: err}
	}

	if present {
		logger.InfoContext(ctx, "artifact already in place, skipping transfer", "path", dest)
	} else {
		if err := o.fetch(ctx, item, dest); err != nil {
			return false, err
		}
	}

	if item.IsArchive() && o.opts.PostProcessor != nil {
		if err := o.opts.PostProcessor.Process(ctx, dest); err != nil {
			var ppErr *transfer.PostProcessError
			if !errors.As(err, &ppErr) {
				err = &transfer.PostProcessError{Archive: dest, Stage: "process", Err: err}
			}

			return !present, err
		}
	}

	return !present, nil
}

// fetch streams the artifact into staging and moves it to dest.
func (o *Orchestrator) fetch(ctx context.Context, item manifest.Descriptor, dest string) error {
	if err := o.opts.Staging.Reset(); err != nil {
		return err
	}

	staged := o.opts.Staging.Path(item.FileName)

	err := o.opts.Telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		return o.download(ctx, item, staged)
	})
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &transfer.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	if err := moveFile(staged, dest); err != nil {
		return err
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "downloaded and placed artifact", "target", dest)

	return nil
}

func (o *Orchestrator) download(ctx context.Context, item manifest.Descriptor, staged string) error {
	logger := logctx.LoggerFromContext(ctx)

	stream, err := o.opts.Source.Open(ctx, item.SourceURI)
	if err != nil {
		var netErr *transfer.NetworkError
		if !errors.As(err, &netErr) {
			err = &transfer.NetworkError{Operation: "open", APIMessage: err.Error(), Err: err}
		}

		return err
	}
	defer stream.Body.Close()

	expected := stream.Size
	if expected <= 0 {
		expected = item.Size
	}

	logger.InfoContext(ctx, "downloading artifact", "source", item.SourceURI, "size", humanize.Bytes(uint64(max(expected, 0))))

	out, err := os.Create(staged)
	if err != nil {
		return &transfer.FilesystemError{Op: "create", Path: staged, Err: err}
	}

	pr := progress.NewReader(stream.Body, expected, o.opts.ProgressInterval, func(written, total int64) {
		o.onProgress(ctx, written, total)
	})

	if _, err := io.Copy(out, pr); err != nil {
		out.Close()

		return &transfer.NetworkError{Operation: "transfer", APIMessage: err.Error(), Err: err}
	}

	if err := out.Close(); err != nil {
		return &transfer.FilesystemError{Op: "write", Path: staged, Err: err}
	}

	if stream.Size > 0 && pr.Written() != stream.Size {
		return &transfer.NetworkError{
			Operation:  "transfer",
			APIMessage: fmt.Sprintf("short transfer: got %d of %d bytes", pr.Written(), stream.Size),
			Err:        io.ErrUnexpectedEOF,
		}
	}

	return nil
}

func (o *Orchestrator) onProgress(ctx context.Context, written, total int64) {
	o.mu.Lock()
	overall := o.agg.Update(written, total)
	note := o.progressLocked()
	o.mu.Unlock()

	o.opts.Telemetry.SetOverallProgress(overall)

	if total > 0 {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "download progress",
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(total)),
			"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
	}

	o.notify(ctx, notifier.ProgressMessage(o.opts.AppName, note))
}

// progressLocked captures notification figures. o.mu must be held.
func (o *Orchestrator) progressLocked() notifier.Progress {
	return notifier.Progress{
		Bytes:      o.agg.CompletedBytes() + o.agg.CurrentBytes(),
		TotalBytes: o.agg.TotalBytes(),
		Items:      o.agg.CompletedItems(),
		ItemCount:  o.agg.ItemCount(),
		Fraction:   o.agg.Overall(),
	}
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	logger := logctx.LoggerFromContext(ctx)

	o.mu.Lock()
	o.state = StateFailed
	o.err = err
	o.mu.Unlock()

	if o.opts.OnError != nil {
		o.opts.OnError(err)
	}

	// Shutdown interrupts the transfer; users are not notified about it.
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "transfer interrupted", "err", err)

		return
	}

	logger.ErrorContext(ctx, "failed to acquire artifact", "err", err)

	o.opts.Telemetry.RecordArtifact("failed", 0)
	o.opts.Telemetry.RecordSystemError("downloader", errorType(err))

	o.notify(ctx, notifier.FailedMessage())
}

func (o *Orchestrator) finishAll(ctx context.Context) {
	o.finishOnce.Do(func() {
		o.mu.Lock()
		o.agg.Finish()
		o.allDone = true
		o.state = StateCompleted
		o.fileName = ""
		o.current = len(o.items)
		o.mu.Unlock()

		o.opts.Telemetry.SetOverallProgress(1)
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "all artifacts in place", "count", len(o.items))

		o.notify(ctx, notifier.CompletedMessage(o.opts.AppName))

		if o.opts.OnAllFinished != nil {
			o.opts.OnAllFinished()
		}

		close(o.done)
	})
}

func (o *Orchestrator) notify(ctx context.Context, msg notifier.Message) {
	if o.opts.Notifier == nil {
		return
	}

	if err := o.opts.Notifier.Notify(ctx, msg); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to send notification", "kind", msg.Kind, "err", err)
	}
}

func (o *Orchestrator) destinationDirs() []string {
	seen := make(map[string]bool)

	var dirs []string

	for _, item := range o.items {
		dir := filepath.Clean(item.DestinationDir)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	return dirs
}

func errorType(err error) string {
	var (
		netErr  *transfer.NetworkError
		fsErr   *transfer.FilesystemError
		postErr *transfer.PostProcessError
	)

	switch {
	case errors.As(err, &postErr):
		return "post_process"
	case errors.As(err, &fsErr):
		return "filesystem"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "unknown"
	}
}
