package downloader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/notifier"
	"github.com/italolelis/artifactd/internal/transfer"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("503 service unavailable")

// fakeSource serves in-memory artifacts keyed by URI.
type fakeSource struct {
	mu sync.Mutex

	bodies     map[string]string
	hideSize   bool
	failOpens  map[string]int
	failProbes map[string]bool
	probeCalls []string
	openCalls  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bodies:     make(map[string]string),
		failOpens:  make(map[string]int),
		failProbes: make(map[string]bool),
	}
}

func (f *fakeSource) Probe(_ context.Context, uri string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.probeCalls = append(f.probeCalls, uri)

	if f.failProbes[uri] {
		return -1, errUnavailable
	}

	if f.hideSize {
		return -1, nil
	}

	return int64(len(f.bodies[uri])), nil
}

func (f *fakeSource) Open(_ context.Context, uri string) (*transfer.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openCalls = append(f.openCalls, uri)

	if f.failOpens[uri] > 0 {
		f.failOpens[uri]--

		return nil, &transfer.NetworkError{Operation: "open", StatusCode: 503, APIMessage: "unavailable", Err: errUnavailable}
	}

	body, ok := f.bodies[uri]
	if !ok {
		return nil, &transfer.NetworkError{Operation: "open", StatusCode: 404, APIMessage: "not found"}
	}

	size := int64(len(body))
	if f.hideSize {
		size = -1
	}

	return &transfer.Stream{Body: io.NopCloser(strings.NewReader(body)), Size: size}, nil
}

func (f *fakeSource) probes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.probeCalls)
}

func (f *fakeSource) opens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.openCalls...)
}

// fakePost records archive processing.
type fakePost struct {
	mu sync.Mutex

	processed map[string]bool
	failures  int
	calls     int
	checks    int
}

func newFakePost() *fakePost {
	return &fakePost{processed: make(map[string]bool)}
}

func (p *fakePost) Process(_ context.Context, archivePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	if p.failures > 0 {
		p.failures--

		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: errors.New("zip: not a valid zip file")}
	}

	p.processed[archivePath] = true

	return nil
}

func (p *fakePost) Processed(_ context.Context, archivePath string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checks++

	return p.processed[archivePath], nil
}

// recordingBridge keeps every notification.
type recordingBridge struct {
	mu   sync.Mutex
	msgs []notifier.Message
}

func (r *recordingBridge) Notify(_ context.Context, msg notifier.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, msg)

	return nil
}

func (r *recordingBridge) messages() []notifier.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]notifier.Message(nil), r.msgs...)
}

func (r *recordingBridge) count(kind notifier.Kind) int {
	n := 0

	for _, m := range r.messages() {
		if m.Kind == kind {
			n++
		}
	}

	return n
}

type fixture struct {
	dir     string
	source  *fakeSource
	post    *fakePost
	bridge  *recordingBridge
	items   []manifest.Descriptor
	hooks   []string
	hooksMu sync.Mutex
}

// newFixture builds one artifact per body, in order, named a0.bin, a1.bin...
// Names ending in .zip are kept as given.
func newFixture(t *testing.T, names []string, bodies []string) *fixture {
	t.Helper()

	f := &fixture{
		dir:    t.TempDir(),
		source: newFakeSource(),
		post:   newFakePost(),
		bridge: &recordingBridge{},
	}

	for i, name := range names {
		uri := "https://artifacts.example.com/" + name
		f.source.bodies[uri] = bodies[i]

		f.items = append(f.items, manifest.Descriptor{
			SourceURI:      uri,
			DestinationDir: filepath.Join(f.dir, "dest"),
			FileName:       name,
			OnFinished: func() {
				f.hooksMu.Lock()
				defer f.hooksMu.Unlock()

				f.hooks = append(f.hooks, name)
			},
		})
	}

	return f
}

func (f *fixture) place(t *testing.T, i int) {
	t.Helper()

	item := f.items[i]
	require.NoError(t, os.MkdirAll(item.DestinationDir, 0o755))
	require.NoError(t, os.WriteFile(item.Path(), []byte(f.source.bodies[item.SourceURI]), 0o644))
}

func (f *fixture) finishedHooks() []string {
	f.hooksMu.Lock()
	defer f.hooksMu.Unlock()

	return append([]string(nil), f.hooks...)
}

func (f *fixture) orchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()

	m, err := manifest.New(f.items...)
	require.NoError(t, err)

	if opts.Source == nil {
		opts.Source = f.source
	}

	if opts.Staging == nil {
		opts.Staging = NewStaging(filepath.Join(f.dir, "staging"))
	}

	if opts.PostProcessor == nil {
		opts.PostProcessor = f.post
	}

	if opts.Notifier == nil {
		opts.Notifier = f.bridge
	}

	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = 10
	}

	o, err := New(m, opts)
	require.NoError(t, err)

	return o
}
