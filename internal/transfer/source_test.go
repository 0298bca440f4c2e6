package transfer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/italolelis/artifactd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	size   int64
	body   string
	err    error
	probes []string
	opens  []string
}

func (s *stubSource) Probe(_ context.Context, uri string) (int64, error) {
	s.probes = append(s.probes, uri)

	return s.size, s.err
}

func (s *stubSource) Open(_ context.Context, uri string) (*Stream, error) {
	s.opens = append(s.opens, uri)
	if s.err != nil {
		return nil, s.err
	}

	return &Stream{Body: io.NopCloser(strings.NewReader(s.body)), Size: int64(len(s.body))}, nil
}

func TestScheme(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"https://example.com/a.bin", "https"},
		{"HTTP://example.com/a.bin", "http"},
		{"file:///srv/a.bin", "file"},
		{"s3://bucket/key", "s3"},
		{"no-scheme", ""},
		{"://bad", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Scheme(tt.uri), tt.uri)
	}
}

func TestMuxRoutesByScheme(t *testing.T) {
	web := &stubSource{size: 10, body: "web"}
	disk := &stubSource{size: 20, body: "disk"}

	m := NewMux()
	m.Handle(web, "http", "HTTPS")
	m.Handle(disk, "file")

	size, err := m.Probe(context.Background(), "https://example.com/a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	stream, err := m.Open(context.Background(), "file:///srv/b.bin")
	require.NoError(t, err)

	defer stream.Body.Close()

	b, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "disk", string(b))

	assert.Equal(t, []string{"https://example.com/a.bin"}, web.probes)
	assert.Equal(t, []string{"file:///srv/b.bin"}, disk.opens)
}

func TestMuxUnknownScheme(t *testing.T) {
	m := NewMux()

	size, err := m.Probe(context.Background(), "ftp://example.com/a.bin")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, int64(-1), size)

	_, err = m.Open(context.Background(), "ftp://example.com/a.bin")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestInstrumentedSourceDelegates(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubSource{size: 42, body: "x"}

	src := NewInstrumentedSource(stub, nil)

	size, err := src.Probe(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, int64(42), size)

	stream, err := src.Open(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.NoError(t, stream.Body.Close())

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	stub.err = boom
	src = NewInstrumentedSource(stub, tel)

	_, err = src.Probe(context.Background(), "https://example.com/a")
	require.ErrorIs(t, err, boom)
}
