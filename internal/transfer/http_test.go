package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArtifactServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artifactd-test", r.Header.Get("User-Agent"))

		switch r.URL.Path {
		case "/artifact.bin":
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))

			if r.Method == http.MethodHead {
				return
			}

			_, _ = io.WriteString(w, body)
		case "/chunked.bin":
			w.(http.Flusher).Flush()
			_, _ = io.WriteString(w, body)
		default:
			http.Error(w, "no such artifact", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestHTTPSourceProbe(t *testing.T) {
	srv := newArtifactServer(t, "0123456789")
	src := NewHTTPSource(HTTPOptions{UserAgent: "artifactd-test"})

	size, err := src.Probe(context.Background(), srv.URL+"/artifact.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestHTTPSourceProbeNotFound(t *testing.T) {
	srv := newArtifactServer(t, "")
	src := NewHTTPSource(HTTPOptions{UserAgent: "artifactd-test"})

	size, err := src.Probe(context.Background(), srv.URL+"/missing.bin")
	require.Error(t, err)
	assert.Equal(t, int64(-1), size)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Equal(t, "probe", netErr.Operation)
}

func TestHTTPSourceOpen(t *testing.T) {
	srv := newArtifactServer(t, "payload")
	src := NewHTTPSource(HTTPOptions{UserAgent: "artifactd-test"})

	stream, err := src.Open(context.Background(), srv.URL+"/artifact.bin")
	require.NoError(t, err)

	defer stream.Body.Close()

	assert.Equal(t, int64(7), stream.Size)

	b, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}

func TestHTTPSourceOpenUnknownLength(t *testing.T) {
	srv := newArtifactServer(t, "streamed")
	src := NewHTTPSource(HTTPOptions{UserAgent: "artifactd-test"})

	stream, err := src.Open(context.Background(), srv.URL+"/chunked.bin")
	require.NoError(t, err)

	defer stream.Body.Close()

	assert.Equal(t, int64(-1), stream.Size)
}

func TestHTTPSourceOpenErrorIncludesBody(t *testing.T) {
	srv := newArtifactServer(t, "")
	src := NewHTTPSource(HTTPOptions{UserAgent: "artifactd-test"})

	_, err := src.Open(context.Background(), srv.URL+"/missing.bin")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.Contains(t, netErr.APIMessage, "no such artifact")
}

func TestHTTPSourceCanceledContext(t *testing.T) {
	srv := newArtifactServer(t, "payload")
	src := NewHTTPSourceWithClient(srv.Client(), "artifactd-test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Open(ctx, srv.URL+"/artifact.bin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
