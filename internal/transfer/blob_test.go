package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBlobURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "file uri",
			uri:        "file:///srv/models/a.bin",
			wantBucket: "file:///srv/models",
			wantKey:    "a.bin",
		},
		{
			name:       "file at root",
			uri:        "file:///a.bin",
			wantBucket: "file:///",
			wantKey:    "a.bin",
		},
		{
			name:       "bucket with nested key",
			uri:        "s3://assets/packs/v1/tiles.zip?region=eu-west-1",
			wantBucket: "s3://assets?region=eu-west-1",
			wantKey:    "packs/v1/tiles.zip",
		},
		{name: "file directory", uri: "file:///srv/models/", wantErr: true},
		{name: "missing key", uri: "s3://assets", wantErr: true},
		{name: "missing scheme", uri: "/srv/models/a.bin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := SplitBlobURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestBlobSourceFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.bin"), []byte("0123456789abcdef"), 0o644))

	src := NewBlobSource()
	uri := "file://" + filepath.ToSlash(dir) + "/weights.bin"

	size, err := src.Probe(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, int64(16), size)

	stream, err := src.Open(context.Background(), uri)
	require.NoError(t, err)

	b, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.NoError(t, stream.Body.Close())

	assert.Equal(t, "0123456789abcdef", string(b))
	assert.Equal(t, int64(16), stream.Size)
}

func TestBlobSourceMissingObject(t *testing.T) {
	dir := t.TempDir()
	src := NewBlobSource()

	_, err := src.Probe(context.Background(), "file://"+filepath.ToSlash(dir)+"/absent.bin")

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "probe", netErr.Operation)

	_, err = src.Open(context.Background(), "file://"+filepath.ToSlash(dir)+"/absent.bin")
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "open", netErr.Operation)
}
