package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerScan(t *testing.T) {
	dir := t.TempDir()

	items := []manifest.Descriptor{
		{SourceURI: "https://x/a", DestinationDir: dir, FileName: "a.bin"},
		{SourceURI: "https://x/b", DestinationDir: dir, FileName: "b.bin"},
		{SourceURI: "https://x/c", DestinationDir: dir, FileName: "c.bin"},
	}

	require.NoError(t, os.WriteFile(items[0].Path(), nil, 0o644))
	require.NoError(t, os.WriteFile(items[2].Path(), nil, 0o644))

	res := NewChecker(nil).Scan(context.Background(), items)

	assert.Equal(t, []bool{true, false, true}, res.Present)
	assert.Equal(t, 1, res.ResumeIndex)
	assert.False(t, res.AllPresent())
}

func TestCheckerDirectoryIsNotPresent(t *testing.T) {
	dir := t.TempDir()
	item := manifest.Descriptor{SourceURI: "https://x/a", DestinationDir: dir, FileName: "a.bin"}

	require.NoError(t, os.Mkdir(item.Path(), 0o755))

	ok, err := NewChecker(nil).Present(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckerArchiveNeedsProcessing(t *testing.T) {
	dir := t.TempDir()
	item := manifest.Descriptor{SourceURI: "https://x/i.zip", DestinationDir: dir, FileName: "Images.ZIP"}
	require.NoError(t, os.WriteFile(item.Path(), nil, 0o644))

	post := newFakePost()
	c := NewChecker(post)

	ok, err := c.Present(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, ok)

	post.processed[item.Path()] = true

	ok, err = c.Present(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, ok)

	res := c.Scan(context.Background(), []manifest.Descriptor{item})
	assert.True(t, res.AllPresent())
	assert.Equal(t, 1, res.ResumeIndex)
}

func TestProberDegradesToZero(t *testing.T) {
	src := newFakeSource()
	src.bodies["https://x/ok"] = "12345"
	src.bodies["https://x/fail"] = "123"
	src.failProbes["https://x/fail"] = true

	items := []manifest.Descriptor{
		{SourceURI: "https://x/ok", DestinationDir: "/d", FileName: "ok"},
		{SourceURI: "https://x/fail", DestinationDir: "/d", FileName: "fail"},
		{SourceURI: "https://x/empty", DestinationDir: "/d", FileName: "empty"},
	}

	sizes := NewProber(src, time.Second, nil).ProbeAll(context.Background(), items)

	assert.Equal(t, []int64{5, 0, 0}, sizes)
}

func TestProberStopsOnCanceledContext(t *testing.T) {
	src := newFakeSource()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sizes := NewProber(src, 0, nil).ProbeAll(ctx, []manifest.Descriptor{
		{SourceURI: "https://x/a", DestinationDir: "/d", FileName: "a"},
	})

	assert.Equal(t, []int64{0}, sizes)
	assert.Zero(t, src.probes())
}

func TestGenerateRunID(t *testing.T) {
	a, b := GenerateRunID(), GenerateRunID()

	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, filepath.Base(a))
}
