package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/artifactd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "artifactd.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifactd.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestDownloadRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDownloadRepository(newTestDB(t))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		RunID:        "run-1",
		FileName:     "model.gguf",
		Path:         "/models/model.gguf",
		SourceURI:    "https://example.com/model.gguf",
		Bytes:        1024,
		DownloadedAt: at,
	}))
	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		RunID:     "run-1",
		FileName:  "tokenizer.json",
		Path:      "/models/tokenizer.json",
		SourceURI: "https://example.com/tokenizer.json",
	}))

	got, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "model.gguf", got[0].FileName)
	assert.Equal(t, int64(1024), got[0].Bytes)
	assert.True(t, at.Equal(got[0].DownloadedAt))
	assert.Equal(t, "tokenizer.json", got[1].FileName)
	assert.False(t, got[1].DownloadedAt.IsZero())
}

func TestAssetRepositoryReplaceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t))

	assets := []storage.AssetRecord{
		{Name: "cat.png", Path: "/img/images/cat.png", MimeType: "image/png"},
		{Name: "dog.jpg", Path: "/img/images/dog.jpg", MimeType: "image/jpeg"},
	}

	has, err := repo.HasIndex(ctx, "/img/images.zip")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, repo.ReplaceAssets(ctx, "/img/images.zip", assets))

	first, err := repo.ListAssets(ctx, "/img/images.zip")
	require.NoError(t, err)

	require.NoError(t, repo.ReplaceAssets(ctx, "/img/images.zip", assets))

	second, err := repo.ListAssets(ctx, "/img/images.zip")
	require.NoError(t, err)

	assert.Len(t, second, 2)
	assert.Equal(t, first, second)

	has, err = repo.HasIndex(ctx, "/img/images.zip")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestAssetRepositoryReplaceDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t))

	require.NoError(t, repo.ReplaceAssets(ctx, "a.zip", []storage.AssetRecord{
		{Name: "old.png", Path: "/a/old.png", MimeType: "image/png"},
	}))
	require.NoError(t, repo.ReplaceAssets(ctx, "a.zip", []storage.AssetRecord{
		{Name: "new.png", Path: "/a/new.png", MimeType: "image/png"},
	}))

	_, err := repo.LookupAsset(ctx, "old.png")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := repo.LookupAsset(ctx, "new.png")
	require.NoError(t, err)
	assert.Equal(t, "a.zip", got.Archive)
	assert.Equal(t, "/a/new.png", got.Path)
}

func TestAssetRepositoryDuplicateNamesLastWins(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t))

	require.NoError(t, repo.ReplaceAssets(ctx, "a.zip", []storage.AssetRecord{
		{Name: "x.png", Path: "/a/one/x.png", MimeType: "image/png"},
		{Name: "x.png", Path: "/a/two/x.png", MimeType: "image/png"},
	}))

	got, err := repo.ListAssets(ctx, "a.zip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/a/two/x.png", got[0].Path)
}

func TestAssetRepositoryEmptyIndexStillRecorded(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t))

	require.NoError(t, repo.ReplaceAssets(ctx, "docs.zip", nil))

	has, err := repo.HasIndex(ctx, "docs.zip")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestInstrumentedRepositoriesWithoutTelemetry(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	downloads := NewInstrumentedDownloadRepository(db, nil)
	assets := NewInstrumentedAssetRepository(db, nil)

	require.NoError(t, downloads.TrackDownload(ctx, storage.DownloadRecord{RunID: "r", FileName: "f", Path: "/f", SourceURI: "file:///f"}))

	got, err := downloads.GetDownloads(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, assets.ReplaceAssets(ctx, "a.zip", []storage.AssetRecord{{Name: "a.gif", Path: "/a.gif", MimeType: "image/gif"}}))

	a, err := assets.LookupAsset(ctx, "a.gif")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", a.MimeType)

	_, err = assets.LookupAsset(ctx, "missing.gif")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
