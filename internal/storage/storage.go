package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// DownloadRecord represents an artifact placed at its destination.
type DownloadRecord struct {
	RunID        string
	FileName     string
	Path         string
	SourceURI    string
	Bytes        int64
	DownloadedAt time.Time
}

// AssetRecord is one entry of the derived name to asset index built from an
// extracted archive.
type AssetRecord struct {
	Name     string
	Path     string
	MimeType string
	Archive  string
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	TrackDownload(ctx context.Context, rec DownloadRecord) error
}

// AssetRepository stores the asset index. ReplaceAssets swaps the whole
// index of one archive, so rebuilding it never duplicates entries.
type AssetRepository interface {
	ReplaceAssets(ctx context.Context, archive string, assets []AssetRecord) error
	HasIndex(ctx context.Context, archive string) (bool, error)
	LookupAsset(ctx context.Context, name string) (AssetRecord, error)
	ListAssets(ctx context.Context, archive string) ([]AssetRecord, error)
}
