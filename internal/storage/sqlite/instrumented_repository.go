package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/artifactd/internal/storage"
	"github.com/italolelis/artifactd/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, rec)
	})
}

func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx)

		return err
	})

	return result, err
}

// InstrumentedAssetRepository wraps AssetRepository with telemetry.
type InstrumentedAssetRepository struct {
	repo      *AssetRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAssetRepository creates a new instrumented asset repository.
func NewInstrumentedAssetRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedAssetRepository {
	return &InstrumentedAssetRepository{
		repo:      NewAssetRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedAssetRepository) ReplaceAssets(ctx context.Context, archive string, assets []storage.AssetRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "replace_assets", func(ctx context.Context) error {
		return r.repo.ReplaceAssets(ctx, archive, assets)
	})
}

func (r *InstrumentedAssetRepository) HasIndex(ctx context.Context, archive string) (bool, error) {
	var ok bool

	err := r.telemetry.InstrumentDBOperation(ctx, "has_index", func(ctx context.Context) error {
		var err error
		ok, err = r.repo.HasIndex(ctx, archive)

		return err
	})

	return ok, err
}

func (r *InstrumentedAssetRepository) LookupAsset(ctx context.Context, name string) (storage.AssetRecord, error) {
	var a storage.AssetRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "lookup_asset", func(ctx context.Context) error {
		var err error
		a, err = r.repo.LookupAsset(ctx, name)

		return err
	})

	return a, err
}

func (r *InstrumentedAssetRepository) ListAssets(ctx context.Context, archive string) ([]storage.AssetRecord, error) {
	var result []storage.AssetRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_assets", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListAssets(ctx, archive)

		return err
	})

	return result, err
}
