package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/artifactd/internal/storage"
)

// AssetRepository persists the derived asset index per archive.
type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(dbConn *sql.DB) *AssetRepository {
	return &AssetRepository{db: dbConn}
}

// ReplaceAssets drops the stored index of archive and writes assets in its
// place, in a single transaction. Later entries win on duplicate names.
func (r *AssetRepository) ReplaceAssets(ctx context.Context, archive string, assets []storage.AssetRecord) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM assets WHERE archive = ?`, archive); err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO archives (path, asset_count, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET asset_count = excluded.asset_count, indexed_at = excluded.indexed_at`,
		archive, len(assets), time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record archive: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assets (archive, name, path, mime_type) VALUES (?, ?, ?, ?)
		ON CONFLICT(archive, name) DO UPDATE SET path = excluded.path, mime_type = excluded.mime_type`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		if _, err = stmt.ExecContext(ctx, archive, a.Name, a.Path, a.MimeType); err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", a.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assets: %w", err)
	}

	return nil
}

// HasIndex reports whether an index was ever written for archive.
func (r *AssetRepository) HasIndex(ctx context.Context, archive string) (bool, error) {
	var n int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM archives WHERE path = ?`, archive).Scan(&n)
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// LookupAsset returns the most recently indexed asset with the given name.
func (r *AssetRepository) LookupAsset(ctx context.Context, name string) (storage.AssetRecord, error) {
	var a storage.AssetRecord

	err := r.db.QueryRowContext(ctx,
		`SELECT archive, name, path, mime_type FROM assets WHERE name = ? ORDER BY id DESC LIMIT 1`, name,
	).Scan(&a.Archive, &a.Name, &a.Path, &a.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.AssetRecord{}, storage.ErrNotFound
	}

	if err != nil {
		return storage.AssetRecord{}, err
	}

	return a, nil
}

// ListAssets returns the index of archive ordered by name.
func (r *AssetRepository) ListAssets(ctx context.Context, archive string) ([]storage.AssetRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT archive, name, path, mime_type FROM assets WHERE archive = ? ORDER BY name`, archive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []storage.AssetRecord

	for rows.Next() {
		var a storage.AssetRecord
		if err := rows.Scan(&a.Archive, &a.Name, &a.Path, &a.MimeType); err != nil {
			return nil, err
		}

		assets = append(assets, a)
	}

	return assets, rows.Err()
}
