package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/artifactd/internal/storage"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

// TrackDownload appends a record of a completed artifact.
func (r *DownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	if rec.DownloadedAt.IsZero() {
		rec.DownloadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (run_id, file_name, path, source_uri, bytes, downloaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.FileName, rec.Path, rec.SourceURI, rec.Bytes, rec.DownloadedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to track download: %w", err)
	}

	return nil
}

// GetDownloads returns all tracked downloads, oldest first.
func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, file_name, path, source_uri, bytes, downloaded_at FROM downloads ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var (
			record       storage.DownloadRecord
			downloadedAt string
		)

		if err := rows.Scan(&record.RunID, &record.FileName, &record.Path, &record.SourceURI, &record.Bytes, &downloadedAt); err != nil {
			return nil, err
		}

		record.DownloadedAt, err = time.Parse(time.RFC3339, downloadedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse downloaded_at %q: %w", downloadedAt, err)
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}
