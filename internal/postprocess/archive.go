// Package postprocess turns downloaded archives into usable assets: it
// extracts them next to the archive and rebuilds the derived asset index.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gabriel-vasile/mimetype"
	"github.com/italolelis/artifactd/internal/cleanup"
	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/storage"
	"github.com/italolelis/artifactd/internal/telemetry"
	"github.com/italolelis/artifactd/internal/transfer"
	"github.com/klauspost/compress/zip"
)

const (
	dirPerm       = 0o755
	partialSuffix = cleanup.PartialDirSuffix
)

// imageTypes maps indexed extensions to the MIME type used when content
// sniffing is inconclusive.
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Archive extracts zip archives and indexes the images they contain.
type Archive struct {
	assets    storage.AssetRepository
	telemetry *telemetry.Telemetry
}

func NewArchive(assets storage.AssetRepository, tel *telemetry.Telemetry) *Archive {
	return &Archive{assets: assets, telemetry: tel}
}

// ExtractDir returns the sibling directory an archive extracts into: the
// archive path without its extension.
func ExtractDir(archivePath string) string {
	return manifest.ExtractDir(archivePath)
}

// Process extracts archivePath and replaces its stored index. Running it
// again on the same archive yields the same directory and index.
func (a *Archive) Process(ctx context.Context, archivePath string) error {
	return a.telemetry.InstrumentPostProcess(ctx, func(ctx context.Context) error {
		return a.process(ctx, archivePath)
	})
}

func (a *Archive) process(ctx context.Context, archivePath string) error {
	logger := logctx.LoggerFromContext(ctx).With("archive", archivePath)

	dir := ExtractDir(archivePath)
	partial := dir + partialSuffix

	// Only a previous extraction may be replaced, never a regular file.
	if err := checkReplaceable(dir); err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: err}
	}

	if err := os.RemoveAll(partial); err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: err}
	}

	n, err := extract(archivePath, partial)
	if err != nil {
		_ = os.RemoveAll(partial)

		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: err}
	}

	if err := os.RemoveAll(dir); err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: err}
	}

	if err := os.Rename(partial, dir); err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "extract", Err: err}
	}

	logger.InfoContext(ctx, "archive extracted", "dir", dir, "entries", n)

	assets, err := BuildIndex(archivePath, dir)
	if err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "index", Err: err}
	}

	if err := a.assets.ReplaceAssets(ctx, archivePath, assets); err != nil {
		return &transfer.PostProcessError{Archive: archivePath, Stage: "index", Err: err}
	}

	logger.InfoContext(ctx, "asset index rebuilt", "assets", len(assets))

	return nil
}

func checkReplaceable(dir string) error {
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}

	return nil
}

// Processed reports whether archivePath was extracted and indexed.
func (a *Archive) Processed(ctx context.Context, archivePath string) (bool, error) {
	info, err := os.Stat(ExtractDir(archivePath))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !info.IsDir() {
		return false, nil
	}

	return a.assets.HasIndex(ctx, archivePath)
}

// BuildIndex walks an extracted directory and returns one record per image,
// keyed by base name. Walk order is lexical, so on duplicate names the
// last path wins.
func BuildIndex(archivePath, dir string) ([]storage.AssetRecord, error) {
	var assets []storage.AssetRecord

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		fallback, ok := imageTypes[strings.ToLower(filepath.Ext(p))]
		if !ok {
			return nil
		}

		assets = append(assets, storage.AssetRecord{
			Name:     d.Name(),
			Path:     p,
			MimeType: detectImageType(p, fallback),
			Archive:  archivePath,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return assets, nil
}

func detectImageType(p, fallback string) string {
	m, err := mimetype.DetectFile(p)
	if err != nil || !strings.HasPrefix(m.String(), "image/") {
		return fallback
	}

	return m.String()
}

// extract unpacks every entry of the zip at src below dst and returns the
// number of files written.
func extract(src, dst string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return 0, err
	}

	files := 0

	for _, f := range r.File {
		target, err := entryPath(dst, f.Name)
		if err != nil {
			return files, fmt.Errorf("entry %q: %w", f.Name, err)
		}

		mode := f.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return files, err
			}
		case mode.IsRegular():
			if err := writeEntry(f, target); err != nil {
				return files, fmt.Errorf("entry %q: %w", f.Name, err)
			}

			files++
		default:
			// Symlinks and devices are not extracted.
			continue
		}
	}

	return files, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}

// entryPath resolves an archive entry name below root. Names that try to
// leave root are rejected rather than cleaned.
func entryPath(root, name string) (string, error) {
	if strings.Contains(name, ":") {
		return "", errors.New("path contains ':', which is illegal")
	}

	name = strings.ReplaceAll(name, "\\", "/")

	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", errors.New("path contains '..', which is illegal")
		}
	}

	if path.IsAbs(name) {
		return "", errors.New("path is absolute, which is illegal")
	}

	return securejoin.SecureJoin(root, name)
}
