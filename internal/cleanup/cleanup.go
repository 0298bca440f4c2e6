package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/artifactd/internal/logctx"
)

const (
	// TempFilePrefix names the hidden files a cross-device move writes
	// before renaming them into place.
	TempFilePrefix = ".artifactd-"
	// PartialDirSuffix marks an archive extraction that has not been
	// swapped into place yet. It is specific to this tool so a real
	// directory named "x.partial" is never mistaken for a leftover.
	PartialDirSuffix = ".artifactd-partial"
)

// IsLeftover reports whether a directory entry was left behind by an
// interrupted move or extraction.
func IsLeftover(name string, isDir bool) bool {
	if isDir {
		return strings.HasSuffix(name, PartialDirSuffix)
	}

	return strings.HasPrefix(name, TempFilePrefix)
}

// RemoveLeftovers deletes interrupted temp files and partial extraction
// directories directly inside each of dirs. Missing directories are
// skipped. It returns the number of entries removed.
func RemoveLeftovers(ctx context.Context, dirs []string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	removed := 0

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.ErrorContext(ctx, "failed to read directory", "dir", dir, "err", err)

			return removed, err
		}

		for _, e := range entries {
			if !IsLeftover(e.Name(), e.IsDir()) {
				continue
			}

			p := filepath.Join(dir, e.Name())

			if err := os.RemoveAll(p); err != nil {
				logger.ErrorContext(ctx, "failed to remove leftover", "path", p, "err", err)

				return removed, err
			}

			logger.InfoContext(ctx, "removed leftover from interrupted run", "path", p)

			removed++
		}
	}

	return removed, nil
}
