package downloader

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/italolelis/artifactd/internal/logctx"
	"github.com/italolelis/artifactd/internal/manifest"
)

// PostProcessor finishes archives after they are placed.
type PostProcessor interface {
	Process(ctx context.Context, archivePath string) error
	Processed(ctx context.Context, archivePath string) (bool, error)
}

// ScanResult is the outcome of one existence scan.
type ScanResult struct {
	// Present holds, per item, whether it is fully in place.
	Present []bool
	// ResumeIndex is the index of the first absent item, or len(Present)
	// when every item is present.
	ResumeIndex int
}

// AllPresent reports whether nothing needs to be fetched.
func (r ScanResult) AllPresent() bool {
	return r.ResumeIndex == len(r.Present)
}

// Checker decides which artifacts are already in place.
type Checker struct {
	post PostProcessor
}

func NewChecker(post PostProcessor) *Checker {
	return &Checker{post: post}
}

// Scan evaluates every item, so the result also reports items present
// after the first gap.
func (c *Checker) Scan(ctx context.Context, items []manifest.Descriptor) ScanResult {
	logger := logctx.LoggerFromContext(ctx)

	res := ScanResult{Present: make([]bool, len(items)), ResumeIndex: len(items)}

	for i, item := range items {
		present, err := c.Present(ctx, item)
		if err != nil {
			logger.WarnContext(ctx, "existence check failed, treating as absent", "file_name", item.FileName, "err", err)
		}

		res.Present[i] = present

		if !present && res.ResumeIndex == len(items) {
			res.ResumeIndex = i
		}
	}

	return res
}

// Present reports whether the item's destination file exists and, for
// archives, whether it has been post-processed.
func (c *Checker) Present(ctx context.Context, item manifest.Descriptor) (bool, error) {
	ok, err := regularFileExists(item.Path())
	if err != nil || !ok {
		return false, err
	}

	if !item.IsArchive() || c.post == nil {
		return true, nil
	}

	return c.post.Processed(ctx, item.Path())
}

func regularFileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return info.Mode().IsRegular(), nil
}
