package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/italolelis/artifactd/internal/cleanup"
	"github.com/italolelis/artifactd/internal/transfer"
)

const (
	dirPerm = 0755
)

// ErrStagingLocked is returned when another process owns the staging directory.
var ErrStagingLocked = errors.New("staging directory is locked by another process")

// Staging is the single temporary directory transfers are written to. It is
// cleared before every attempt and guarded by a lock file next to it.
type Staging struct {
	dir  string
	lock *flock.Flock
}

func NewStaging(dir string) *Staging {
	dir = filepath.Clean(dir)

	return &Staging{
		dir:  dir,
		lock: flock.New(dir + ".lock"),
	}
}

func (s *Staging) Dir() string { return s.dir }

// Lock takes the inter-process lock without waiting.
func (s *Staging) Lock() error {
	if err := os.MkdirAll(filepath.Dir(s.dir), dirPerm); err != nil {
		return &transfer.FilesystemError{Op: "mkdir", Path: filepath.Dir(s.dir), Err: err}
	}

	ok, err := s.lock.TryLock()
	if err != nil {
		return &transfer.FilesystemError{Op: "lock", Path: s.lock.Path(), Err: err}
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrStagingLocked, s.lock.Path())
	}

	return nil
}

func (s *Staging) Unlock() error {
	return s.lock.Unlock()
}

// Reset removes everything in the staging directory and recreates it.
func (s *Staging) Reset() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return &transfer.FilesystemError{Op: "clear staging", Path: s.dir, Err: err}
	}

	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return &transfer.FilesystemError{Op: "mkdir", Path: s.dir, Err: err}
	}

	return nil
}

// Path returns where a transfer of fileName is staged.
func (s *Staging) Path(fileName string) string {
	return filepath.Join(s.dir, fileName)
}

// moveFile places src at dst with a rename. Across filesystems it copies
// into a hidden file next to dst and renames that, so dst never holds a
// partial file.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if !errors.Is(err, syscall.EXDEV) {
		return &transfer.FilesystemError{Op: "move", Path: dst, Err: err}
	}

	if err := copyThenRename(src, dst); err != nil {
		return &transfer.FilesystemError{Op: "move", Path: dst, Err: err}
	}

	_ = os.Remove(src)

	return nil
}

func copyThenRename(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), cleanup.TempFilePrefix+"*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return err
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)

		return err
	}

	return nil
}
