// Package manifest describes the ordered set of remote artifacts that must be
// present on local storage, and loads it from a YAML file.
package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrEmpty is returned when a manifest has no artifacts.
var ErrEmpty = errors.New("manifest: no artifacts")

// Descriptor identifies one artifact to acquire.
type Descriptor struct {
	SourceURI      string `validate:"required,uri"`
	DestinationDir string `validate:"required"`
	FileName       string `validate:"required,artifactname"`

	// OnFinished, when set, runs once the artifact is in place and
	// post-processed.
	OnFinished func()

	// Size is the probed length in bytes; zero means unknown.
	Size int64
}

// Path is the final location of the artifact.
func (d Descriptor) Path() string {
	return filepath.Join(d.DestinationDir, d.FileName)
}

// IsArchive reports whether the artifact is a zip bundle that needs unpacking.
func (d Descriptor) IsArchive() bool {
	return strings.EqualFold(filepath.Ext(d.FileName), ".zip")
}

// ExtractDir is where an archive unpacks to: its path without the extension.
// It is empty for artifacts that are not archives.
func (d Descriptor) ExtractDir() string {
	if !d.IsArchive() {
		return ""
	}

	return ExtractDir(d.Path())
}

// ExtractDir strips the extension from an archive path.
func ExtractDir(archivePath string) string {
	return strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
}

// Manifest is an ordered, immutable list of descriptors. Order is the
// acquisition order.
type Manifest struct {
	items []Descriptor
}

// New validates the descriptors and builds a manifest from them.
func New(items ...Descriptor) (*Manifest, error) {
	if len(items) == 0 {
		return nil, ErrEmpty
	}

	seen := make(map[string]int, len(items))

	for i, d := range items {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("artifact %d (%s): %w", i, d.FileName, err)
		}

		p := filepath.Clean(d.Path())
		if prev, ok := seen[p]; ok {
			return nil, fmt.Errorf("artifacts %d and %d share destination %s", prev, i, p)
		}

		seen[p] = i
	}

	// An extraction directory replaces whatever sits at its path, so it
	// must not collide with any artifact or with another archive's.
	for i, d := range items {
		if !d.IsArchive() {
			continue
		}

		dir := filepath.Clean(d.ExtractDir())
		if prev, ok := seen[dir]; ok {
			return nil, fmt.Errorf("artifact %d extracts onto the destination of artifact %d: %s", i, prev, dir)
		}

		seen[dir] = i
	}

	cp := make([]Descriptor, len(items))
	copy(cp, items)

	return &Manifest{items: cp}, nil
}

// Len returns the number of artifacts.
func (m *Manifest) Len() int {
	return len(m.items)
}

// At returns the descriptor at index i.
func (m *Manifest) At(i int) Descriptor {
	return m.items[i]
}

// Items returns a copy of the descriptors in acquisition order.
func (m *Manifest) Items() []Descriptor {
	cp := make([]Descriptor, len(m.items))
	copy(cp, m.items)

	return cp
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("artifactname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()

		return name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
	})

	return v
}
