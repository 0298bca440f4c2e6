package manifest

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type file struct {
	DestinationDir string  `yaml:"destination_dir"`
	Artifacts      []entry `yaml:"artifacts"`
}

type entry struct {
	Source         string `yaml:"source"`
	FileName       string `yaml:"file_name"`
	DestinationDir string `yaml:"destination_dir"`
}

// Load reads and validates a YAML manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	return m, nil
}

// Parse decodes a YAML manifest. Environment variables in destination
// directories are expanded; an artifact without its own destination_dir
// inherits the top-level one.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	items := make([]Descriptor, 0, len(f.Artifacts))

	for _, a := range f.Artifacts {
		dir := a.DestinationDir
		if dir == "" {
			dir = f.DestinationDir
		}

		items = append(items, Descriptor{
			SourceURI:      a.Source,
			DestinationDir: os.ExpandEnv(dir),
			FileName:       a.FileName,
		})
	}

	return New(items...)
}
