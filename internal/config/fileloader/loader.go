package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sourav19o7/ppe-detector-sub002/internal/config"
)

var _ config.Loader = (*FileLoader)(nil)

// FileLoader loads a gate policy from a YAML file on disk.
type FileLoader struct {
	// path is the filesystem path to the policy file.
	path string
}

// NewFileLoader creates a new FileLoader that will load the policy from the
// specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads and parses the policy file. Unknown keys are rejected so a
// misspelt item never silently drops a requirement.
func (l *FileLoader) Load(ctx context.Context) (*config.PolicyConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var pc config.PolicyConfig
	if err := dec.Decode(&pc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &pc, nil
}
