package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File replays observation tuples gathered by an external collector. JSON
// (array) and YAML (list) files are accepted.
type File struct {
	path string
	name SourceType
}

// NewFile creates a file-backed source.
func NewFile(path string) *File {
	return &File{path: path, name: "file"}
}

func (f *File) Name() SourceType { return f.name }

// Collect ignores keywords; the file decides what was observed.
func (f *File) Collect(_ context.Context, _ []Keyword) ([]RawObservation, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, Permanent(fmt.Errorf("read observations %s: %w", f.path, err))
	}
	return DecodeObservations(data, filepath.Ext(f.path))
}

// DecodeObservations parses a batch of raw tuples. ext selects the format;
// anything other than .yaml/.yml is treated as JSON.
func DecodeObservations(data []byte, ext string) ([]RawObservation, error) {
	var out []RawObservation
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, Permanent(fmt.Errorf("parse observations: %w", err))
		}
	default:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, Permanent(fmt.Errorf("parse observations: %w", err))
		}
	}
	return out, nil
}
