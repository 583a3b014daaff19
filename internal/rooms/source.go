package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrFacilityNotFound = errors.New("facility not found")

// Source loads the room dataset of a facility. The result is a snapshot; sources never
// mutate a dataset after returning it.
type Source interface {
	Load(ctx context.Context, facility string) (*Dataset, error)
}

// datasetFile is the on-disk shape shared by YAML and JSON dataset files.
type datasetFile struct {
	Rooms []Record `json:"rooms" yaml:"rooms"`
}

// LoadFile reads a dataset from a .yaml, .yml or .json file.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset file %s: %w", path, err)
	}
	var file datasetFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dataset file %s: %w", path, err)
	}
	ds, err := FromRecords(file.Rooms)
	if err != nil {
		return nil, fmt.Errorf("dataset file %s: %w", path, err)
	}
	return ds, nil
}

// FileSource reads <Dir>/<facility>.yaml (or .yml, .json).
type FileSource struct {
	Dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

var fileExtensions = []string{".yaml", ".yml", ".json"}

func (s *FileSource) Load(_ context.Context, facility string) (*Dataset, error) {
	if facility == "" || filepath.Base(facility) != facility || strings.HasPrefix(facility, ".") {
		return nil, fmt.Errorf("%w: %q", ErrFacilityNotFound, facility)
	}
	for _, ext := range fileExtensions {
		path := filepath.Join(s.Dir, facility+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFile(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrFacilityNotFound, facility)
}
