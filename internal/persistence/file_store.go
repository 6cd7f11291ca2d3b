package persistence

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed archives.schema.json
var archivesSchema []byte

const schemaResource = "archives.schema.json"

// FileStore persists the collection as one pretty-printed JSON array.
type FileStore struct {
	path   string
	schema *jsonschema.Schema
}

// NewFileStore prepares a store at path. The file itself is created on the first save.
func NewFileStore(path string) (*FileStore, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(archivesSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal archives schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile archives schema: %w", err)
	}
	return &FileStore{path: path, schema: schema}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// LoadAll returns an empty collection when the file does not exist yet.
func (s *FileStore) LoadAll(ctx context.Context) ([]ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []ArchiveRecord{}, nil
		}
		return nil, fmt.Errorf("read archives: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []ArchiveRecord{}, nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var records []ArchiveRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode archives: %w", err)
	}
	if records == nil {
		records = []ArchiveRecord{}
	}
	return records, nil
}

// SaveAll replaces the file atomically: readers see either the old or the new document.
func (s *FileStore) SaveAll(ctx context.Context, records []ArchiveRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(records); err != nil {
		return err
	}
	if records == nil {
		records = []ArchiveRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archives: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archives dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".archives-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename archives file: %w", err)
	}
	return nil
}
