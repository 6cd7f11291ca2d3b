package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "archives.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	records, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty collection, got %d", len(records))
	}
}

func TestFileStore_SaveWritesPrettyJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "archives.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	rec := sampleRecord("Steve", "42", time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), "block-examples")
	if err := s.SaveAll(context.Background(), []ArchiveRecord{rec}); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), "\n  {\n    \"name\": \"Steve\"") {
		t.Fatalf("expected two-space indented document, got:\n%s", raw)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestFileStore_RoundTripIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archives.json")
	original := `[
  {
    "name": "Alex",
    "authorId": "7",
    "categoryId": "c1",
    "forumChannelId": null,
    "channels": [{"id": "t1", "name": "misc-examples"}],
    "createdAt": "2024-05-01T10:00:00.000Z"
  }
]`
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !records[0].IsEnabled() || records[0].Enabled != nil {
		t.Fatalf("expected absent enabled flag to read as enabled and stay absent")
	}
	if err := s.SaveAll(ctx, records); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(records, again) {
		t.Fatalf("round trip changed records:\n%+v\n%+v", records, again)
	}

	raw, _ := os.ReadFile(path)
	var generic []map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := generic[0]["enabled"]; ok {
		t.Fatalf("enabled should not be materialized on save")
	}
}

func TestFileStore_RejectsSchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archives.json")
	if err := os.WriteFile(path, []byte(`[{"authorId": 5}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, err := s.LoadAll(context.Background()); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestFileStore_SaveRejectsDuplicateNames(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "archives.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	err = s.SaveAll(context.Background(), []ArchiveRecord{{Name: "a", AuthorID: "1"}, {Name: "A", AuthorID: "2"}})
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}
