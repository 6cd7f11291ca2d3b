package persistence

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, tc := range []struct {
		backend, file string
	}{
		{BackendJSON, "archives.json"},
		{BackendSQLite, "archives.db"},
	} {
		store, closeFn, err := Open(tc.backend, filepath.Join(dir, tc.file))
		if err != nil {
			t.Fatalf("open %s: %v", tc.backend, err)
		}
		records, err := store.LoadAll(context.Background())
		if err != nil || len(records) != 0 {
			t.Fatalf("%s: load = %v, %v", tc.backend, records, err)
		}
		if err := closeFn(); err != nil {
			t.Fatalf("%s: close: %v", tc.backend, err)
		}
	}
	if _, _, err := Open("mongo", filepath.Join(dir, "x")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
