package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/archivist/internal/shared"
)

func readAudit(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.RequestContext(context.Background(), "discord", "1001")
	Record(ctx, "archive.create", "Steve", OutcomeSuccess, "19 channels")
	Record(ctx, "archive.delete", "Alex", OutcomeDenied, "missing permissions")

	entries := readAudit(t, home)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	first := entries[0]
	if first["action"] != "archive.create" || first["subject"] != "Steve" || first["outcome"] != OutcomeSuccess {
		t.Fatalf("unexpected first entry: %#v", first)
	}
	if first["surface"] != "discord" || first["actor"] != "1001" {
		t.Fatalf("expected surface and actor from context: %#v", first)
	}
	if first["trace_id"] == "-" || first["trace_id"] == "" {
		t.Fatalf("expected trace id: %#v", first)
	}
	if DeniedCount() < 1 {
		t.Fatalf("expected denied count to increase")
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := context.Background()
	Record(ctx, "archive.toggle", "a", OutcomeSuccess, "")
	Record(ctx, "archive.toggle", "b", OutcomePartial, "1 of 19 channels failed")

	path := filepath.Join(home, "logs", "audit.jsonl")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}
	Record(ctx, "archive.scan", "guild", OutcomeSuccess, "")
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected file to grow, before=%d after=%d", info1.Size(), info2.Size())
	}
	entries := readAudit(t, home)
	if len(entries) != 3 || entries[2]["action"] != "archive.scan" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
	if entries[0]["surface"] != "unknown" {
		t.Fatalf("expected unknown surface without context, got %#v", entries[0]["surface"])
	}
}

func TestRecordRedactsDetail(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), "doctor", "discord", OutcomeFailure, "login with Bot abcdefghijklmnopqrstuvwxyz failed")
	entries := readAudit(t, home)
	if d, _ := entries[0]["detail"].(string); strings.Contains(d, "abcdefghijklmnop") {
		t.Fatalf("expected redacted detail, got %q", d)
	}
}
