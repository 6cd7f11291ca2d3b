// Package audit keeps an append-only trail of archive lifecycle and moderation actions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/archivist/internal/shared"
)

// Outcome values recorded in the trail.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial_failure"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	Surface   string `json:"surface"`
	Actor     string `json:"actor,omitempty"`
	Action    string `json:"action"`
	Subject   string `json:"subject"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	db          *sql.DB
	deniedCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB mirrors entries into the audit_log table of the sqlite record store.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	db = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// DeniedCount returns how many actions the platform refused since startup.
func DeniedCount() int64 {
	return deniedCount.Load()
}

// Record appends one action. Trace, surface and actor come from ctx.
func Record(ctx context.Context, action, subject, outcome, detail string) {
	if outcome == OutcomeDenied {
		deniedCount.Add(1)
	}
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:   shared.TraceID(ctx),
		Surface:   shared.Surface(ctx),
		Actor:     shared.ActorID(ctx),
		Action:    action,
		Subject:   shared.Redact(subject),
		Outcome:   outcome,
		Detail:    shared.Redact(detail),
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		if b, err := json.Marshal(ev); err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}
	if db != nil {
		_, _ = db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO audit_log (trace_id, surface, actor, action, subject, outcome, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, ev.TraceID, ev.Surface, ev.Actor, ev.Action, ev.Subject, ev.Outcome, ev.Detail)
	}
}
