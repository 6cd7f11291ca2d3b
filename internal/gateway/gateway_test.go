package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/basket/archivist/internal/gateway"
	"github.com/basket/archivist/internal/persistence"
)

func seededRecords(t *testing.T) *persistence.Records {
	t.Helper()
	steve := persistence.ArchiveRecord{Name: "Steve", AuthorID: "1", CategoryID: "cat-1", CreatedAt: time.Unix(100, 0).UTC()}
	steve.SetEnabled(true)
	alex := persistence.ArchiveRecord{Name: "Alex", AuthorID: "2", CategoryID: "cat-2", CreatedAt: time.Unix(200, 0).UTC()}
	return persistence.NewRecords(persistence.NewMemoryStore(steve, alex))
}

func newTestServer(t *testing.T, cfg gateway.Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gateway.New(cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, gateway.Config{Records: seededRecords(t), Version: "v1.2.3"})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Trace-Id") == "" {
		t.Fatal("expected X-Trace-Id header")
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["healthy"] != true || body["store_ok"] != true {
		t.Fatalf("unexpected health: %v", body)
	}
	if body["archives"] != float64(2) || body["version"] != "v1.2.3" {
		t.Fatalf("unexpected payload: %v", body)
	}
}

type brokenStore struct{}

func (brokenStore) LoadAll(context.Context) ([]persistence.ArchiveRecord, error) {
	return nil, errors.New("disk gone")
}

func (brokenStore) SaveAll(context.Context, []persistence.ArchiveRecord) error {
	return errors.New("disk gone")
}

func TestHealthz_StoreDown(t *testing.T) {
	srv := newTestServer(t, gateway.Config{Records: persistence.NewRecords(brokenStore{})})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestAnalyze(t *testing.T) {
	srv := newTestServer(t, gateway.Config{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantErrors bool
	}{
		{"clean code", `{"code":"const x = 1;\n"}`, http.StatusOK, false},
		{"unclosed brace", `{"code":"function f() {\n  return 1;\n"}`, http.StatusOK, true},
		{"fenced message", "{\"message\":\"help ```js\\nif (a) {\\n```\"}", http.StatusOK, true},
		{"empty", `{"code":"  "}`, http.StatusBadRequest, false},
		{"bad json", `{"code":`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/analyze", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				var e struct {
					Error string `json:"error"`
				}
				decode(t, resp, &e)
				if e.Error == "" {
					t.Fatal("expected error message")
				}
				return
			}
			var report struct {
				Errors []string `json:"errors"`
				Total  int      `json:"total"`
				Clean  bool     `json:"clean"`
			}
			decode(t, resp, &report)
			if got := len(report.Errors) > 0; got != tt.wantErrors {
				t.Fatalf("errors = %v, want errors=%v", report.Errors, tt.wantErrors)
			}
			if report.Total < len(report.Errors) {
				t.Fatalf("total %d below error count %d", report.Total, len(report.Errors))
			}
		})
	}
}

func TestAnalyze_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, gateway.Config{})

	resp, err := http.Get(srv.URL + "/api/analyze")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", resp.Header.Get("Allow"))
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	h := gateway.New(gateway.Config{}).Handler()

	body := `{"code":"` + strings.Repeat("a", 1<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFix(t *testing.T) {
	srv := newTestServer(t, gateway.Config{})

	resp := postJSON(t, srv.URL+"/api/fix", `{"code":"var x = 1\nlet y = 2","mode":"all"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Code         string `json:"code"`
		Mode         string `json:"mode"`
		ChangedLines int    `json:"changedLines"`
	}
	decode(t, resp, &out)
	if out.Code != "let x = 1;\nlet y = 2;" {
		t.Fatalf("code = %q", out.Code)
	}
	if out.Mode != "all" || out.ChangedLines != 2 {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestFix_UnknownMode(t *testing.T) {
	srv := newTestServer(t, gateway.Config{})

	resp := postJSON(t, srv.URL+"/api/fix", `{"code":"var x = 1","mode":"prettier"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestArchives(t *testing.T) {
	srv := newTestServer(t, gateway.Config{Records: seededRecords(t)})

	tests := []struct {
		query     string
		wantNames []string
		wantStats bool
	}{
		{"", []string{"Alex", "Steve"}, false},
		{"?q=ste", []string{"Steve"}, false},
		{"?author=2", []string{"Alex"}, true},
		{"?q=nobody", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/archives" + tt.query)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var out struct {
				Archives []persistence.ArchiveRecord `json:"archives"`
				Count    int                         `json:"count"`
				Stats    *persistence.Stats          `json:"stats"`
			}
			decode(t, resp, &out)
			if out.Count != len(tt.wantNames) || len(out.Archives) != len(tt.wantNames) {
				t.Fatalf("got %d archives, want %v", out.Count, tt.wantNames)
			}
			names := map[string]bool{}
			for _, a := range out.Archives {
				names[a.Name] = true
			}
			for _, n := range tt.wantNames {
				if !names[n] {
					t.Fatalf("missing %q in %+v", n, out.Archives)
				}
			}
			if (out.Stats != nil) != tt.wantStats {
				t.Fatalf("stats = %+v, want present=%v", out.Stats, tt.wantStats)
			}
		})
	}
}

func TestArchives_NoStore(t *testing.T) {
	srv := newTestServer(t, gateway.Config{})

	resp, err := http.Get(srv.URL + "/api/archives")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gateway.New(gateway.Config{}).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
