package doctor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/archivist/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		HomeDir:  t.TempDir(),
		LogLevel: "info",
		Store:    config.StoreConfig{Backend: "json", Path: "archives.json"},
	}
}

func TestCheckConfig(t *testing.T) {
	if r := checkConfig(context.Background(), nil); r.Status != StatusFail {
		t.Fatalf("nil config = %+v", r)
	}
	cfg := testConfig(t)
	if r := checkConfig(context.Background(), cfg); r.Status != StatusPass {
		t.Fatalf("valid config = %+v", r)
	}
	cfg.Missing = true
	if r := checkConfig(context.Background(), cfg); r.Status != StatusWarn {
		t.Fatalf("missing config = %+v", r)
	}
	cfg.Store.Backend = "mongo"
	if r := checkConfig(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("bad backend = %+v", r)
	}
}

func TestCheckDiscord(t *testing.T) {
	cfg := testConfig(t)
	if r := checkDiscord(context.Background(), cfg); r.Status != StatusSkip {
		t.Fatalf("disabled = %+v", r)
	}
	cfg.Channels.Discord.Enabled = true
	if r := checkDiscord(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("no token = %+v", r)
	}
	cfg.Channels.Discord.Token = "not-a-token"
	if r := checkDiscord(context.Background(), cfg); r.Status != StatusWarn {
		t.Fatalf("odd token = %+v", r)
	}
	cfg.Channels.Discord.Token = "MTA.abc.def"
	cfg.Channels.Discord.GuildID = "my-guild"
	if r := checkDiscord(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("bad guild id = %+v", r)
	}
	cfg.Channels.Discord.GuildID = "175928847299117063"
	if r := checkDiscord(context.Background(), cfg); r.Status != StatusPass {
		t.Fatalf("valid credentials = %+v", r)
	}
}

func TestCheckTelegram(t *testing.T) {
	cfg := testConfig(t)
	if r := checkTelegram(context.Background(), cfg); r.Status != StatusSkip {
		t.Fatalf("disabled = %+v", r)
	}
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	if r := checkTelegram(context.Background(), cfg); r.Status != StatusWarn {
		t.Fatalf("no allowed ids = %+v", r)
	}
	cfg.Channels.Telegram.AllowedIDs = []int64{1}
	if r := checkTelegram(context.Background(), cfg); r.Status != StatusPass {
		t.Fatalf("configured = %+v", r)
	}
}

func TestCheckStore(t *testing.T) {
	cfg := testConfig(t)
	if r := checkStore(context.Background(), cfg); r.Status != StatusPass || !strings.Contains(r.Message, "0 archives") {
		t.Fatalf("empty store = %+v", r)
	}

	if err := os.WriteFile(filepath.Join(cfg.HomeDir, "archives.json"), []byte(`{"not":"an array"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if r := checkStore(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("corrupt store = %+v", r)
	}

	cfg.Store = config.StoreConfig{Backend: "sqlite", Path: "archives.db"}
	if r := checkStore(context.Background(), cfg); r.Status != StatusPass {
		t.Fatalf("sqlite store = %+v", r)
	}
}

func TestCheckPermissions(t *testing.T) {
	cfg := testConfig(t)
	if r := checkPermissions(context.Background(), cfg); r.Status != StatusPass {
		t.Fatalf("writable dir = %+v", r)
	}
	cfg.HomeDir = filepath.Join(cfg.HomeDir, "does", "not", "exist")
	if r := checkPermissions(context.Background(), cfg); r.Status != StatusFail {
		t.Fatalf("missing dir = %+v", r)
	}
}

func TestCheckAnalyzer(t *testing.T) {
	if r := checkAnalyzer(context.Background(), nil); r.Status != StatusPass {
		t.Fatalf("analyzer self-check = %+v", r)
	}
}

func TestCheckNetwork_Skips(t *testing.T) {
	if r := checkNetwork(context.Background(), nil); r.Status != StatusSkip {
		t.Fatalf("nil config = %+v", r)
	}
	if r := checkNetwork(context.Background(), testConfig(t)); r.Status != StatusSkip {
		t.Fatalf("discord disabled = %+v", r)
	}
}

func TestCheckNetwork_DiscordEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Discord.Enabled = true
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := checkNetwork(ctx, cfg)
	// Allow FAIL in CI/offline environments.
	if result.Status != StatusPass && result.Status != StatusFail {
		t.Fatalf("expected PASS or FAIL, got %s", result.Status)
	}
	if result.Name != "Network" {
		t.Fatalf("expected name Network, got %s", result.Name)
	}
}

func TestRunAndFailed(t *testing.T) {
	cfg := testConfig(t)
	d := run(context.Background(), cfg, "test", []check{checkConfig, checkStore, checkAnalyzer})
	if len(d.Results) != 3 || d.Failed() {
		t.Fatalf("diagnosis = %+v", d)
	}
	if d.System.Version != "test" {
		t.Fatalf("version = %q", d.System.Version)
	}
	d = run(context.Background(), nil, "test", []check{checkConfig})
	if !d.Failed() {
		t.Fatal("expected failure for nil config")
	}
}
