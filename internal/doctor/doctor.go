package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/config"
	"github.com/basket/archivist/internal/persistence"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusWarn = "WARN"
	StatusSkip = "SKIP"
)

// discordHost is resolved by the network check.
const discordHost = "discord.com"

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == StatusFail {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

type check func(context.Context, *config.Config) CheckResult

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	return run(ctx, cfg, version, []check{
		checkConfig,
		checkDiscord,
		checkTelegram,
		checkStore,
		checkPermissions,
		checkAnalyzer,
		checkNetwork,
	})
}

func run(ctx context.Context, cfg *config.Config, version string, checks []check) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}
	for _, c := range checks {
		d.Results = append(d.Results, c(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: "Configuration not loaded"}
	}
	if err := cfg.Validate(); err != nil {
		return CheckResult{Name: "Config", Status: StatusFail, Message: err.Error()}
	}
	if cfg.Missing {
		return CheckResult{
			Name:    "Config",
			Status:  StatusWarn,
			Message: "config.yaml missing, using defaults",
			Detail:  fmt.Sprintf("Create %s to configure the bot", config.ConfigPath(cfg.HomeDir)),
		}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir),
		Detail: cfg.Fingerprint()}
}

// checkDiscord validates credentials offline: the token shape and the guild snowflake.
func checkDiscord(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Discord", Status: StatusSkip, Message: "Config missing"}
	}
	d := cfg.Channels.Discord
	if !d.Enabled {
		return CheckResult{Name: "Discord", Status: StatusSkip, Message: "Discord disabled"}
	}
	if strings.TrimSpace(d.Token) == "" {
		return CheckResult{Name: "Discord", Status: StatusFail, Message: "Bot token not set",
			Detail: "Set DISCORD_TOKEN or channels.discord.token"}
	}
	if parts := strings.Split(strings.TrimPrefix(d.Token, "Bot "), "."); len(parts) != 3 {
		return CheckResult{Name: "Discord", Status: StatusWarn, Message: "Bot token does not look like a Discord token"}
	}
	created, err := discordgo.SnowflakeTimestamp(d.GuildID)
	if err != nil || created.Year() < 2015 {
		return CheckResult{Name: "Discord", Status: StatusFail, Message: fmt.Sprintf("Guild id %q is not a valid snowflake", d.GuildID)}
	}
	return CheckResult{Name: "Discord", Status: StatusPass, Message: "Token and guild id present",
		Detail: fmt.Sprintf("guild created %s", humanize.Time(created))}
}

func checkTelegram(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Channels.Telegram.Enabled {
		return CheckResult{Name: "Telegram", Status: StatusSkip, Message: "Telegram disabled"}
	}
	t := cfg.Channels.Telegram
	if strings.TrimSpace(t.Token) == "" {
		return CheckResult{Name: "Telegram", Status: StatusFail, Message: "Bot token not set"}
	}
	if len(t.AllowedIDs) == 0 {
		return CheckResult{Name: "Telegram", Status: StatusWarn, Message: "No allowed ids, every message will be ignored"}
	}
	return CheckResult{Name: "Telegram", Status: StatusPass, Message: fmt.Sprintf("%d allowed ids", len(t.AllowedIDs))}
}

func checkStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Store", Status: StatusSkip, Message: "Config missing"}
	}
	path := cfg.StorePath()
	store, closeStore, err := persistence.Open(cfg.Store.Backend, path)
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer closeStore()

	records, err := store.LoadAll(ctx)
	if err != nil {
		return CheckResult{Name: "Store", Status: StatusFail, Message: fmt.Sprintf("Load failed: %v", err), Detail: path}
	}
	detail := path
	if info, err := os.Stat(path); err == nil {
		detail = fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size())))
	}
	return CheckResult{
		Name:    "Store",
		Status:  StatusPass,
		Message: fmt.Sprintf("%s store readable, %d archives", cfg.Store.Backend, len(records)),
		Detail:  detail,
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: StatusSkip, Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: StatusFail, Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: StatusPass, Message: "Home directory writable"}
}

// checkAnalyzer runs the analyzer over a broken and a clean sample.
func checkAnalyzer(ctx context.Context, _ *config.Config) CheckResult {
	broken := analyzer.Analyze("function f() {\n  var x = 1\n")
	if len(broken.Errors) == 0 {
		return CheckResult{Name: "Analyzer", Status: StatusFail, Message: "Unclosed brace was not reported"}
	}
	clean := analyzer.Analyze("const x = 1;\n")
	if len(clean.Errors) != 0 {
		return CheckResult{Name: "Analyzer", Status: StatusFail, Message: "Clean sample reported errors",
			Detail: strings.Join(clean.Errors, "; ")}
	}
	tree, err := analyzer.Parse(ctx, "const x = 1;")
	if err != nil {
		return CheckResult{Name: "Analyzer", Status: StatusWarn, Message: fmt.Sprintf("Syntax tree unavailable: %v", err)}
	}
	tree.Close()
	return CheckResult{Name: "Analyzer", Status: StatusPass, Message: "Heuristic rules and syntax tree working"}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Config missing"}
	}
	if !cfg.Channels.Discord.Enabled {
		return CheckResult{Name: "Network", Status: StatusSkip, Message: "Discord disabled"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, discordHost)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  StatusFail,
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", discordHost, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  StatusPass,
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", discordHost, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}
