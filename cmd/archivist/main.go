package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/audit"
	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/channels"
	"github.com/basket/archivist/internal/config"
	"github.com/basket/archivist/internal/cron"
	"github.com/basket/archivist/internal/gateway"
	"github.com/basket/archivist/internal/guild"
	"github.com/basket/archivist/internal/moderation"
	otelpkg "github.com/basket/archivist/internal/otel"
	"github.com/basket/archivist/internal/persistence"
	"github.com/basket/archivist/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	name := os.Args[0]
	fmt.Fprintf(os.Stderr, `Usage of %[1]s:

DAEMON MODE (default):
  %[1]s                          Run the bot (Discord, Telegram, HTTP gateway)
  %[1]s -daemon                  Same, ignoring any trailing arguments
  %[1]s -quiet                   Log to <home>/logs/system.jsonl only

SUBCOMMANDS:
  %[1]s analyze [-json] [file]   Analyze a script (stdin when no file)
  %[1]s fix [-mode m] [-w] [file]
                              Apply fixes; mode is all, semicolons or modernize
  %[1]s scan [-sync]             Compare server categories with the record store
  %[1]s doctor [-json]           Run diagnostic checks
  %[1]s status                   Query the running daemon's /healthz

FLAGS:
`, name)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  ARCHIVIST_HOME          Data directory (default: ~/.archivist)
  DISCORD_TOKEN           Discord bot token
  DISCORD_GUILD_ID        Guild the bot manages
  TELEGRAM_TOKEN          Telegram bot token
`)
}

func main() {
	_ = godotenv.Load(".env")

	daemon := flag.Bool("daemon", false, "run the bot; the default when no subcommand is given")
	quiet := flag.Bool("quiet", false, "write logs to the log file only")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 && !*daemon {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "analyze":
			os.Exit(runAnalyzeCommand(ctx, args[1:], os.Stdin, os.Stdout, isatty.IsTerminal(os.Stdout.Fd())))
		case "fix":
			os.Exit(runFixCommand(args[1:], os.Stdin, os.Stdout, os.Stderr))
		case "scan":
			os.Exit(runScanCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	runDaemon(ctx, *quiet)
}

func runDaemon(ctx context.Context, quietLogs bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, sink, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer sink.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config", cfg.Fingerprint(), "version", Version)
	if cfg.Missing {
		logger.Warn("config.yaml not found, running with defaults", "path", config.ConfigPath(cfg.HomeDir))
	}

	provider, err := otelpkg.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelpkg.NewMetrics(provider.Meter)
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	}

	store, closeStore, err := persistence.Open(cfg.Store.Backend, cfg.StorePath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer func() { _ = closeStore() }()
	if sq, ok := store.(*persistence.SQLiteStore); ok {
		audit.SetDB(sq.DB())
	}
	records := persistence.NewRecords(store)
	logger.Info("startup phase", "phase", "store_opened", "backend", cfg.Store.Backend, "path", cfg.StorePath())

	eventBus := bus.New()
	an := analyzer.New(analyzer.Config{
		Options: analyzer.Options{SyntaxTree: cfg.Analyzer.SyntaxTreeEnabled()},
		Logger:  logger,
		Tracer:  provider.Tracer,
		Metrics: metrics,
	})
	svc := channels.Services{Analyzer: an, Bus: eventBus, Logger: logger}

	g, gctx := errgroup.WithContext(ctx)

	var chans []channels.Channel
	if cfg.Channels.Discord.Enabled {
		session, err := discordgo.New("Bot " + cfg.Channels.Discord.Token)
		if err != nil {
			fatalStartup(logger, "E_DISCORD_SESSION", err)
		}
		remote := guild.New(guild.Config{
			Session: session,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
			Tracer:  provider.Tracer,
			Metrics: metrics,
		})
		engine := archive.New(archive.Config{
			Guild:   remote,
			Records: records,
			Bus:     eventBus,
			Logger:  logger,
			Tracer:  provider.Tracer,
			Metrics: metrics,
		})
		svc.Archives = engine
		svc.Moderator = moderation.New(moderation.Config{
			Guild:      remote,
			Bus:        eventBus,
			Logger:     logger,
			MaxTimeout: time.Duration(cfg.Moderation.MaxTimeoutDays) * 24 * time.Hour,
		})
		chans = append(chans, channels.NewDiscordChannel(channels.DiscordConfig{
			Session:       session,
			ApplicationID: cfg.Channels.Discord.ApplicationID,
			GuildID:       cfg.Channels.Discord.GuildID,
			Services:      svc,
		}))

		if cfg.Scan.Schedule != "" {
			scheduler, err := cron.NewScheduler(cron.Config{
				Scanner:  engine,
				Schedule: cfg.Scan.Schedule,
				Sync:     cfg.Scan.Sync,
				Logger:   logger,
			})
			if err != nil {
				fatalStartup(logger, "E_SCAN_SCHEDULE", err)
			}
			scheduler.Start(gctx)
			defer scheduler.Stop()
			logger.Info("scheduled scans enabled", "schedule", cfg.Scan.Schedule, "next_run", scheduler.NextRun())
		}
	}
	if cfg.Channels.Telegram.Enabled {
		chans = append(chans, channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, svc))
	}
	if len(chans) == 0 {
		logger.Warn("no chat channels enabled, serving the HTTP gateway only")
	}
	for _, ch := range chans {
		ch := ch
		g.Go(func() error {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("%s: %w", ch.Name(), err)
			}
			return nil
		})
	}

	srv := gateway.New(gateway.Config{
		Records:           records,
		Analyzer:          an,
		Logger:            logger,
		Tracer:            provider.Tracer,
		APIToken:          cfg.APIToken,
		RateLimit:         cfg.RateLimit,
		Version:           Version,
		ConfigFingerprint: cfg.Fingerprint(),
	})
	g.Go(func() error {
		err := srv.ListenAndServe(gctx, cfg.BindAddr)
		if err != nil && isAddrInUse(err) {
			return fmt.Errorf("%w (is another archivist already running on %s?)", err, cfg.BindAddr)
		}
		return err
	})

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(gctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go watchConfig(watcher.Events(), sink, eventBus, logger)
	}

	logger.Info("startup phase", "phase", "running", "bind_addr", cfg.BindAddr, "channels", len(chans))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", "error", err)
		audit.Record(context.Background(), "fatal", "runtime.run", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("daemon stopped")
}

// watchConfig re-applies the log level whenever config.yaml changes. Other
// settings need a restart.
func watchConfig(events <-chan config.ReloadEvent, sink *telemetry.Sink, eventBus *bus.Bus, logger *slog.Logger) {
	for ev := range events {
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("config reload rejected", "path", ev.Path, "error", err)
			continue
		}
		sink.SetLevel(cfg.LogLevel)
		eventBus.Publish(bus.TopicConfigReloaded, cfg.Fingerprint())
		logger.Info("config reloaded", "log_level", cfg.LogLevel, "config", cfg.Fingerprint())
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record(context.Background(), "fatal", "runtime.startup", reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

// readSource reads the named file, or r when the name is empty or "-".
func readSource(path string, r io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(io.LimitReader(r, analyzer.MaxSourceBytes+1))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	if len(data) > analyzer.MaxSourceBytes {
		return "", fmt.Errorf("source exceeds %d bytes", analyzer.MaxSourceBytes)
	}
	return string(data), nil
}
