package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/channels"
	"github.com/basket/archivist/internal/config"
	"github.com/basket/archivist/internal/guild"
	"github.com/basket/archivist/internal/persistence"
)

// scanner is the part of archive.Engine the scan command needs.
type scanner interface {
	Scan(ctx context.Context, update bool) (*archive.ScanReport, error)
}

func runScanCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	sync := fs.Bool("sync", false, "write discovered archives and channel lists to the store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: archivist scan [-sync]")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	d := cfg.Channels.Discord
	if d.Token == "" || d.GuildID == "" {
		fmt.Fprintln(os.Stderr, "scan needs a Discord token and guild id (DISCORD_TOKEN, DISCORD_GUILD_ID)")
		return 1
	}

	store, closeStore, err := persistence.Open(cfg.Store.Backend, cfg.StorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer closeStore()

	// REST only; the gateway connection is not needed for a scan.
	session, err := discordgo.New("Bot " + d.Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discord session: %v\n", err)
		return 1
	}
	engine := archive.New(archive.Config{
		Guild:   guild.New(guild.Config{Session: session, GuildID: d.GuildID}),
		Records: persistence.NewRecords(store),
	})
	return scanTo(ctx, engine, *sync, os.Stdout, os.Stderr)
}

func scanTo(ctx context.Context, s scanner, sync bool, stdout, stderr io.Writer) int {
	report, err := s.Scan(ctx, sync)
	if err != nil {
		fmt.Fprintf(stderr, "scan: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, channels.FormatScan(report))
	if !report.InSync() && !sync {
		return 3
	}
	return 0
}
