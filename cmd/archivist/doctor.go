package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/basket/archivist/internal/config"
	"github.com/basket/archivist/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "print the diagnosis as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cfgPtr *config.Config
	cfg, err := config.Load()
	if err != nil {
		// Keep going so the config check can report the failure.
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	} else {
		cfgPtr = &cfg
	}

	diag := doctor.Run(ctx, cfgPtr, Version)
	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding json: %v\n", err)
			return 1
		}
	} else {
		printDiagnosis(os.Stdout, diag)
	}
	if diag.Failed() {
		return 1
	}
	return 0
}

func printDiagnosis(w io.Writer, diag doctor.Diagnosis) {
	fmt.Fprintf(w, "Archivist Doctor Report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "System: %s/%s (%s) %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Fprintln(w, "---")

	for _, res := range diag.Results {
		icon := "✅"
		switch res.Status {
		case doctor.StatusFail:
			icon = "❌"
		case doctor.StatusWarn:
			icon = "⚠️ "
		case doctor.StatusSkip:
			icon = "⏩"
		}
		fmt.Fprintf(w, "%s %-12s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(w, "    %s\n", res.Detail)
		}
	}
}
