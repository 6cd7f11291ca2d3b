package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/basket/archivist/internal/analyzer"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F"))
	cleanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

type reportSection struct {
	title string
	items []string
	style lipgloss.Style
}

func runAnalyzeCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, color bool) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	noTree := fs.Bool("no-tree", false, "skip the syntax tree passes")
	extract := fs.Bool("message", false, "treat input as a chat message and extract its code blocks")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "usage: archivist analyze [-json] [-no-tree] [-message] [file]")
		return 2
	}

	src, err := readSource(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read source: %v\n", err)
		return 1
	}
	if *extract {
		src = analyzer.ExtractCode(src)
	}

	report := analyzer.New(analyzer.Config{Options: analyzer.Options{SyntaxTree: !*noTree}}).Analyze(ctx, src)

	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			return 1
		}
	} else {
		renderReport(stdout, report, color)
	}
	if len(report.Errors) > 0 {
		return 1
	}
	return 0
}

// renderReport prints the report grouped by category. Styles apply only when
// color is set.
func renderReport(w io.Writer, r analyzer.Report, color bool) {
	paint := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	if r.Total() == 0 {
		fmt.Fprintln(w, paint(cleanStyle, "No issues found."))
		return
	}
	summary := fmt.Sprintf("%d error(s), %d warning(s), %d other finding(s)",
		len(r.Errors), len(r.Warnings), r.Total()-len(r.Errors)-len(r.Warnings))
	if r.Clean() {
		fmt.Fprintln(w, paint(cleanStyle, summary))
	} else {
		fmt.Fprintln(w, paint(headingStyle, summary))
	}

	sections := []reportSection{
		{"Errors", r.Errors, errorStyle},
		{"Warnings", r.Warnings, warnStyle},
		{"Performance", r.PerformanceIssues, mutedStyle},
		{"Suggestions", r.Suggestions, mutedStyle},
		{"Platform notes", r.DomainNotes, mutedStyle},
	}
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, paint(headingStyle, s.title))
		for _, item := range s.items {
			fmt.Fprintf(w, "  %s %s\n", paint(s.style, "•"), item)
		}
	}
}

func runFixCommand(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fix", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modeFlag := fs.String("mode", "all", "all, semicolons or modernize")
	write := fs.Bool("w", false, "write the result back to the file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 1 || (*write && fs.NArg() == 0) {
		fmt.Fprintln(stderr, "usage: archivist fix [-mode all|semicolons|modernize] [-w] [file]")
		return 2
	}
	mode, err := analyzer.ParseFixMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	path := fs.Arg(0)
	src, err := readSource(path, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read source: %v\n", err)
		return 1
	}
	fixed, err := analyzer.Fix(src, mode)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	changed := analyzer.ChangedLines(src, fixed)

	if *write {
		if changed > 0 {
			info, err := os.Stat(path)
			if err != nil {
				fmt.Fprintf(stderr, "stat: %v\n", err)
				return 1
			}
			if err := os.WriteFile(path, []byte(fixed), info.Mode().Perm()); err != nil {
				fmt.Fprintf(stderr, "write: %v\n", err)
				return 1
			}
		}
	} else {
		io.WriteString(stdout, fixed)
		if !strings.HasSuffix(fixed, "\n") {
			io.WriteString(stdout, "\n")
		}
	}
	fmt.Fprintf(stderr, "%d line(s) changed (%s)\n", changed, mode)
	return 0
}
