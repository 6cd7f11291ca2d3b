package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	otelpkg "github.com/basket/archivist/internal/otel"
)

// MaxSourceBytes caps how much text a single analysis accepts.
const MaxSourceBytes = 256 * 1024

// Options toggles the optional passes.
type Options struct {
	// SyntaxTree enables the tree-sitter syntax check and structural rules.
	SyntaxTree bool
}

type Config struct {
	Options
	Rules   []Rule
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelpkg.Metrics
}

// Analyzer runs a fixed list of rules over a source text.
type Analyzer struct {
	opts    Options
	rules   []Rule
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelpkg.Metrics
}

func New(cfg Config) *Analyzer {
	a := &Analyzer{
		opts:    cfg.Options,
		rules:   cfg.Rules,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
	}
	if a.rules == nil {
		a.rules = DefaultRules()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "analyzer")
	if a.tracer == nil {
		a.tracer = nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	return a
}

// Analyze runs every rule in order and merges their findings. The heuristic
// rules run whether or not the source parses.
func (a *Analyzer) Analyze(ctx context.Context, text string) Report {
	ctx, span := otelpkg.StartSpan(ctx, a.tracer, "analyzer.analyze", otelpkg.AttrSourceBytes.Int(len(text)))
	defer span.End()
	start := time.Now()

	var report Report
	if len(text) > MaxSourceBytes {
		text = truncateSource(text, MaxSourceBytes)
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"Source is larger than %s, only the first %d bytes were analyzed", humanize.IBytes(MaxSourceBytes), len(text)))
	}
	src := &Source{Text: text, Lexed: Lex(text)}
	if a.opts.SyntaxTree {
		tree, err := Parse(ctx, text)
		if err != nil {
			a.logger.Warn("syntax tree unavailable", "error", err)
		} else {
			defer tree.Close()
			src.Tree = tree
		}
	}

	for _, rule := range a.rules {
		report.merge(rule.Check(src))
	}
	report.normalize()

	a.metrics.RecordAnalysis(ctx, time.Since(start).Seconds(), report.Counts())
	a.logger.Debug("analysis complete", "bytes", len(text), "findings", report.Total(), "tree", src.Tree != nil)
	return report
}

// truncateSource cuts text to at most limit bytes without splitting a rune.
func truncateSource(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Analyze runs the default rules with the syntax tree pass enabled.
func Analyze(text string) Report {
	return defaultAnalyzer.Analyze(context.Background(), text)
}

var defaultAnalyzer = New(Config{Options: Options{SyntaxTree: true}, Logger: slog.New(slog.DiscardHandler)})
