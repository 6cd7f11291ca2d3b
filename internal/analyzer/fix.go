package analyzer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// FixMode selects which transformations Fix applies.
type FixMode string

const (
	FixAll        FixMode = "all"
	FixSemicolons FixMode = "semicolons"
	FixModernize  FixMode = "modernize"
)

var ErrUnknownFixMode = errors.New("unknown fix mode")

// ParseFixMode maps user input to a FixMode. Empty input means FixAll.
func ParseFixMode(s string) (FixMode, error) {
	switch mode := FixMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return FixAll, nil
	case FixAll, FixSemicolons, FixModernize:
		return mode, nil
	}
	return "", fmt.Errorf("%w: %q (want all, semicolons or modernize)", ErrUnknownFixMode, s)
}

// Fix applies the transformations named by mode.
func Fix(src string, mode FixMode) (string, error) {
	switch mode {
	case FixAll, "":
		return SuggestFixes(src), nil
	case FixSemicolons:
		return AddSemicolons(src), nil
	case FixModernize:
		return ModernizeDeclarations(src), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFixMode, mode)
}

// AddSemicolons terminates every line NeedsSemicolon accepts. The semicolon
// goes before trailing whitespace so CRLF endings survive.
func AddSemicolons(src string) string {
	lines := Lex(src).Lines()
	out := make([]string, len(lines))
	for i, ln := range lines {
		if !NeedsSemicolon(ln) {
			out[i] = ln.Raw
			continue
		}
		at := terminatorOffset(ln.Raw)
		out[i] = ln.Raw[:at] + ";" + ln.Raw[at:]
	}
	return strings.Join(out, "\n")
}

var leadingVar = regexp.MustCompile(`^(\s*)var\s`)

// ModernizeDeclarations turns a line-leading var into let and every
// space-separated == or != into its strict form. Text inside strings,
// comments and regex literals is left alone.
func ModernizeDeclarations(src string) string {
	lines := Lex(src).Lines()
	out := make([]string, len(lines))
	for i, ln := range lines {
		out[i] = modernizeLine(ln)
	}
	return strings.Join(out, "\n")
}

func modernizeLine(ln Line) string {
	raw, masked := ln.Raw, ln.Masked
	var b strings.Builder
	last := 0
	if m := leadingVar.FindStringSubmatchIndex(masked); m != nil {
		indent := m[3]
		b.WriteString(raw[:indent])
		b.WriteString("let")
		last = indent + len("var")
	}
	for _, op := range looseEqualities(masked) {
		if op.at < last || op.at == 0 || op.at+2 >= len(masked) {
			continue
		}
		if masked[op.at-1] != ' ' || masked[op.at+2] != ' ' {
			continue
		}
		b.WriteString(raw[last:op.at])
		b.WriteString(op.strict)
		last = op.at + len(op.loose)
	}
	if last == 0 {
		return raw
	}
	b.WriteString(raw[last:])
	return b.String()
}

// SuggestFixes modernizes declarations and then adds semicolons.
func SuggestFixes(src string) string {
	return AddSemicolons(ModernizeDeclarations(src))
}

// ChangedLines counts lines that differ between two versions of a text with
// the same line count, as produced by the fixers.
func ChangedLines(before, after string) int {
	a := strings.Split(before, "\n")
	b := strings.Split(after, "\n")
	n := 0
	for i := range a {
		if i >= len(b) || a[i] != b[i] {
			n++
		}
	}
	return n
}
