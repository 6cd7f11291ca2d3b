// Package analyzer inspects short JavaScript snippets for common mistakes and
// applies conservative text fixes. It is heuristic: the lexer only knows
// enough about strings, comments and regex literals to keep brackets and
// operators inside them from being misread.
package analyzer

import (
	"fmt"
	"strings"
)

// BracketIssueKind classifies a bracket balance problem.
type BracketIssueKind int

const (
	Unmatched BracketIssueKind = iota
	Mismatched
	Unclosed
)

// BracketIssue is one bracket balance error found by Lex.
type BracketIssue struct {
	Kind     BracketIssueKind
	Found    byte
	Expected byte
	Line     int
}

func (b BracketIssue) String() string {
	switch b.Kind {
	case Mismatched:
		return fmt.Sprintf("Mismatched brackets: expected '%c' but found '%c' on line %d", b.Expected, b.Found, b.Line)
	case Unclosed:
		return fmt.Sprintf("Unclosed '%c' starting on line %d", b.Found, b.Line)
	default:
		return fmt.Sprintf("Unmatched '%c' on line %d", b.Found, b.Line)
	}
}

// Lexed is the result of one pass over a source text.
//
// Mask has the same length as Source and the same line breaks, with the
// bodies of strings, template literals, comments and regex literals replaced
// by spaces. String and regex delimiters are kept so a masked line still shows
// where a literal sits.
type Lexed struct {
	Source   string
	Mask     string
	Brackets []BracketIssue

	// openParens[i] counts '(' and '[' still open at the end of line i+1,
	// above the innermost open '{'.
	openParens []int
}

// Line is one source line with its masked twin.
type Line struct {
	Number     int
	Raw        string
	Masked     string
	OpenParens int
}

// Lines splits the lexed text into lines. Carriage returns stay on Raw and
// Masked so callers can preserve line endings.
func (l *Lexed) Lines() []Line {
	raws := strings.Split(l.Source, "\n")
	masks := strings.Split(l.Mask, "\n")
	out := make([]Line, len(raws))
	for i := range raws {
		ln := Line{Number: i + 1, Raw: raws[i], Masked: masks[i]}
		if i < len(l.openParens) {
			ln.OpenParens = l.openParens[i]
		}
		out[i] = ln
	}
	return out
}

type lexState int

const (
	stCode lexState = iota
	stLineComment
	stBlockComment
	stString
	stTemplate
	stRegex
)

type openBracket struct {
	ch   byte
	line int
}

// regexKeywords may directly precede a regex literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "yield": true, "await": true, "instanceof": true,
}

const regexPrefixPunct = "=(,:[!&|?{};+-*%<>~^"

type lexer struct {
	src  string
	mask []byte
	line int

	state lexState
	quote byte

	stack []openBracket
	// templates holds the stack depth at each `${` so the matching `}`
	// resumes the enclosing template literal.
	templates []int
	issues    []BracketIssue

	lastSig   byte
	lastWord  string
	wordStart int
	lastIdx   int

	regexStart   int
	regexInClass bool
	noRegexAt    int

	openParens []int
}

// Lex scans src once and reports bracket balance plus a masked copy of the
// text.
func Lex(src string) *Lexed {
	lx := &lexer{
		src:       src,
		mask:      []byte(src),
		line:      1,
		lastIdx:   -2,
		noRegexAt: -1,
	}
	lx.scan()
	for _, open := range lx.stack {
		lx.issues = append(lx.issues, BracketIssue{Kind: Unclosed, Found: open.ch, Line: open.line})
	}
	lx.openParens = append(lx.openParens, lx.parenDepth())
	return &Lexed{
		Source:     src,
		Mask:       string(lx.mask),
		Brackets:   lx.issues,
		openParens: lx.openParens,
	}
}

func (lx *lexer) scan() {
	src := lx.src
	i := 0
	for {
		for i < len(src) {
			c := src[i]
			if c == '\n' && lx.state != stRegex {
				lx.newline()
				if lx.state == stLineComment || lx.state == stString {
					lx.state = stCode
				}
				i++
				continue
			}
			switch lx.state {
			case stCode:
				i = lx.code(i)
			case stLineComment:
				lx.blank(i)
				i++
			case stBlockComment:
				i = lx.blockComment(i)
			case stString:
				i = lx.stringBody(i)
			case stTemplate:
				i = lx.templateBody(i)
			case stRegex:
				i = lx.regexBody(i)
			}
		}
		if lx.state != stRegex {
			return
		}
		// the regex guess ran off the end of the text
		i = lx.abortRegex()
	}
}

func (lx *lexer) code(i int) int {
	src := lx.src
	c := src[i]
	var next byte
	if i+1 < len(src) {
		next = src[i+1]
	}
	switch {
	case c == '/' && next == '/':
		lx.blank(i)
		lx.blank(i + 1)
		lx.state = stLineComment
		return i + 2
	case c == '/' && next == '*':
		lx.blank(i)
		lx.blank(i + 1)
		lx.state = stBlockComment
		return i + 2
	case c == '\'' || c == '"':
		lx.quote = c
		lx.state = stString
		lx.mark(c, i)
		return i + 1
	case c == '`':
		lx.state = stTemplate
		lx.mark(c, i)
		return i + 1
	case c == '/' && i != lx.noRegexAt && lx.regexAllowed():
		lx.state = stRegex
		lx.regexStart = i
		lx.regexInClass = false
		return i + 1
	}
	switch c {
	case '(', '[', '{':
		lx.stack = append(lx.stack, openBracket{ch: c, line: lx.line})
	case '}':
		if n := len(lx.templates); n > 0 && lx.templates[n-1] == len(lx.stack) && lx.stack[len(lx.stack)-1].ch == '{' {
			lx.templates = lx.templates[:n-1]
			lx.stack = lx.stack[:len(lx.stack)-1]
			lx.state = stTemplate
			return i + 1
		}
		lx.close(c)
	case ')', ']':
		lx.close(c)
	}
	lx.mark(c, i)
	return i + 1
}

func (lx *lexer) blockComment(i int) int {
	lx.blank(i)
	if lx.src[i] == '*' && i+1 < len(lx.src) && lx.src[i+1] == '/' {
		lx.blank(i + 1)
		lx.state = stCode
		return i + 2
	}
	return i + 1
}

func (lx *lexer) stringBody(i int) int {
	c := lx.src[i]
	switch c {
	case '\\':
		lx.blank(i)
		if i+1 >= len(lx.src) {
			return i + 1
		}
		if lx.src[i+1] == '\n' {
			// line continuation keeps the string open
			lx.newline()
			return i + 2
		}
		lx.blank(i + 1)
		return i + 2
	case lx.quote:
		lx.state = stCode
		lx.mark(c, i)
		return i + 1
	}
	lx.blank(i)
	return i + 1
}

func (lx *lexer) templateBody(i int) int {
	src := lx.src
	c := src[i]
	switch {
	case c == '\\':
		lx.blank(i)
		if i+1 < len(src) && src[i+1] != '\n' {
			lx.blank(i + 1)
			return i + 2
		}
		return i + 1
	case c == '`':
		lx.state = stCode
		lx.mark(c, i)
		return i + 1
	case c == '$' && i+1 < len(src) && src[i+1] == '{':
		lx.stack = append(lx.stack, openBracket{ch: '{', line: lx.line})
		lx.templates = append(lx.templates, len(lx.stack))
		lx.state = stCode
		lx.mark('{', i+1)
		return i + 2
	}
	lx.blank(i)
	return i + 1
}

func (lx *lexer) regexBody(i int) int {
	src := lx.src
	c := src[i]
	switch {
	case c == '\n':
		return lx.abortRegex()
	case c == '\\':
		lx.blank(i)
		if i+1 < len(src) && src[i+1] != '\n' {
			lx.blank(i + 1)
			return i + 2
		}
		return i + 1
	case c == '[':
		lx.regexInClass = true
	case c == ']':
		lx.regexInClass = false
	case c == '/' && !lx.regexInClass:
		lx.state = stCode
		// a regex literal is a value: a following slash divides
		lx.lastSig = ')'
		lx.lastWord = ""
		lx.lastIdx = i
		return i + 1
	}
	lx.blank(i)
	return i + 1
}

// abortRegex restores the masked bytes of a failed regex guess and returns the
// offset to resume from, where the slash is then read as division.
func (lx *lexer) abortRegex() int {
	for j := lx.regexStart; j < len(lx.src) && lx.src[j] != '\n'; j++ {
		lx.mask[j] = lx.src[j]
	}
	lx.noRegexAt = lx.regexStart
	lx.state = stCode
	return lx.regexStart
}

func (lx *lexer) close(c byte) {
	if len(lx.stack) == 0 {
		lx.issues = append(lx.issues, BracketIssue{Kind: Unmatched, Found: c, Line: lx.line})
		return
	}
	top := lx.stack[len(lx.stack)-1]
	lx.stack = lx.stack[:len(lx.stack)-1]
	if n := len(lx.templates); n > 0 && lx.templates[n-1] > len(lx.stack) {
		lx.templates = lx.templates[:n-1]
	}
	if want := closerOf(top.ch); want != c {
		lx.issues = append(lx.issues, BracketIssue{Kind: Mismatched, Found: c, Expected: want, Line: lx.line})
	}
}

func (lx *lexer) newline() {
	lx.openParens = append(lx.openParens, lx.parenDepth())
	lx.line++
}

func (lx *lexer) parenDepth() int {
	n := 0
	for j := len(lx.stack) - 1; j >= 0; j-- {
		if lx.stack[j].ch == '{' {
			break
		}
		n++
	}
	return n
}

func (lx *lexer) blank(i int) {
	if i < len(lx.mask) && lx.mask[i] != '\n' && lx.mask[i] != '\r' {
		lx.mask[i] = ' '
	}
}

// mark records the last significant code byte for the regex heuristic.
func (lx *lexer) mark(c byte, i int) {
	if c == ' ' || c == '\t' || c == '\r' {
		return
	}
	if isIdentByte(c) {
		if !(lx.lastIdx == i-1 && isIdentByte(lx.lastSig)) {
			lx.wordStart = i
		}
		lx.lastWord = lx.src[lx.wordStart : i+1]
	} else {
		lx.lastWord = ""
	}
	lx.lastSig = c
	lx.lastIdx = i
}

func (lx *lexer) regexAllowed() bool {
	switch {
	case lx.lastSig == 0:
		return true
	case isIdentByte(lx.lastSig):
		return regexKeywords[lx.lastWord]
	case lx.lastSig == ')' || lx.lastSig == ']':
		return false
	case lx.lastSig == '}':
		return true
	}
	return strings.IndexByte(regexPrefixPunct, lx.lastSig) >= 0
}

func closerOf(open byte) byte {
	switch open {
	case '(':
		return ')'
	case '[':
		return ']'
	}
	return '}'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c >= 0x80
}
