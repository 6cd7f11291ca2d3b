package analyzer

import (
	"regexp"
	"strings"
)

// statementKeywords open lines that never take a trailing semicolon from us.
var statementKeywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"switch": true, "case": true, "default": true, "try": true, "catch": true,
	"finally": true, "function": true, "class": true,
	"import": true, "export": true, "return": true, "break": true, "continue": true,
}

// continuationEnds are last characters that leave a statement open or
// already terminate it.
const continuationEnds = ";{},([:.+-*/%=&|?!<>^~\\"

var (
	bareCallPattern = regexp.MustCompile(`^(?:await\s+)?(?:new\s+)?[A-Za-z_$][\w$]*(?:\s*\??\.\s*[A-Za-z_$][\w$]*|\[[^\]]*\])*\s*\(.*\)$`)
	leadingWord     = regexp.MustCompile(`^[A-Za-z_$][\w$]*`)
	asyncFunction   = regexp.MustCompile(`^async\s+function\b`)
)

// NeedsSemicolon reports whether a line is a finished assignment, update or
// bare call statement that lacks its terminator. The lexer's warnings and the
// fixer's edits both go through this predicate.
func NeedsSemicolon(ln Line) bool {
	if ln.OpenParens > 0 {
		// inside a multi-line argument list or array literal
		return false
	}
	code := strings.TrimSpace(ln.Masked)
	if code == "" {
		return false
	}
	if len(strings.TrimRight(ln.Masked, " \t\r")) < len(strings.TrimRight(ln.Raw, " \t\r")) {
		// ends inside a comment or an open literal
		return false
	}
	if code[0] == '}' || code[0] == '{' {
		return false
	}
	if strings.HasSuffix(code, "++") || strings.HasSuffix(code, "--") {
		return !startsWithKeyword(code)
	}
	if strings.IndexByte(continuationEnds, code[len(code)-1]) >= 0 {
		return false
	}
	if startsWithKeyword(code) {
		return false
	}
	return isAssignment(code) || bareCallPattern.MatchString(code)
}

func startsWithKeyword(code string) bool {
	if asyncFunction.MatchString(code) {
		return true
	}
	return statementKeywords[leadingWord.FindString(code)]
}

// isAssignment finds a lone '=' that is neither a comparison nor an arrow.
func isAssignment(code string) bool {
	for j := 0; j < len(code); j++ {
		if code[j] != '=' {
			continue
		}
		if j > 0 && strings.IndexByte("=!<>", code[j-1]) >= 0 {
			continue
		}
		if j+1 < len(code) && (code[j+1] == '=' || code[j+1] == '>') {
			j++
			continue
		}
		return true
	}
	return false
}

// terminatorOffset is where a semicolon goes: before trailing whitespace and
// any carriage return.
func terminatorOffset(raw string) int {
	return len(strings.TrimRight(raw, " \t\r"))
}
