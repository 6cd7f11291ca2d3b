package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

// Source is the input every rule sees. Tree is nil when syntax tree analysis
// is disabled.
type Source struct {
	Text  string
	Lexed *Lexed
	Tree  *Tree
}

// Rule is one pure check over a source.
type Rule struct {
	Name  string
	Check func(*Source) Report
}

// DefaultRules lists the checks in the order their findings are reported.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "syntax", Check: checkSyntax},
		{Name: "lexical", Check: checkLexical},
		{Name: "platform", Check: checkPlatform},
		{Name: "practices", Check: checkPractices},
		{Name: "secrets", Check: checkSecrets},
		{Name: "structure", Check: checkStructure},
	}
}

var (
	legacyVar   = regexp.MustCompile(`(?:^|[^\w$.])var\s`)
	consoleCall = regexp.MustCompile(`\bconsole\.(log|debug)\s*\(`)
)

func checkLexical(src *Source) Report {
	var r Report
	for _, b := range src.Lexed.Brackets {
		r.Errors = append(r.Errors, b.String())
	}
	for _, ln := range src.Lexed.Lines() {
		if legacyVar.MatchString(ln.Masked) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: Consider using 'let' or 'const' instead of 'var'", ln.Number))
		}
		for _, op := range looseEqualities(ln.Masked) {
			r.Warnings = appendUnique(r.Warnings,
				fmt.Sprintf("Line %d: Consider using '%s' instead of '%s'", ln.Number, op.strict, op.loose))
		}
		if NeedsSemicolon(ln) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: Missing semicolon", ln.Number))
		}
		if m := consoleCall.FindStringSubmatch(ln.Masked); m != nil {
			r.Suggestions = append(r.Suggestions,
				fmt.Sprintf("Line %d: Remove console.%s calls before publishing", ln.Number, m[1]))
		}
	}
	return r
}

type looseOp struct {
	at     int
	loose  string
	strict string
}

// looseEqualities finds == and != operators that are not part of === or !==.
func looseEqualities(s string) []looseOp {
	var ops []looseOp
	for j := 0; j+1 < len(s); j++ {
		if s[j+1] != '=' {
			continue
		}
		switch s[j] {
		case '=':
			if j > 0 && strings.IndexByte("=!<>", s[j-1]) >= 0 {
				continue
			}
		case '!':
		default:
			continue
		}
		if j+2 < len(s) && s[j+2] == '=' {
			j += 2
			continue
		}
		if s[j] == '=' {
			ops = append(ops, looseOp{at: j, loose: "==", strict: "==="})
		} else {
			ops = append(ops, looseOp{at: j, loose: "!=", strict: "!=="})
		}
		j++
	}
	return ops
}

// platform API awareness

const (
	serverModule = "@minecraft/server"
	uiModule     = "@minecraft/server-ui"
)

var (
	importClause  = regexp.MustCompile(`(?m)^\s*import\s+([^'"]*?)\s*from\s*["']([^"']+)["']`)
	requireClause = regexp.MustCompile(`(?:const|let|var)\s*\{([^}]*)\}\s*=\s*require\(\s*["']([^"']+)["']\s*\)`)
	bareImport    = regexp.MustCompile(`(?m)^\s*import\s*["']([^"']+)["']`)
	localDecl     = regexp.MustCompile(`\b(?:const|let|var|function|class)\s+([A-Za-z_$][\w$]*)`)
	uiForms       = regexp.MustCompile(`\b(ActionFormData|ModalFormData|MessageFormData)\b`)
	subscribeCall = regexp.MustCompile(`\.subscribe\s*\(`)
	unsubscribe   = regexp.MustCompile(`\.unsubscribe\s*\(`)
	runInterval   = regexp.MustCompile(`\bsystem\.runInterval\s*\(`)
)

// platformGlobals must be imported from the server module before use.
var platformGlobals = []struct {
	name string
	use  *regexp.Regexp
}{
	{"world", regexp.MustCompile(`(?:^|[^\w$.])world\s*\.`)},
	{"system", regexp.MustCompile(`(?:^|[^\w$.])system\s*\.`)},
}

type moduleImports struct {
	modules map[string]bool
	names   map[string]string // local name -> module
}

func parseImports(text string) moduleImports {
	imp := moduleImports{modules: map[string]bool{}, names: map[string]string{}}
	addNames := func(list, module string) {
		for _, part := range strings.Split(list, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			fields := strings.Fields(strings.ReplaceAll(part, ":", " as "))
			imp.names[fields[len(fields)-1]] = module
		}
	}
	for _, m := range importClause.FindAllStringSubmatch(text, -1) {
		module := m[2]
		imp.modules[module] = true
		clause := m[1]
		if open := strings.IndexByte(clause, '{'); open >= 0 {
			if end := strings.IndexByte(clause[open:], '}'); end > 0 {
				addNames(clause[open+1:open+end], module)
			}
		}
	}
	for _, m := range requireClause.FindAllStringSubmatch(text, -1) {
		imp.modules[m[2]] = true
		addNames(m[1], m[2])
	}
	for _, m := range bareImport.FindAllStringSubmatch(text, -1) {
		imp.modules[m[1]] = true
	}
	return imp
}

type domainNote struct {
	pattern *regexp.Regexp
	note    string
}

var domainNotes = []domainNote{
	{regexp.MustCompile(`\bworld\s*\.`), "World API: world state may not be ready during early execution, defer access with system.run"},
	{regexp.MustCompile(`\bplayers?\s*\.|\.getPlayers\s*\(|\bPlayer\b`), "Player API: player objects become invalid after the player leaves, check isValid before use"},
	{regexp.MustCompile(`\bsystem\s*\.`), "System API: schedule deferred work with system.run, system.runTimeout or system.runInterval"},
	{regexp.MustCompile(`\.(?:afterEvents|beforeEvents)\s*\.`), "Events API: beforeEvents handlers run in read-only mode, move world edits into system.run"},
	{regexp.MustCompile(`\.getComponent\s*\(`), "Components: getComponent returns undefined when the component is missing"},
	{regexp.MustCompile(`\.getDimension\s*\(|\.dimension\b`), "Dimensions: dimension ids are namespaced, for example minecraft:overworld"},
	{uiForms, "UI forms: check response.canceled before reading form values"},
}

type deprecation struct {
	pattern *regexp.Regexp
	message func(match string) string
}

var deprecations = []deprecation{
	{regexp.MustCompile(`\bworld\.events\.`), func(string) string {
		return "'world.events' is deprecated, use world.afterEvents or world.beforeEvents"
	}},
	{regexp.MustCompile(`\bsystem\.events\.`), func(string) string {
		return "'system.events' is deprecated, use system.afterEvents or system.beforeEvents"
	}},
	{regexp.MustCompile(`\bMinecraft(?:Block|Item|Entity|Effect|Enchantment|Dimension)Types\b`), func(m string) string {
		return fmt.Sprintf("'%s' is no longer exported by @minecraft/server, import it from @minecraft/vanilla-data", m)
	}},
	{regexp.MustCompile(`\.runCommandAsync\s*\(`), func(string) string {
		return "'runCommandAsync' is deprecated, use runCommand"
	}},
	{regexp.MustCompile(`\bevents\.tick\b`), func(string) string {
		return "the tick event was removed, use system.runInterval"
	}},
}

func checkPlatform(src *Source) Report {
	var r Report
	masked := src.Lexed.Mask
	imports := parseImports(src.Text)
	locals := map[string]bool{}
	for _, m := range localDecl.FindAllStringSubmatch(masked, -1) {
		locals[m[1]] = true
	}

	if imports.modules[serverModule] {
		r.DomainNotes = append(r.DomainNotes, "Uses the @minecraft/server scripting module")
	}
	for _, dn := range domainNotes {
		if dn.pattern.MatchString(masked) {
			r.DomainNotes = append(r.DomainNotes, dn.note)
		}
	}

	lines := src.Lexed.Lines()
	for _, g := range platformGlobals {
		global := g.name
		if locals[global] || imports.names[global] == serverModule {
			continue
		}
		for _, ln := range lines {
			if !g.use.MatchString(ln.Masked) {
				continue
			}
			if imports.modules[serverModule] {
				r.Errors = append(r.Errors, fmt.Sprintf("Line %d: '%s' is used but not imported from %s", ln.Number, global, serverModule))
			} else {
				r.Errors = append(r.Errors, fmt.Sprintf("Line %d: '%s' is used but %s is not imported", ln.Number, global, serverModule))
			}
			break
		}
	}
	for _, ln := range lines {
		for _, m := range uiForms.FindAllString(ln.Masked, -1) {
			if locals[m] || imports.names[m] == uiModule {
				continue
			}
			r.Errors = appendUnique(r.Errors, fmt.Sprintf("Line %d: '%s' is used but not imported from %s", ln.Number, m, uiModule))
		}
		for _, dep := range deprecations {
			if m := dep.pattern.FindString(ln.Masked); m != "" {
				r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: %s", ln.Number, dep.message(m)))
			}
		}
		if runInterval.MatchString(ln.Masked) {
			r.PerformanceIssues = append(r.PerformanceIssues,
				fmt.Sprintf("Line %d: system.runInterval repeats for the life of the script, keep the callback light", ln.Number))
		}
	}
	if subscribeCall.MatchString(masked) && !unsubscribe.MatchString(masked) {
		r.Warnings = append(r.Warnings, "Event subscriptions are never unsubscribed, keep the returned callback and unsubscribe when done")
	}
	return r
}

// best practices

var (
	emptyCatch    = regexp.MustCompile(`\bcatch\s*(?:\([^)]*\))?\s*\{\s*\}`)
	tryBlock      = regexp.MustCompile(`\btry\s*\{`)
	catchOrFinal  = regexp.MustCompile(`\b(?:catch|finally)\b`)
	asyncKeyword  = regexp.MustCompile(`\basync\b`)
	awaitKeyword  = regexp.MustCompile(`\bawait\b`)
	loopHead      = regexp.MustCompile(`\b(?:for|while)\s*\(`)
	doHead        = regexp.MustCompile(`\bdo\s*\{`)
	timerCall     = regexp.MustCompile(`\b(setTimeout|setInterval)\s*\(`)
	enumerateCall = regexp.MustCompile(`\.(getPlayers|getAllPlayers|getEntities|getEntitiesAtBlockLocation|getEntitiesFromRay)\s*\(`)
)

var timerReplacement = map[string]string{
	"setTimeout":  "system.runTimeout",
	"setInterval": "system.runInterval",
}

const maxLoopsBeforeHint = 3

func checkPractices(src *Source) Report {
	var r Report
	masked := src.Lexed.Mask

	for _, loc := range emptyCatch.FindAllStringIndex(masked, -1) {
		r.Warnings = append(r.Warnings, fmt.Sprintf("Line %d: Empty catch block hides errors", lineAt(masked, loc[0])))
	}
	if tryBlock.MatchString(masked) && !catchOrFinal.MatchString(masked) {
		r.Warnings = append(r.Warnings, "try block without catch or finally")
	}
	if asyncKeyword.MatchString(masked) && !awaitKeyword.MatchString(masked) {
		r.Warnings = append(r.Warnings, "Async function without await, it may not need to be async")
	}

	loops := 0
	for _, loc := range loopHead.FindAllStringIndex(masked, -1) {
		loops++
		open := loc[1] - 1
		closeParen := matchingClose(masked, open)
		if closeParen < 0 {
			continue
		}
		start, end := loopBody(masked, closeParen+1)
		reportEnumeration(&r, masked, start, end)
	}
	for _, loc := range doHead.FindAllStringIndex(masked, -1) {
		loops++
		open := loc[1] - 1
		if end := matchingClose(masked, open); end > 0 {
			reportEnumeration(&r, masked, open, end)
		}
	}
	if loops > maxLoopsBeforeHint {
		r.Suggestions = append(r.Suggestions,
			fmt.Sprintf("%d loops found, consider combining iterations over the same data", loops))
	}

	for _, ln := range src.Lexed.Lines() {
		for _, m := range timerCall.FindAllStringSubmatch(ln.Masked, -1) {
			r.Suggestions = appendUnique(r.Suggestions,
				fmt.Sprintf("Line %d: %s is not available in the scripting runtime, use %s", ln.Number, m[1], timerReplacement[m[1]]))
		}
	}
	return r
}

func reportEnumeration(r *Report, masked string, start, end int) {
	if start < 0 || end <= start {
		return
	}
	body := masked[start:end]
	for _, m := range enumerateCall.FindAllStringSubmatchIndex(body, -1) {
		name := body[m[2]:m[3]]
		r.PerformanceIssues = appendUnique(r.PerformanceIssues,
			fmt.Sprintf("Line %d: %s() inside a loop runs on every iteration, call it once before the loop", lineAt(masked, start+m[0]), name))
	}
}

// loopBody returns the span of the statement following a loop header.
func loopBody(masked string, from int) (int, int) {
	i := from
	for i < len(masked) && (masked[i] == ' ' || masked[i] == '\t' || masked[i] == '\r' || masked[i] == '\n') {
		i++
	}
	if i >= len(masked) {
		return -1, -1
	}
	if masked[i] == '{' {
		return i, matchingClose(masked, i)
	}
	end := strings.IndexAny(masked[i:], ";\n")
	if end < 0 {
		return i, len(masked)
	}
	return i, i + end
}

// matchingClose returns the offset of the bracket closing the one at open, or
// -1. It relies on the mask having no literal contents.
func matchingClose(masked string, open int) int {
	if open < 0 || open >= len(masked) {
		return -1
	}
	want := closerOf(masked[open])
	depth := 0
	for i := open; i < len(masked); i++ {
		switch masked[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				if masked[i] != want {
					return -1
				}
				return i
			}
		}
	}
	return -1
}

func lineAt(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}
