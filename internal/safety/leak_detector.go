// Package safety finds credentials pasted into scripts before they are shared
// in a public channel.
package safety

import (
	"regexp"
	"sort"
)

// Leak is one suspected credential.
type Leak struct {
	Kind string
	// Offset is the byte offset of the match in the scanned text.
	Offset int
	// Sample is a shortened form of the match that is safe to log.
	Sample string
}

// LeakDetector scans text for credentials.
type LeakDetector struct{}

func NewLeakDetector() *LeakDetector {
	return &LeakDetector{}
}

// maxPerKind bounds how many matches of one kind are reported.
const maxPerKind = 3

var leakPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{
		re:   regexp.MustCompile(`[MNO][A-Za-z\d_-]{23,27}\.[A-Za-z\d_-]{6}\.[A-Za-z\d_-]{27,40}`),
		kind: "Discord bot token",
	},
	{
		re:   regexp.MustCompile(`https://(?:canary\.|ptb\.)?discord(?:app)?\.com/api/webhooks/\d+/[A-Za-z\d_-]{20,}`),
		kind: "Discord webhook URL",
	},
	{
		re:   regexp.MustCompile(`\b\d{8,10}:AA[A-Za-z\d_-]{33}\b`),
		kind: "Telegram bot token",
	},
	{
		re:   regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret)\s*[:=]\s*["'` + "`" + `]?[A-Za-z\d_\-./+=]{16,}`),
		kind: "API key",
	},
	{
		re:   regexp.MustCompile(`(?i)Bearer\s+[A-Za-z\d_\-./+=]{16,}`),
		kind: "Bearer token",
	},
	{
		re:   regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+)?PRIVATE\s+KEY-----`),
		kind: "private key",
	},
	{
		re:   regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["'` + "`" + `][^\s"'` + "`" + `]{8,}`),
		kind: "password",
	},
}

// Scan returns suspected credentials in order of appearance. The input is not
// modified.
func (d *LeakDetector) Scan(text string) []Leak {
	if text == "" {
		return nil
	}

	var leaks []Leak
	for _, pat := range leakPatterns {
		for _, m := range pat.re.FindAllStringIndex(text, maxPerKind) {
			leaks = append(leaks, Leak{
				Kind:   pat.kind,
				Offset: m[0],
				Sample: sample(text[m[0]:m[1]]),
			})
		}
	}
	sort.SliceStable(leaks, func(i, j int) bool { return leaks[i].Offset < leaks[j].Offset })
	return leaks
}

func sample(match string) string {
	if len(match) > 12 {
		return match[:8] + "..."
	}
	return match
}
