package analyzer

import (
	"fmt"

	"github.com/basket/archivist/internal/safety"
)

var leaks = safety.NewLeakDetector()

// checkSecrets warns about credentials in the raw text, string contents included.
func checkSecrets(src *Source) Report {
	var r Report
	for _, l := range leaks.Scan(src.Text) {
		r.Warnings = appendUnique(r.Warnings,
			fmt.Sprintf("Line %d: Looks like a %s, remove it before sharing and reset it", lineAt(src.Text, l.Offset), l.Kind))
	}
	return r
}
