package analyzer

// Finding categories, also used as metric labels.
const (
	CategoryError       = "error"
	CategoryWarning     = "warning"
	CategorySuggestion  = "suggestion"
	CategoryDomainNote  = "domain_note"
	CategoryPerformance = "performance"
)

// Report groups findings by category. Each list keeps first-seen order and
// holds no duplicates.
type Report struct {
	Errors            []string `json:"errors"`
	Warnings          []string `json:"warnings"`
	Suggestions       []string `json:"suggestions"`
	DomainNotes       []string `json:"domainNotes"`
	PerformanceIssues []string `json:"performanceIssues"`
}

// Total counts every finding.
func (r Report) Total() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Suggestions) + len(r.DomainNotes) + len(r.PerformanceIssues)
}

// Clean reports whether no errors or warnings were found.
func (r Report) Clean() bool {
	return len(r.Errors) == 0 && len(r.Warnings) == 0
}

// Counts maps category to finding count.
func (r Report) Counts() map[string]int {
	return map[string]int{
		CategoryError:       len(r.Errors),
		CategoryWarning:     len(r.Warnings),
		CategorySuggestion:  len(r.Suggestions),
		CategoryDomainNote:  len(r.DomainNotes),
		CategoryPerformance: len(r.PerformanceIssues),
	}
}

func (r *Report) merge(o Report) {
	r.Errors = appendUnique(r.Errors, o.Errors...)
	r.Warnings = appendUnique(r.Warnings, o.Warnings...)
	r.Suggestions = appendUnique(r.Suggestions, o.Suggestions...)
	r.DomainNotes = appendUnique(r.DomainNotes, o.DomainNotes...)
	r.PerformanceIssues = appendUnique(r.PerformanceIssues, o.PerformanceIssues...)
}

// normalize swaps nil lists for empty ones so JSON renders [].
func (r *Report) normalize() {
	for _, list := range []*[]string{&r.Errors, &r.Warnings, &r.Suggestions, &r.DomainNotes, &r.PerformanceIssues} {
		if *list == nil {
			*list = []string{}
		}
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		seen := false
		for _, have := range dst {
			if have == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}
