package analyzer

import "testing"

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want string
	}{
		{"js fence", "check this ```js\nlet x = 1\n``` please", "let x = 1"},
		{"javascript fence", "```javascript\nfoo();\n```", "foo();"},
		{"bare fence", "```\nfoo()\n```", "foo()"},
		{"two fences", "```js\na()\n```\nand\n```js\nb()\n```", "a()\nb()"},
		{"inline", "does `world.getPlayers()` work?", "world.getPlayers()"},
		{"plain", "  let a = 1  ", "let a = 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractCode(tc.msg); got != tc.want {
				t.Fatalf("ExtractCode(%q) = %q, want %q", tc.msg, got, tc.want)
			}
		})
	}
}

func TestReportMergeDeduplicates(t *testing.T) {
	var r Report
	r.merge(Report{Errors: []string{"a", "b"}, DomainNotes: []string{"n"}})
	r.merge(Report{Errors: []string{"b", "c"}, DomainNotes: []string{"n"}})
	if len(r.Errors) != 3 || r.Errors[0] != "a" || r.Errors[2] != "c" {
		t.Fatalf("unexpected errors %q", r.Errors)
	}
	if len(r.DomainNotes) != 1 {
		t.Fatalf("unexpected notes %q", r.DomainNotes)
	}
	counts := r.Counts()
	if counts[CategoryError] != 3 || counts[CategoryDomainNote] != 1 || r.Total() != 4 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if r.Clean() {
		t.Fatalf("report with errors is not clean")
	}
}
