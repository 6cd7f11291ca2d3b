package persistence

import (
	"regexp"
	"sort"
	"time"
)

const recentActivityLimit = 5

var categoryPrefix = regexp.MustCompile(`^(\w+)-`)

type Activity struct {
	Title     string    `json:"title"`
	Archive   string    `json:"archive"`
	CreatedAt time.Time `json:"createdAt"`
}

type Stats struct {
	TotalArchives    int        `json:"totalArchives"`
	TotalExamples    int        `json:"totalExamples"`
	CategoriesUsed   []string   `json:"categoriesUsed"`
	RecentActivity   []Activity `json:"recentActivity"`
	EnabledArchives  int        `json:"enabledArchives"`
	DisabledArchives int        `json:"disabledArchives"`
}

// ComputeStats derives totals, channel-name categories (the word before the
// first dash) and the most recently created archives.
func ComputeStats(records []ArchiveRecord) Stats {
	st := Stats{
		TotalArchives:  len(records),
		CategoriesUsed: []string{},
		RecentActivity: []Activity{},
	}
	seen := map[string]struct{}{}
	for _, rec := range records {
		st.TotalExamples += len(rec.Channels)
		if rec.IsEnabled() {
			st.EnabledArchives++
		} else {
			st.DisabledArchives++
		}
		for _, ch := range rec.Channels {
			m := categoryPrefix.FindStringSubmatch(ch.Name)
			if m == nil {
				continue
			}
			if _, ok := seen[m[1]]; !ok {
				seen[m[1]] = struct{}{}
				st.CategoriesUsed = append(st.CategoriesUsed, m[1])
			}
		}
	}

	sorted := append([]ArchiveRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	for i := 0; i < len(sorted) && i < recentActivityLimit; i++ {
		st.RecentActivity = append(st.RecentActivity, Activity{
			Title:     sorted[i].Name + "'s Archive",
			Archive:   sorted[i].Name,
			CreatedAt: sorted[i].CreatedAt,
		})
	}
	return st
}
