package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/archivist/internal/bus"
	otelpkg "github.com/basket/archivist/internal/otel"
	"github.com/basket/archivist/internal/persistence"
	"github.com/basket/archivist/internal/shared"
)

// AuthorSource records how a scanned archive's author was recovered.
type AuthorSource string

const (
	AuthorFromNotes      AuthorSource = "notes_overwrite"
	AuthorFromTopic      AuthorSource = "topic_overwrite"
	AuthorFromMemberName AuthorSource = "member_name"
)

// DiscoveredArchive is an archive category found on the server.
type DiscoveredArchive struct {
	Name                  string
	CategoryID            string
	ForumChannelID        string
	WorkingNotesChannelID string
	Channels              []persistence.ChannelRef
	AuthorID              string
	AuthorSource          AuthorSource
	CreatedAt             time.Time
}

func (d DiscoveredArchive) Resolved() bool {
	return d.AuthorID != ""
}

func (d DiscoveredArchive) record(now time.Time) persistence.ArchiveRecord {
	created := d.CreatedAt
	if created.IsZero() {
		created = now
	}
	rec := persistence.ArchiveRecord{
		Name:                  d.Name,
		AuthorID:              d.AuthorID,
		CategoryID:            d.CategoryID,
		ForumChannelID:        d.ForumChannelID,
		WorkingNotesChannelID: d.WorkingNotesChannelID,
		Channels:              append([]persistence.ChannelRef{}, d.Channels...),
		CreatedAt:             created.UTC(),
	}
	rec.SetEnabled(true)
	return rec
}

type ScanIssue struct {
	Archive string
	Err     error
}

type ScanReport struct {
	Discovered        []DiscoveredArchive
	StoredArchives    int
	NewOnServer       []string
	MissingFromServer []string
	Issues            []ScanIssue
	Synced            bool
	Added             []string
	Removed           []string
	Refreshed         []string
}

// InSync reports whether the server and the store agree on the archive set.
func (r *ScanReport) InSync() bool {
	return len(r.NewOnServer) == 0 && len(r.MissingFromServer) == 0
}

// Scan discovers archive categories on the server, recovers their authors and
// diffs them against the store by case-insensitive name. With update the
// store is brought in line in a single load, mutate, save cycle.
func (e *Engine) Scan(ctx context.Context, update bool) (report *ScanReport, err error) {
	ctx, span := otelpkg.StartSpan(ctx, e.tracer, "archive.scan")
	start := e.now()
	defer func() { e.finish(ctx, span, "scan", "guild", start, err, nil) }()

	channels, err := e.guild.Channels(ctx)
	if err != nil {
		return nil, remoteErr(err)
	}

	report = &ScanReport{}
	resolver := &authorResolver{guild: e.guild}
	serverKeys := map[string]int{}
	for _, cat := range channels {
		if cat.Kind != KindCategory {
			continue
		}
		name, ok := ArchiveNameFromCategory(cat.Name)
		if !ok {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := serverKeys[key]; dup {
			report.Issues = append(report.Issues, ScanIssue{Archive: name, Err: fmt.Errorf("%w: duplicate category %q", ErrReconciliationAmbiguous, cat.Name)})
			continue
		}
		d := discover(name, cat, channels)
		if err := resolver.resolve(ctx, &d, channels); err != nil {
			report.Issues = append(report.Issues, ScanIssue{Archive: name, Err: err})
		}
		serverKeys[key] = len(report.Discovered)
		report.Discovered = append(report.Discovered, d)
	}

	stored, err := e.records.List(ctx)
	if err != nil {
		return nil, err
	}
	report.StoredArchives = len(stored)
	storedKeys := map[string]struct{}{}
	for _, rec := range stored {
		storedKeys[strings.ToLower(rec.Name)] = struct{}{}
	}
	for _, d := range report.Discovered {
		if _, ok := storedKeys[strings.ToLower(d.Name)]; !ok {
			report.NewOnServer = append(report.NewOnServer, d.Name)
		}
	}
	for _, rec := range stored {
		if _, ok := serverKeys[strings.ToLower(rec.Name)]; !ok {
			report.MissingFromServer = append(report.MissingFromServer, rec.Name)
		}
	}

	if update {
		if err := e.records.Mutate(ctx, func(records []persistence.ArchiveRecord) ([]persistence.ArchiveRecord, error) {
			return e.applyScan(records, report, serverKeys), nil
		}); err != nil {
			return report, fmt.Errorf("persist scan results: %w", err)
		}
		report.Synced = true
	}

	e.metrics.RecordDrift(ctx, "server", len(report.NewOnServer))
	e.metrics.RecordDrift(ctx, "store", len(report.MissingFromServer))
	e.logger.Info("archive scan complete",
		"server", len(report.Discovered), "stored", report.StoredArchives,
		"new_on_server", len(report.NewOnServer), "missing_from_server", len(report.MissingFromServer),
		"issues", len(report.Issues), "synced", report.Synced, "trace_id", shared.TraceID(ctx))
	for _, issue := range report.Issues {
		e.logger.Warn("archive scan issue", "archive", issue.Archive, "error", issue.Err, "trace_id", shared.TraceID(ctx))
	}
	e.bus.Publish(bus.TopicArchiveScanned, bus.ScanEvent{
		NewOnServer:       report.NewOnServer,
		MissingFromServer: report.MissingFromServer,
		Synced:            report.Synced,
		Errors:            len(report.Issues),
	})
	return report, nil
}

func (e *Engine) applyScan(records []persistence.ArchiveRecord, report *ScanReport, serverKeys map[string]int) []persistence.ArchiveRecord {
	now := e.now()
	kept := records[:0]
	present := map[string]struct{}{}
	for _, rec := range records {
		key := strings.ToLower(rec.Name)
		idx, onServer := serverKeys[key]
		if !onServer {
			report.Removed = append(report.Removed, rec.Name)
			continue
		}
		present[key] = struct{}{}
		d := report.Discovered[idx]
		if !sameChannels(rec.Channels, d.Channels) {
			rec.Channels = append([]persistence.ChannelRef{}, d.Channels...)
			rec.Touch(now)
			report.Refreshed = append(report.Refreshed, rec.Name)
		}
		kept = append(kept, rec)
	}
	for _, d := range report.Discovered {
		if _, ok := present[strings.ToLower(d.Name)]; ok || !d.Resolved() {
			continue
		}
		kept = append(kept, d.record(now))
		report.Added = append(report.Added, d.Name)
	}
	return kept
}

func discover(name string, cat Channel, channels []Channel) DiscoveredArchive {
	d := DiscoveredArchive{Name: name, CategoryID: cat.ID, CreatedAt: cat.CreatedAt}
	for _, ch := range channels {
		if ch.ParentID != cat.ID {
			continue
		}
		switch {
		case ch.Name == forumChannelName && ch.Kind == KindText:
			d.ForumChannelID = ch.ID
		case ch.Name == notesChannelName:
			d.WorkingNotesChannelID = ch.ID
		case ch.Kind == KindForum:
			d.Channels = append(d.Channels, persistence.ChannelRef{ID: ch.ID, Name: ch.Name})
		}
	}
	return d
}

// authorResolver recovers an archive's author from the remote state. The
// member list is fetched at most once per scan.
type authorResolver struct {
	guild   Guild
	members []Member
	fetched bool
	err     error
}

func (r *authorResolver) resolve(ctx context.Context, d *DiscoveredArchive, channels []Channel) error {
	byID := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	if notes, ok := byID[d.WorkingNotesChannelID]; ok && d.WorkingNotesChannelID != "" {
		for _, ow := range notes.Overwrites {
			if ow.Type == OverwriteMember && ow.Allow != 0 {
				d.AuthorID, d.AuthorSource = ow.ID, AuthorFromNotes
				return nil
			}
		}
	}
	for _, ref := range d.Channels {
		for _, ow := range byID[ref.ID].Overwrites {
			if ow.Type == OverwriteMember && ow.Allow.Has(PermSendMessages) {
				d.AuthorID, d.AuthorSource = ow.ID, AuthorFromTopic
				return nil
			}
		}
	}

	if !r.fetched {
		r.members, r.err = r.guild.Members(ctx)
		r.fetched = true
	}
	if r.err != nil {
		return fmt.Errorf("%w: %s: member list unavailable: %v", ErrReconciliationAmbiguous, d.Name, remoteErr(r.err))
	}
	for _, m := range r.members {
		for _, n := range []string{m.Username, m.DisplayName(), m.GlobalName, m.Nick} {
			if n != "" && strings.EqualFold(n, d.Name) {
				d.AuthorID, d.AuthorSource = m.ID, AuthorFromMemberName
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrReconciliationAmbiguous, d.Name)
}

func sameChannels(a, b []persistence.ChannelRef) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[persistence.ChannelRef]int, len(a))
	for _, ch := range a {
		seen[ch]++
	}
	for _, ch := range b {
		if seen[ch] == 0 {
			return false
		}
		seen[ch]--
	}
	return true
}
