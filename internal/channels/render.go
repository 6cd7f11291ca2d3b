package channels

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/moderation"
	"github.com/basket/archivist/internal/persistence"
)

// Message size limits per platform.
const (
	discordMessageLimit  = 2000
	telegramMessageLimit = 4096
)

type reportSection struct {
	title string
	items []string
}

func reportSections(r analyzer.Report) []reportSection {
	return []reportSection{
		{"Errors", r.Errors},
		{"Warnings", r.Warnings},
		{"Performance", r.PerformanceIssues},
		{"Suggestions", r.Suggestions},
		{"Platform notes", r.DomainNotes},
	}
}

// FormatReport renders an analysis report as plain markdown.
func FormatReport(r analyzer.Report) string {
	if r.Total() == 0 {
		return "No issues found."
	}
	var b strings.Builder
	if r.Clean() {
		b.WriteString("No errors or warnings.\n")
	} else {
		fmt.Fprintf(&b, "Found %d error(s) and %d warning(s).\n", len(r.Errors), len(r.Warnings))
	}
	for _, s := range reportSections(r) {
		if len(s.items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n", s.title)
		for _, item := range s.items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCreate(res *archive.CreateResult) string {
	return fmt.Sprintf("Created archive **%s** with %d channels (%d topic forums).",
		res.Record.Name, res.ChannelCount(), len(res.Topics))
}

func formatOp(res *archive.OpResult, verb string) string {
	switch res.Outcome() {
	case archive.OutcomeSuccess:
		return fmt.Sprintf("Archive **%s** %s.", res.Archive, verb)
	case archive.OutcomePartial:
		lines := []string{fmt.Sprintf("Archive **%s** %s with problems: %d of %d channel steps failed.",
			res.Archive, verb, len(res.Failed()), len(res.Steps))}
		for _, s := range res.Failed() {
			lines = append(lines, fmt.Sprintf("- %s: %v", s.Target, s.Err))
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("Archive **%s** could not be %s: every channel step failed.", res.Archive, verb)
	}
}

func formatInfo(info *archive.Info) string {
	rec := info.Archive
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", rec.Name)
	status := "enabled"
	if !rec.IsEnabled() {
		status = "disabled"
	}
	fmt.Fprintf(&b, "Author: <@%s>\nStatus: %s\nTopic channels: %d\nCreated: %s\n",
		rec.AuthorID, status, len(rec.Channels), humanize.Time(rec.CreatedAt))
	st := info.Stats
	fmt.Fprintf(&b, "\nArchives: %d (%d enabled, %d disabled)\nExamples: %d\n",
		st.TotalArchives, st.EnabledArchives, st.DisabledArchives, st.TotalExamples)
	if len(st.CategoriesUsed) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(st.CategoriesUsed, ", "))
	}
	if len(st.RecentActivity) > 0 {
		b.WriteString("\n**Recent activity**\n")
		for _, a := range st.RecentActivity {
			fmt.Fprintf(&b, "- %s (%s)\n", a.Title, humanize.Time(a.CreatedAt))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatScan renders a reconciliation report.
func FormatScan(rep *archive.ScanReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d archive categories on the server, %d records in the store.\n",
		len(rep.Discovered), rep.StoredArchives)
	if rep.InSync() {
		b.WriteString("Server and store are in sync.\n")
	}
	if len(rep.NewOnServer) > 0 {
		fmt.Fprintf(&b, "New on server: %s\n", strings.Join(rep.NewOnServer, ", "))
	}
	if len(rep.MissingFromServer) > 0 {
		fmt.Fprintf(&b, "Missing from server: %s\n", strings.Join(rep.MissingFromServer, ", "))
	}
	for _, issue := range rep.Issues {
		fmt.Fprintf(&b, "Problem with %s: %v\n", issue.Archive, issue.Err)
	}
	if rep.Synced {
		fmt.Fprintf(&b, "Store updated: %d added, %d removed, %d refreshed.\n",
			len(rep.Added), len(rep.Removed), len(rep.Refreshed))
	} else if !rep.InSync() {
		b.WriteString("Run the scan with sync to update the store.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMute(res *moderation.MuteResult) string {
	msg := fmt.Sprintf("Muted **%s** for %s.\nReason: %s", res.Target.Username, res.HumanDuration(), res.Reason)
	if res.DMFailed {
		msg += "\nCould not send them a direct message. They may have DMs disabled."
	}
	return msg
}

func formatArchiveEvent(topic string, ev bus.ArchiveEvent) string {
	action := strings.TrimPrefix(topic, bus.TopicArchivePrefix)
	if topic == bus.TopicArchiveToggled {
		action = "disabled"
		if ev.Enabled {
			action = "enabled"
		}
	}
	msg := fmt.Sprintf("Archive %s %s (%s)", ev.Archive, action, ev.Outcome)
	if ev.Detail != "" {
		msg += ": " + ev.Detail
	}
	return msg
}

func formatScanEvent(ev bus.ScanEvent) string {
	if len(ev.NewOnServer) == 0 && len(ev.MissingFromServer) == 0 {
		return fmt.Sprintf("Archive scan: in sync (%d problems)", ev.Errors)
	}
	verb := "found"
	if ev.Synced {
		verb = "synced"
	}
	return fmt.Sprintf("Archive scan %s %d new on server, %d missing from server (%d problems)",
		verb, len(ev.NewOnServer), len(ev.MissingFromServer), ev.Errors)
}

func formatTimeoutEvent(ev bus.TimeoutEvent) string {
	return fmt.Sprintf("Member %s timed out for %s by %s: %s", ev.TargetID, ev.Duration, ev.ActorID, ev.Reason)
}

// DescribeError turns an operation error into a message for the person who
// asked for the operation.
func DescribeError(err error) string {
	var createErr *archive.CreateError
	switch {
	case errors.Is(err, archive.ErrPermissionDenied):
		msg := "I don't have permission to manage channels here. Check my role permissions."
		if errors.As(err, &createErr) && len(createErr.Leftovers) > 0 {
			msg += fmt.Sprintf(" %d channels were created before the failure and were left in place.", len(createErr.Leftovers))
		}
		return msg
	case errors.As(err, &createErr):
		return fmt.Sprintf("Creating the archive stopped at %s. %d channels were left in place.", createErr.Step, len(createErr.Leftovers))
	case errors.Is(err, archive.ErrAlreadyExists):
		return "An archive with that name already exists."
	case errors.Is(err, archive.ErrNotFound), errors.Is(err, persistence.ErrRecordNotFound):
		return "No archive found with that name."
	case errors.Is(err, archive.ErrConfirmationRequired):
		return "Deleting an archive needs confirmation."
	case errors.Is(err, moderation.ErrRefused):
		return capitalize(strings.TrimPrefix(err.Error(), moderation.ErrRefused.Error()+": ")) + "."
	case errors.Is(err, moderation.ErrInvalidDuration):
		return "Invalid time format. Use a duration like 10m, 1h or 1d."
	case errors.Is(err, moderation.ErrDurationTooLong):
		return "The timeout duration cannot be longer than 28 days."
	case errors.Is(err, moderation.ErrMemberNotFound):
		return "That user is not a member of this server."
	case errors.Is(err, analyzer.ErrUnknownFixMode):
		return "Unknown fix mode. Use all, semicolons or modernize."
	}
	return "Something went wrong. The error has been logged."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncate keeps messages under a platform limit.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	const marker = "\n..."
	cut := limit - len(marker)
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
