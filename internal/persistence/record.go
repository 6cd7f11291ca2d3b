package persistence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrRecordNotFound is returned when no record matches a name or channel id.
	ErrRecordNotFound = errors.New("archive record not found")
	// ErrInvalidDocument is returned when the persisted collection violates its invariants.
	ErrInvalidDocument = errors.New("invalid archive document")
)

// ChannelRef names one topic sub-channel of an archive.
type ChannelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArchiveRecord is the persisted form of one archive. Channel ids are empty
// until the corresponding remote channel exists.
type ArchiveRecord struct {
	Name                  string       `json:"name"`
	AuthorID              string       `json:"authorId"`
	CategoryID            string       `json:"categoryId,omitempty"`
	ForumChannelID        string       `json:"forumChannelId,omitempty"`
	WorkingNotesChannelID string       `json:"workingNotesChannelId,omitempty"`
	Channels              []ChannelRef `json:"channels"`
	CreatedAt             time.Time    `json:"createdAt"`
	LastModified          *time.Time   `json:"lastModified,omitempty"`
	Enabled               *bool        `json:"enabled,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (r ArchiveRecord) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// SetEnabled stores an explicit flag.
func (r *ArchiveRecord) SetEnabled(v bool) {
	r.Enabled = &v
}

// Touch sets lastModified.
func (r *ArchiveRecord) Touch(now time.Time) {
	t := now.UTC()
	r.LastModified = &t
}

// HasChannel reports whether id is one of the record's remote channels.
func (r ArchiveRecord) HasChannel(id string) bool {
	if id == "" {
		return false
	}
	if r.CategoryID == id || r.ForumChannelID == id || r.WorkingNotesChannelID == id {
		return true
	}
	for _, ch := range r.Channels {
		if ch.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r ArchiveRecord) Clone() ArchiveRecord {
	out := r
	if r.Channels != nil {
		out.Channels = append([]ChannelRef(nil), r.Channels...)
	}
	if r.LastModified != nil {
		t := *r.LastModified
		out.LastModified = &t
	}
	if r.Enabled != nil {
		v := *r.Enabled
		out.Enabled = &v
	}
	return out
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameName compares archive names case-insensitively.
func SameName(a, b string) bool {
	return nameKey(a) == nameKey(b)
}

// Validate checks the collection invariants: one record per case-insensitive
// name and no channel id repeated inside a record.
func Validate(records []ArchiveRecord) error {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		key := nameKey(rec.Name)
		if key == "" {
			return fmt.Errorf("%w: record with empty name", ErrInvalidDocument)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate archive name %q", ErrInvalidDocument, rec.Name)
		}
		seen[key] = struct{}{}

		ids := make(map[string]struct{})
		check := func(id string) error {
			if id == "" {
				return nil
			}
			if _, dup := ids[id]; dup {
				return fmt.Errorf("%w: archive %q repeats channel id %s", ErrInvalidDocument, rec.Name, id)
			}
			ids[id] = struct{}{}
			return nil
		}
		for _, id := range []string{rec.CategoryID, rec.ForumChannelID, rec.WorkingNotesChannelID} {
			if err := check(id); err != nil {
				return err
			}
		}
		for _, ch := range rec.Channels {
			if err := check(ch.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneAll(records []ArchiveRecord) []ArchiveRecord {
	out := make([]ArchiveRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
