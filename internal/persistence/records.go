package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Records implements the archive queries and mutations on top of any Store.
// Every mutation is one load, mutate, save cycle.
type Records struct {
	store Store
	now   func() time.Time
}

func NewRecords(store Store) *Records {
	return &Records{store: store, now: time.Now}
}

// WithClock overrides the time source used for lastModified.
func (r *Records) WithClock(now func() time.Time) *Records {
	r.now = now
	return r
}

func (r *Records) Store() Store {
	return r.store
}

func (r *Records) List(ctx context.Context) ([]ArchiveRecord, error) {
	return r.store.LoadAll(ctx)
}

// Get finds a record by case-insensitive name.
func (r *Records) Get(ctx context.Context, name string) (ArchiveRecord, error) {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return ArchiveRecord{}, err
	}
	if i := indexOf(records, name); i >= 0 {
		return records[i], nil
	}
	return ArchiveRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
}

func (r *Records) ListByAuthor(ctx context.Context, authorID string) ([]ArchiveRecord, error) {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []ArchiveRecord
	for _, rec := range records {
		if rec.AuthorID == authorID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ByChannelID finds the record owning a remote channel id.
func (r *Records) ByChannelID(ctx context.Context, channelID string) (ArchiveRecord, error) {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return ArchiveRecord{}, err
	}
	for _, rec := range records {
		if rec.HasChannel(channelID) {
			return rec, nil
		}
	}
	return ArchiveRecord{}, fmt.Errorf("%w: channel %s", ErrRecordNotFound, channelID)
}

// Search matches the query case-insensitively against archive and channel names.
func (r *Records) Search(ctx context.Context, query string) ([]ArchiveRecord, error) {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []ArchiveRecord
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Name), q) {
			out = append(out, rec)
			continue
		}
		for _, ch := range rec.Channels {
			if strings.Contains(strings.ToLower(ch.Name), q) {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}

// Mutate loads the collection, applies fn and saves the result.
func (r *Records) Mutate(ctx context.Context, fn func([]ArchiveRecord) ([]ArchiveRecord, error)) error {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	next, err := fn(records)
	if err != nil {
		return err
	}
	return r.store.SaveAll(ctx, next)
}

// Upsert merges rec into an existing record of the same name, non-empty
// incoming fields winning, or appends it.
func (r *Records) Upsert(ctx context.Context, rec ArchiveRecord) (ArchiveRecord, error) {
	var merged ArchiveRecord
	err := r.Mutate(ctx, func(records []ArchiveRecord) ([]ArchiveRecord, error) {
		records, merged = upsert(records, rec)
		return records, nil
	})
	return merged, err
}

func upsert(records []ArchiveRecord, rec ArchiveRecord) ([]ArchiveRecord, ArchiveRecord) {
	i := indexOf(records, rec.Name)
	if i < 0 {
		out := rec.Clone()
		return append(records, out), out
	}
	cur := records[i]
	if rec.Name != "" {
		cur.Name = rec.Name
	}
	if rec.AuthorID != "" {
		cur.AuthorID = rec.AuthorID
	}
	if rec.CategoryID != "" {
		cur.CategoryID = rec.CategoryID
	}
	if rec.ForumChannelID != "" {
		cur.ForumChannelID = rec.ForumChannelID
	}
	if rec.WorkingNotesChannelID != "" {
		cur.WorkingNotesChannelID = rec.WorkingNotesChannelID
	}
	if rec.Channels != nil {
		cur.Channels = append([]ChannelRef(nil), rec.Channels...)
	}
	if !rec.CreatedAt.IsZero() {
		cur.CreatedAt = rec.CreatedAt
	}
	if rec.LastModified != nil {
		t := *rec.LastModified
		cur.LastModified = &t
	}
	if rec.Enabled != nil {
		cur.SetEnabled(*rec.Enabled)
	}
	records[i] = cur
	return records, cur.Clone()
}

// Delete removes a record. It reports false when nothing matched.
func (r *Records) Delete(ctx context.Context, name string) (bool, error) {
	removed := false
	err := r.Mutate(ctx, func(records []ArchiveRecord) ([]ArchiveRecord, error) {
		i := indexOf(records, name)
		if i < 0 {
			return records, nil
		}
		removed = true
		return append(records[:i], records[i+1:]...), nil
	})
	return removed, err
}

// UpdateStatus sets the enabled flag and lastModified.
func (r *Records) UpdateStatus(ctx context.Context, name string, enabled bool) (ArchiveRecord, error) {
	return r.update(ctx, name, func(rec *ArchiveRecord) {
		rec.SetEnabled(enabled)
	})
}

// UpdateChannels replaces the topic channel list and sets lastModified.
func (r *Records) UpdateChannels(ctx context.Context, name string, channels []ChannelRef) (ArchiveRecord, error) {
	return r.update(ctx, name, func(rec *ArchiveRecord) {
		rec.Channels = append([]ChannelRef{}, channels...)
	})
}

func (r *Records) update(ctx context.Context, name string, fn func(*ArchiveRecord)) (ArchiveRecord, error) {
	var out ArchiveRecord
	err := r.Mutate(ctx, func(records []ArchiveRecord) ([]ArchiveRecord, error) {
		i := indexOf(records, name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
		}
		fn(&records[i])
		records[i].Touch(r.now())
		out = records[i].Clone()
		return records, nil
	})
	return out, err
}

// Stats computes usage statistics. With a non-empty authorID only that author's
// archives are counted.
func (r *Records) Stats(ctx context.Context, authorID string) (Stats, error) {
	records, err := r.store.LoadAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	if authorID != "" {
		filtered := records[:0:0]
		for _, rec := range records {
			if rec.AuthorID == authorID {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	return ComputeStats(records), nil
}

func indexOf(records []ArchiveRecord, name string) int {
	key := nameKey(name)
	for i, rec := range records {
		if nameKey(rec.Name) == key {
			return i
		}
	}
	return -1
}

// SortByName orders records by case-insensitive name, for stable listings.
func SortByName(records []ArchiveRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return nameKey(records[i].Name) < nameKey(records[j].Name)
	})
}
