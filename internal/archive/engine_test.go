package archive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/persistence"
)

var steve = Member{ID: "42", Username: "steve_mc", GlobalName: "Steve"}

func newTestEngine(t *testing.T, g *fakeGuild, seed ...persistence.ArchiveRecord) (*Engine, *persistence.MemoryStore) {
	t.Helper()
	store := persistence.NewMemoryStore(seed...)
	e := New(Config{
		Guild:   g,
		Records: persistence.NewRecords(store),
		Now:     func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return e, store
}

func TestCreate_ProvisionsCatalog(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()

	res, err := e.Create(ctx, steve, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Record.Name != "Steve" {
		t.Fatalf("expected name from display name, got %q", res.Record.Name)
	}
	if res.Category.Name != "Steve's Archive" || res.Category.Kind != KindCategory {
		t.Fatalf("unexpected category %+v", res.Category)
	}
	if res.Forum.Name != "forum" || res.Forum.Kind != KindText || res.Forum.Topic != "General discussion and questions for Steve's Archive" {
		t.Fatalf("unexpected forum channel %+v", res.Forum)
	}
	if len(res.Topics) != len(Catalog) || len(Catalog) != 17 {
		t.Fatalf("expected 17 topic channels, got %d", len(res.Topics))
	}
	for i, ch := range res.Topics {
		if ch.Name != Catalog[i].Name || ch.ParentID != res.Category.ID {
			t.Fatalf("topic %d = %+v", i, ch)
		}
	}
	if g.count() != 20 || res.ChannelCount() != 20 {
		t.Fatalf("expected 20 remote channels, got %d", g.count())
	}

	info, err := e.Info(ctx, steve.ID, "")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if len(info.Archive.Channels) != 17 || info.Archive.WorkingNotesChannelID == "" || info.Archive.ForumChannelID == "" {
		t.Fatalf("unexpected record %+v", info.Archive)
	}
	if !info.Archive.IsEnabled() || !info.Archive.CreatedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected record state %+v", info.Archive)
	}
	if info.Stats.TotalArchives != 1 || info.Stats.TotalExamples != 17 {
		t.Fatalf("unexpected stats %+v", info.Stats)
	}
}

func TestCreate_Overwrites(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	res, err := e.Create(context.Background(), steve, "Steve")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	everyone := res.Category.Overwrites[0]
	if everyone.ID != EveryoneID || !everyone.Allow.Has(PermViewChannel|PermReadHistory) {
		t.Fatalf("category overwrite = %+v", everyone)
	}
	topic := res.Topics[0].Overwrites
	if !topic[0].Deny.Has(PermSendMessages) || topic[1].ID != steve.ID || !topic[1].Allow.Has(authorTopicGrant) {
		t.Fatalf("topic overwrites = %+v", topic)
	}
	notes := res.Notes.Overwrites
	if !notes[0].Deny.Has(PermViewChannel) || notes[1].ID != steve.ID || !notes[1].Allow.Has(PermViewChannel|PermSendMessages|PermManageThreads) {
		t.Fatalf("notes overwrites = %+v", notes)
	}
}

func TestCreate_AlreadyExistsDoesNotMutate(t *testing.T) {
	g := newFakeGuild()
	e, store := newTestEngine(t, g, persistence.ArchiveRecord{Name: "steve", AuthorID: "42"})

	_, err := e.Create(context.Background(), steve, "Steve")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if g.creates != 0 || store.Saves() != 0 {
		t.Fatalf("expected no remote or store mutation, creates=%d saves=%d", g.creates, store.Saves())
	}
}

func TestCreate_PermissionDeniedLeavesNoRecord(t *testing.T) {
	g := newFakeGuild()
	g.failOn["item-examples"] = fmt.Errorf("discord 50013: %w", ErrPermissionDenied)
	e, store := newTestEngine(t, g)

	_, err := e.Create(context.Background(), steve, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	var ce *CreateError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CreateError, got %T", err)
	}
	// category, forum and the six topics before item-examples
	if len(ce.Leftovers) != 8 || ce.Step != "item-examples" {
		t.Fatalf("leftovers = %d, step = %q", len(ce.Leftovers), ce.Step)
	}
	if store.Saves() != 0 {
		t.Fatalf("record must not be persisted on failure")
	}
}

func TestCreate_GenericFailureIsRemote(t *testing.T) {
	g := newFakeGuild()
	g.failOn["working-notes"] = errors.New("503 service unavailable")
	e, _ := newTestEngine(t, g)

	_, err := e.Create(context.Background(), steve, "")
	if !errors.Is(err, ErrRemote) || errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()
	if _, err := e.Create(ctx, steve, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := e.Delete(ctx, "Steve", false); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	if g.count() != 20 {
		t.Fatalf("unconfirmed delete must not touch the guild")
	}
	if _, err := e.Info(ctx, steve.ID, "Steve"); err != nil {
		t.Fatalf("record should still exist: %v", err)
	}
}

func TestDelete_RemovesEverything(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()
	if _, err := e.Create(ctx, steve, ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := e.Delete(ctx, "steve", true)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Outcome() != OutcomeSuccess || len(res.Steps) != 20 {
		t.Fatalf("outcome = %s, steps = %d", res.Outcome(), len(res.Steps))
	}
	if g.count() != 0 {
		t.Fatalf("expected all channels removed, %d left", g.count())
	}
	if last := g.deleted[len(g.deleted)-1]; last != res.Steps[len(res.Steps)-1].ChannelID {
		t.Fatalf("category must be deleted last")
	}
	if _, err := e.Info(ctx, steve.ID, "Steve"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDelete_PartialFailure(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()
	created, err := e.Create(ctx, steve, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	g.failOn[created.Topics[3].ID] = errors.New("boom")

	res, err := e.Delete(ctx, "Steve", true)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Outcome() != OutcomePartial {
		t.Fatalf("expected partial failure, got %s", res.Outcome())
	}
	var pf *PartialFailureError
	if !errors.As(res.Err(), &pf) || len(pf.Failures) != 1 || !errors.Is(res.Err(), ErrPartialFailure) {
		t.Fatalf("unexpected partial error %v", res.Err())
	}
	if _, err := e.Info(ctx, steve.ID, "Steve"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record should be removed even on partial failure, got %v", err)
	}
}

func TestDelete_WithoutCategoryUsesRecordChannels(t *testing.T) {
	tests := []struct {
		name       string
		categoryID string
	}{
		{"empty category id", ""},
		{"category gone remotely", "9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFakeGuild()
			forum := g.add(Channel{Name: forumChannelName, Kind: KindText})
			notes := g.add(Channel{Name: notesChannelName, Kind: KindForum})
			topic := g.add(Channel{Name: "block-examples", Kind: KindForum})
			other := g.add(Channel{Name: "general", Kind: KindText})
			e, _ := newTestEngine(t, g, persistence.ArchiveRecord{
				Name:                  "Steve",
				AuthorID:              steve.ID,
				CategoryID:            tt.categoryID,
				ForumChannelID:        forum.ID,
				WorkingNotesChannelID: notes.ID,
				Channels: []persistence.ChannelRef{
					{ID: topic.ID, Name: topic.Name},
					{ID: "gone", Name: "item-examples"},
				},
			})
			ctx := context.Background()

			res, err := e.Delete(ctx, "Steve", true)
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if res.Outcome() != OutcomeSuccess || len(res.Steps) != 3 {
				t.Fatalf("outcome = %s, steps = %d", res.Outcome(), len(res.Steps))
			}
			if g.count() != 1 {
				t.Fatalf("expected only the unrelated channel left, %d remain", g.count())
			}
			if chs, _ := g.Channels(ctx); chs[0].ID != other.ID {
				t.Fatalf("wrong channel survived: %+v", chs[0])
			}
		})
	}
}

func TestDelete_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGuild())
	if _, err := e.Delete(context.Background(), "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetEnabled_DisableEnableRestoresGrant(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()
	created, err := e.Create(ctx, steve, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := created.Record.Channels

	res, err := e.SetEnabled(ctx, "Steve", false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if res.Outcome() != OutcomeSuccess || len(res.Steps) != 17 {
		t.Fatalf("outcome = %s steps = %d", res.Outcome(), len(res.Steps))
	}
	for _, topic := range created.Topics {
		ow := g.perms[topic.ID+"/"+steve.ID]
		if ow.Allow.Has(PermSendMessages) || ow.Allow.Has(PermCreatePublicThreads) || !ow.Deny.Has(toggleBits) {
			t.Fatalf("disable overwrite on %s = %+v", topic.Name, ow)
		}
		if !ow.Allow.Has(PermManageThreads | PermManageMessages) {
			t.Fatalf("disable removed bits outside the toggle on %s: %+v", topic.Name, ow)
		}
	}
	if res.Record == nil || res.Record.IsEnabled() || res.Record.LastModified == nil {
		t.Fatalf("record not updated: %+v", res.Record)
	}

	res, err = e.SetEnabled(ctx, "Steve", true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	for _, topic := range created.Topics {
		ow := g.perms[topic.ID+"/"+steve.ID]
		if ow.Allow != authorTopicGrant || ow.Deny != 0 {
			t.Fatalf("after round trip %s = %+v, want allow %b", topic.Name, ow, authorTopicGrant)
		}
	}
	if !res.Record.IsEnabled() || !reflect.DeepEqual(res.Record.Channels, before) {
		t.Fatalf("record after round trip = %+v", res.Record)
	}
}

func TestOverwriteEdit(t *testing.T) {
	tests := []struct {
		name          string
		in            Overwrite
		grant, revoke Permission
		want          Overwrite
	}{
		{"revoke keeps others", Overwrite{Allow: authorTopicGrant}, 0, toggleBits,
			Overwrite{Allow: PermManageThreads | PermManageMessages, Deny: toggleBits}},
		{"grant clears deny", Overwrite{Allow: PermManageThreads, Deny: toggleBits | PermViewChannel}, toggleBits, 0,
			Overwrite{Allow: PermManageThreads | toggleBits, Deny: PermViewChannel}},
		{"revoke wins", Overwrite{}, PermSendMessages, PermSendMessages, Overwrite{Deny: PermSendMessages}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Edit(tt.grant, tt.revoke); got != tt.want {
				t.Fatalf("Edit = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetEnabled_FailuresAccumulateAndRecordUpdates(t *testing.T) {
	g := newFakeGuild()
	e, _ := newTestEngine(t, g)
	ctx := context.Background()
	created, err := e.Create(ctx, steve, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, ch := range created.Topics {
		g.failOn[ch.ID] = fmt.Errorf("denied: %w", ErrPermissionDenied)
	}

	res, err := e.SetEnabled(ctx, "Steve", false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if res.Outcome() != OutcomeFailure {
		t.Fatalf("expected failure outcome, got %s", res.Outcome())
	}
	info, _ := e.Info(ctx, steve.ID, "")
	if info.Archive.IsEnabled() {
		t.Fatalf("record flag must change even when every channel update fails")
	}
}

func TestInfo_NotFound(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGuild())
	if _, err := e.Info(context.Background(), "42", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.Info(context.Background(), "", "Nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveForMember(t *testing.T) {
	e, _ := newTestEngine(t, newFakeGuild(), persistence.ArchiveRecord{Name: "Steve", AuthorID: "42"})
	ctx := context.Background()

	if rec, err := e.ArchiveForMember(ctx, steve); err != nil || rec.Name != "Steve" {
		t.Fatalf("owner lookup = %+v, %v", rec, err)
	}
	impostor := Member{ID: "7", Nick: "Steve"}
	if _, err := e.ArchiveForMember(ctx, impostor); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
}

func TestEngine_PublishesLifecycleEvents(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe(bus.TopicArchivePrefix)
	defer b.Unsubscribe(sub)

	e := New(Config{Guild: newFakeGuild(), Records: persistence.NewRecords(persistence.NewMemoryStore()), Bus: b})
	ctx := context.Background()
	if _, err := e.Create(ctx, steve, ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.Delete(ctx, "Steve", true); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var topics []string
	for len(topics) < 2 {
		select {
		case ev := <-sub.Ch():
			topics = append(topics, ev.Topic)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", topics)
		}
	}
	if topics[0] != bus.TopicArchiveCreated || topics[1] != bus.TopicArchiveDeleted {
		t.Fatalf("unexpected topics %v", topics)
	}
}
