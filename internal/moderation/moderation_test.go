package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/basket/archivist/internal/bus"
)

type fakeGuild struct {
	info     GuildInfo
	botID    string
	members  map[string]Profile
	dmErr    error
	timeouts map[string]time.Time
	reasons  map[string]string
	dms      map[string]string
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		info:  GuildInfo{ID: "g1", Name: "Addon Lab", OwnerID: "owner"},
		botID: "bot",
		members: map[string]Profile{
			"owner": {ID: "owner", Username: "owner", TopRole: 1},
			"bot":   {ID: "bot", Username: "archivist", TopRole: 10},
			"mod":   {ID: "mod", Username: "mod", TopRole: 5},
			"user":  {ID: "user", Username: "steve", TopRole: 1},
			"peer":  {ID: "peer", Username: "peer", TopRole: 5},
			"admin": {ID: "admin", Username: "admin", Administrator: true, TopRole: 2},
			"high":  {ID: "high", Username: "high", TopRole: 12},
		},
		timeouts: map[string]time.Time{},
		reasons:  map[string]string{},
		dms:      map[string]string{},
	}
}

func (g *fakeGuild) Info(context.Context) (GuildInfo, error) { return g.info, nil }
func (g *fakeGuild) BotID() string                           { return g.botID }

func (g *fakeGuild) Profile(_ context.Context, id string) (Profile, error) {
	p, ok := g.members[id]
	if !ok {
		return Profile{}, ErrMemberNotFound
	}
	return p, nil
}

func (g *fakeGuild) Timeout(_ context.Context, id string, until time.Time, reason string) error {
	g.timeouts[id] = until
	g.reasons[id] = reason
	return nil
}

func (g *fakeGuild) SendDirect(_ context.Context, id, msg string) error {
	if g.dmErr != nil {
		return g.dmErr
	}
	g.dms[id] = msg
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newModerator(g *fakeGuild, b *bus.Bus) *Moderator {
	return New(Config{Guild: g, Bus: b, Now: func() time.Time { return fixedNow }})
}

func TestMute_AppliesTimeout(t *testing.T) {
	g := newFakeGuild()
	b := bus.New()
	sub := b.Subscribe(bus.TopicMemberTimedOut)
	defer b.Unsubscribe(sub)

	res, err := newModerator(g, b).Mute(context.Background(), MuteRequest{
		ActorID: "mod", TargetID: "user", Duration: "2d", Reason: "spam",
	})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if res.Duration != 48*time.Hour || !res.Until.Equal(fixedNow.Add(48*time.Hour)) {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := g.timeouts["user"]; !got.Equal(res.Until) {
		t.Fatalf("timeout until = %v, want %v", got, res.Until)
	}
	if g.reasons["user"] != "spam" {
		t.Fatalf("reason = %q", g.reasons["user"])
	}
	if g.dms["user"] == "" || res.DMFailed {
		t.Fatalf("expected a direct message")
	}
	if res.HumanDuration() != "2 days" {
		t.Fatalf("human duration = %q", res.HumanDuration())
	}

	select {
	case ev := <-sub.Ch():
		te, ok := ev.Payload.(bus.TimeoutEvent)
		if !ok || te.TargetID != "user" || te.ActorID != "mod" {
			t.Fatalf("unexpected event %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for moderation event")
	}
}

func TestMute_DefaultReasonAndDMFailure(t *testing.T) {
	g := newFakeGuild()
	g.dmErr = errors.New("cannot send messages to this user")
	res, err := newModerator(g, nil).Mute(context.Background(), MuteRequest{
		ActorID: "mod", TargetID: "user", Duration: "10m",
	})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !res.DMFailed {
		t.Fatalf("expected DMFailed")
	}
	if g.reasons["user"] != defaultReason {
		t.Fatalf("reason = %q", g.reasons["user"])
	}
}

func TestMute_HierarchyChecks(t *testing.T) {
	cases := []struct {
		name   string
		actor  string
		target string
		want   error
	}{
		{"owner", "mod", "owner", ErrTargetIsOwner},
		{"self", "mod", "mod", ErrTargetIsSelf},
		{"bot", "mod", "bot", ErrTargetIsBot},
		{"admin", "mod", "admin", ErrTargetIsAdmin},
		{"above bot", "owner", "high", ErrBotRoleTooLow},
		{"peer of actor", "mod", "peer", ErrRoleTooLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newFakeGuild()
			_, err := newModerator(g, nil).Mute(context.Background(), MuteRequest{
				ActorID: tc.actor, TargetID: tc.target, Duration: "1h",
			})
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrRefused) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if len(g.timeouts) != 0 {
				t.Fatalf("timeout applied despite refusal")
			}
		})
	}
}

func TestMute_OwnerBypassesActorRoleCheck(t *testing.T) {
	g := newFakeGuild()
	if _, err := newModerator(g, nil).Mute(context.Background(), MuteRequest{
		ActorID: "owner", TargetID: "peer", Duration: "1h",
	}); err != nil {
		t.Fatalf("owner mute: %v", err)
	}
}

func TestMute_DurationErrors(t *testing.T) {
	g := newFakeGuild()
	m := newModerator(g, nil)
	ctx := context.Background()
	if _, err := m.Mute(ctx, MuteRequest{ActorID: "mod", TargetID: "user", Duration: "soon"}); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := m.Mute(ctx, MuteRequest{ActorID: "mod", TargetID: "user", Duration: "29d"}); !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("expected ErrDurationTooLong, got %v", err)
	}
	if _, err := m.Mute(ctx, MuteRequest{ActorID: "mod", TargetID: "user", Duration: "28d"}); err != nil {
		t.Fatalf("28 days should be allowed: %v", err)
	}
}

func TestMute_UnknownMember(t *testing.T) {
	g := newFakeGuild()
	_, err := newModerator(g, nil).Mute(context.Background(), MuteRequest{ActorID: "mod", TargetID: "ghost", Duration: "1h"})
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestNew_CapsMaxTimeout(t *testing.T) {
	m := New(Config{Guild: newFakeGuild(), MaxTimeout: 90 * day})
	if m.maxTimeout != MaxTimeout {
		t.Fatalf("max timeout = %v, want %v", m.maxTimeout, MaxTimeout)
	}
	m = New(Config{Guild: newFakeGuild(), MaxTimeout: 7 * day})
	if m.maxTimeout != 7*day {
		t.Fatalf("max timeout = %v", m.maxTimeout)
	}
}
