package archive

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// fakeGuild is an in-memory guild. failOn maps a channel name (create) or id
// (delete, permission) to the error returned for it.
type fakeGuild struct {
	mu         sync.Mutex
	nextID     int
	channels   map[string]Channel
	members    []Member
	membersErr error
	failOn     map[string]error
	perms      map[string]Overwrite // channelID/memberID
	deleted    []string
	creates    int
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		channels: map[string]Channel{},
		failOn:   map[string]error{},
		perms:    map[string]Overwrite{},
	}
}

func (g *fakeGuild) CreateChannel(_ context.Context, spec ChannelSpec) (Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if err := g.failOn[spec.Name]; err != nil {
		return Channel{}, err
	}
	g.nextID++
	ch := Channel{
		ID:         strconv.Itoa(1000 + g.nextID),
		Name:       spec.Name,
		Kind:       spec.Kind,
		ParentID:   spec.ParentID,
		Topic:      spec.Topic,
		Overwrites: append([]Overwrite(nil), spec.Overwrites...),
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, g.nextID, 0, time.UTC),
	}
	g.channels[ch.ID] = ch
	return ch, nil
}

func (g *fakeGuild) DeleteChannel(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn[id]; err != nil {
		return err
	}
	if _, ok := g.channels[id]; !ok {
		return fmt.Errorf("unknown channel %s", id)
	}
	delete(g.channels, id)
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *fakeGuild) EditMemberPermissions(_ context.Context, channelID, memberID string, grant, revoke Permission) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failOn[channelID]; err != nil {
		return err
	}
	ch, ok := g.channels[channelID]
	if !ok {
		return fmt.Errorf("unknown channel %s", channelID)
	}
	ows := append([]Overwrite(nil), ch.Overwrites...)
	idx := -1
	for i, ow := range ows {
		if ow.ID == memberID && ow.Type == OverwriteMember {
			idx = i
		}
	}
	if idx < 0 {
		ows = append(ows, Overwrite{ID: memberID, Type: OverwriteMember})
		idx = len(ows) - 1
	}
	ows[idx] = ows[idx].Edit(grant, revoke)
	ch.Overwrites = ows
	g.channels[channelID] = ch
	g.perms[channelID+"/"+memberID] = ows[idx]
	return nil
}

func (g *fakeGuild) Channels(context.Context) ([]Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Channel, 0, len(g.channels))
	for _, ch := range g.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *fakeGuild) Member(_ context.Context, id string) (Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m.ID == id {
			return m, nil
		}
	}
	return Member{}, fmt.Errorf("unknown member %s", id)
}

func (g *fakeGuild) Members(context.Context) ([]Member, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Member(nil), g.members...), g.membersErr
}

// add inserts a channel directly, simulating state created outside the engine.
func (g *fakeGuild) add(ch Channel) Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	if ch.ID == "" {
		ch.ID = strconv.Itoa(1000 + g.nextID)
	}
	g.channels[ch.ID] = ch
	return ch
}

func (g *fakeGuild) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.channels)
}
