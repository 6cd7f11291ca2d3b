package archive

import (
	"context"
	"strings"
	"time"
)

// Permission is a platform-neutral permission bitset. The guild adapter maps
// each bit to the platform's own flag.
type Permission uint32

const (
	PermViewChannel Permission = 1 << iota
	PermReadHistory
	PermSendMessages
	PermManageThreads
	PermCreatePublicThreads
	PermManageMessages
)

// Has reports whether every bit of p2 is set in p.
func (p Permission) Has(p2 Permission) bool {
	return p&p2 == p2
}

type ChannelKind int

const (
	KindText ChannelKind = iota
	KindCategory
	KindForum
)

func (k ChannelKind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindForum:
		return "forum"
	default:
		return "text"
	}
}

type OverwriteType int

const (
	OverwriteRole OverwriteType = iota
	OverwriteMember
)

// EveryoneID addresses the guild's default role in overwrites.
const EveryoneID = "@everyone"

// Overwrite is a per-channel permission grant or denial for a role or member.
type Overwrite struct {
	ID    string
	Type  OverwriteType
	Allow Permission
	Deny  Permission
}

// Edit grants and revokes the named bits and leaves every other bit of the
// overwrite as it was. A bit in both sets is revoked.
func (o Overwrite) Edit(grant, revoke Permission) Overwrite {
	touched := grant | revoke
	o.Allow = (o.Allow &^ touched) | (grant &^ revoke)
	o.Deny = (o.Deny &^ touched) | revoke
	return o
}

// Channel is the engine's view of a remote channel.
type Channel struct {
	ID         string
	Name       string
	Kind       ChannelKind
	ParentID   string
	Topic      string
	Overwrites []Overwrite
	CreatedAt  time.Time
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name       string
	Kind       ChannelKind
	ParentID   string
	Topic      string
	Overwrites []Overwrite
}

// Member identifies a guild member.
type Member struct {
	ID         string
	Username   string
	GlobalName string
	Nick       string
}

// DisplayName is the guild nickname, then the global name, then the username.
func (m Member) DisplayName() string {
	for _, n := range []string{m.Nick, m.GlobalName, m.Username} {
		if strings.TrimSpace(n) != "" {
			return n
		}
	}
	return m.ID
}

// Guild is the remote collaborator that owns the channels. Implementations
// wrap ErrPermissionDenied when the platform refuses an action.
type Guild interface {
	CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	// EditMemberPermissions changes only the grant and revoke bits of the
	// member's overwrite on the channel, creating the overwrite if needed.
	EditMemberPermissions(ctx context.Context, channelID, memberID string, grant, revoke Permission) error
	Channels(ctx context.Context) ([]Channel, error)
	Member(ctx context.Context, memberID string) (Member, error)
	Members(ctx context.Context) ([]Member, error)
}
