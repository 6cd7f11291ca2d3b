// Package guild adapts a Discord guild to the archive and moderation
// collaborators.
package guild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/moderation"
	otelpkg "github.com/basket/archivist/internal/otel"
)

// membersPageSize is the platform's maximum page for member listing.
const membersPageSize = 1000

type Config struct {
	Session *discordgo.Session
	GuildID string
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelpkg.Metrics
}

// Discord implements archive.Guild and moderation.Guild over one guild.
type Discord struct {
	s       *discordgo.Session
	guildID string
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *otelpkg.Metrics
}

var (
	_ archive.Guild    = (*Discord)(nil)
	_ moderation.Guild = (*Discord)(nil)
)

func New(cfg Config) *Discord {
	d := &Discord{
		s:       cfg.Session,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "guild", "guild_id", cfg.GuildID)
	if d.tracer == nil {
		d.tracer = nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	return d
}

// GuildID is the guild this adapter manages.
func (d *Discord) GuildID() string {
	return d.guildID
}

// call wraps one REST request in a client span and maps its error.
func (d *Discord) call(ctx context.Context, op string, fn func(opts ...discordgo.RequestOption) error) error {
	ctx, span := otelpkg.StartClientSpan(ctx, d.tracer, "discord."+op, otelpkg.AttrOperation.String(op))
	defer span.End()
	err := fn(discordgo.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordRemoteError(ctx, op)
		d.logger.Debug("discord request failed", "op", op, "error", err)
		return mapError(op, err)
	}
	return nil
}

func (d *Discord) CreateChannel(ctx context.Context, spec archive.ChannelSpec) (archive.Channel, error) {
	var out archive.Channel
	err := d.call(ctx, "channel_create", func(opts ...discordgo.RequestOption) error {
		ch, err := d.s.GuildChannelCreateComplex(d.guildID, discordgo.GuildChannelCreateData{
			Name:                 spec.Name,
			Type:                 toChannelType(spec.Kind),
			Topic:                spec.Topic,
			ParentID:             spec.ParentID,
			PermissionOverwrites: toOverwrites(d.guildID, spec.Overwrites),
		}, opts...)
		if err != nil {
			return err
		}
		out = fromChannel(d.guildID, ch)
		return nil
	})
	return out, err
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	return d.call(ctx, "channel_delete", func(opts ...discordgo.RequestOption) error {
		_, err := d.s.ChannelDelete(channelID, opts...)
		return err
	})
}

// EditMemberPermissions reads the member's current overwrite and writes it back
// with only the grant and revoke bits changed. The platform's PUT replaces the
// whole overwrite, so bits this package does not model are carried over too.
func (d *Discord) EditMemberPermissions(ctx context.Context, channelID, memberID string, grant, revoke archive.Permission) error {
	var current *discordgo.PermissionOverwrite
	err := d.call(ctx, "channel_get", func(opts ...discordgo.RequestOption) error {
		ch, err := d.s.Channel(channelID, opts...)
		if err != nil {
			return err
		}
		current = memberOverwrite(ch.PermissionOverwrites, memberID)
		return nil
	})
	if err != nil {
		return err
	}
	allow, deny := editBits(current, toPermissionBits(grant), toPermissionBits(revoke))
	return d.call(ctx, "permission_set", func(opts ...discordgo.RequestOption) error {
		return d.s.ChannelPermissionSet(channelID, memberID, discordgo.PermissionOverwriteTypeMember, allow, deny, opts...)
	})
}

func (d *Discord) Channels(ctx context.Context) ([]archive.Channel, error) {
	var out []archive.Channel
	err := d.call(ctx, "channel_list", func(opts ...discordgo.RequestOption) error {
		chs, err := d.s.GuildChannels(d.guildID, opts...)
		if err != nil {
			return err
		}
		out = make([]archive.Channel, 0, len(chs))
		for _, ch := range chs {
			out = append(out, fromChannel(d.guildID, ch))
		}
		return nil
	})
	return out, err
}

func (d *Discord) Member(ctx context.Context, memberID string) (archive.Member, error) {
	var out archive.Member
	err := d.call(ctx, "member_get", func(opts ...discordgo.RequestOption) error {
		m, err := d.s.GuildMember(d.guildID, memberID, opts...)
		if err != nil {
			return err
		}
		out = fromMember(m)
		return nil
	})
	return out, err
}

func (d *Discord) Members(ctx context.Context) ([]archive.Member, error) {
	var out []archive.Member
	after := ""
	for {
		var page []*discordgo.Member
		err := d.call(ctx, "member_list", func(opts ...discordgo.RequestOption) error {
			var err error
			page, err = d.s.GuildMembers(d.guildID, after, membersPageSize, opts...)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			out = append(out, fromMember(m))
		}
		if len(page) < membersPageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// moderation.Guild

func (d *Discord) Info(ctx context.Context) (moderation.GuildInfo, error) {
	var out moderation.GuildInfo
	err := d.call(ctx, "guild_get", func(opts ...discordgo.RequestOption) error {
		g, err := d.s.Guild(d.guildID, opts...)
		if err != nil {
			return err
		}
		out = moderation.GuildInfo{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
		return nil
	})
	return out, err
}

func (d *Discord) BotID() string {
	if d.s.State == nil || d.s.State.User == nil {
		return ""
	}
	return d.s.State.User.ID
}

func (d *Discord) Profile(ctx context.Context, userID string) (moderation.Profile, error) {
	var (
		member *discordgo.Member
		roles  []*discordgo.Role
	)
	err := d.call(ctx, "member_get", func(opts ...discordgo.RequestOption) error {
		var err error
		member, err = d.s.GuildMember(d.guildID, userID, opts...)
		return err
	})
	if err != nil {
		if isUnknownMember(err) {
			return moderation.Profile{}, fmt.Errorf("%w: %s", moderation.ErrMemberNotFound, userID)
		}
		return moderation.Profile{}, err
	}
	err = d.call(ctx, "role_list", func(opts ...discordgo.RequestOption) error {
		var err error
		roles, err = d.s.GuildRoles(d.guildID, opts...)
		return err
	})
	if err != nil {
		return moderation.Profile{}, err
	}
	return profileOf(member, roles), nil
}

func (d *Discord) Timeout(ctx context.Context, userID string, until time.Time, reason string) error {
	return d.call(ctx, "member_timeout", func(opts ...discordgo.RequestOption) error {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
		return d.s.GuildMemberTimeout(d.guildID, userID, &until, opts...)
	})
}

func (d *Discord) SendDirect(ctx context.Context, userID, message string) error {
	return d.call(ctx, "direct_message", func(opts ...discordgo.RequestOption) error {
		ch, err := d.s.UserChannelCreate(userID, opts...)
		if err != nil {
			return err
		}
		_, err = d.s.ChannelMessageSend(ch.ID, message, opts...)
		return err
	})
}

// mapping

var permissionBits = []struct {
	perm archive.Permission
	bit  int64
}{
	{archive.PermViewChannel, discordgo.PermissionViewChannel},
	{archive.PermReadHistory, discordgo.PermissionReadMessageHistory},
	{archive.PermSendMessages, discordgo.PermissionSendMessages},
	{archive.PermManageThreads, discordgo.PermissionManageThreads},
	{archive.PermCreatePublicThreads, discordgo.PermissionCreatePublicThreads},
	{archive.PermManageMessages, discordgo.PermissionManageMessages},
}

func toPermissionBits(p archive.Permission) int64 {
	var out int64
	for _, pb := range permissionBits {
		if p.Has(pb.perm) {
			out |= pb.bit
		}
	}
	return out
}

func memberOverwrite(ows []*discordgo.PermissionOverwrite, memberID string) *discordgo.PermissionOverwrite {
	for _, ow := range ows {
		if ow != nil && ow.ID == memberID && ow.Type == discordgo.PermissionOverwriteTypeMember {
			return ow
		}
	}
	return nil
}

// editBits applies grant and revoke to an existing overwrite (nil for none).
func editBits(cur *discordgo.PermissionOverwrite, grant, revoke int64) (allow, deny int64) {
	if cur != nil {
		allow, deny = cur.Allow, cur.Deny
	}
	touched := grant | revoke
	allow = (allow &^ touched) | (grant &^ revoke)
	deny = (deny &^ touched) | revoke
	return allow, deny
}

func fromPermissionBits(bits int64) archive.Permission {
	var out archive.Permission
	for _, pb := range permissionBits {
		if bits&pb.bit == pb.bit {
			out |= pb.perm
		}
	}
	return out
}

func toChannelType(k archive.ChannelKind) discordgo.ChannelType {
	switch k {
	case archive.KindCategory:
		return discordgo.ChannelTypeGuildCategory
	case archive.KindForum:
		return discordgo.ChannelTypeGuildForum
	default:
		return discordgo.ChannelTypeGuildText
	}
}

func fromChannelType(t discordgo.ChannelType) archive.ChannelKind {
	switch t {
	case discordgo.ChannelTypeGuildCategory:
		return archive.KindCategory
	case discordgo.ChannelTypeGuildForum:
		return archive.KindForum
	default:
		return archive.KindText
	}
}

// The @everyone role shares the guild's id.
func toOverwrites(guildID string, ows []archive.Overwrite) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(ows))
	for _, ow := range ows {
		id := ow.ID
		if id == archive.EveryoneID {
			id = guildID
		}
		typ := discordgo.PermissionOverwriteTypeRole
		if ow.Type == archive.OverwriteMember {
			typ = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  typ,
			Allow: toPermissionBits(ow.Allow),
			Deny:  toPermissionBits(ow.Deny),
		})
	}
	return out
}

func fromOverwrites(guildID string, ows []*discordgo.PermissionOverwrite) []archive.Overwrite {
	out := make([]archive.Overwrite, 0, len(ows))
	for _, ow := range ows {
		id := ow.ID
		if id == guildID && ow.Type == discordgo.PermissionOverwriteTypeRole {
			id = archive.EveryoneID
		}
		typ := archive.OverwriteRole
		if ow.Type == discordgo.PermissionOverwriteTypeMember {
			typ = archive.OverwriteMember
		}
		out = append(out, archive.Overwrite{
			ID:    id,
			Type:  typ,
			Allow: fromPermissionBits(ow.Allow),
			Deny:  fromPermissionBits(ow.Deny),
		})
	}
	return out
}

func fromChannel(guildID string, ch *discordgo.Channel) archive.Channel {
	out := archive.Channel{
		ID:         ch.ID,
		Name:       ch.Name,
		Kind:       fromChannelType(ch.Type),
		ParentID:   ch.ParentID,
		Topic:      ch.Topic,
		Overwrites: fromOverwrites(guildID, ch.PermissionOverwrites),
	}
	if ts, err := discordgo.SnowflakeTimestamp(ch.ID); err == nil {
		out.CreatedAt = ts.UTC()
	}
	return out
}

func fromMember(m *discordgo.Member) archive.Member {
	out := archive.Member{Nick: m.Nick}
	if m.User != nil {
		out.ID = m.User.ID
		out.Username = m.User.Username
		out.GlobalName = m.User.GlobalName
	}
	return out
}

// profileOf resolves a member's highest role position and admin flag.
func profileOf(m *discordgo.Member, roles []*discordgo.Role) moderation.Profile {
	byID := make(map[string]*discordgo.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	p := moderation.Profile{}
	if m.User != nil {
		p.ID = m.User.ID
		p.Username = m.User.Username
	}
	for _, id := range m.Roles {
		r, ok := byID[id]
		if !ok {
			continue
		}
		if r.Position > p.TopRole {
			p.TopRole = r.Position
		}
		if r.Permissions&discordgo.PermissionAdministrator != 0 {
			p.Administrator = true
		}
	}
	return p
}

// mapError keeps the platform error text and tags refusals with
// archive.ErrPermissionDenied.
func mapError(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
				return fmt.Errorf("%s: %w: %s", op, archive.ErrPermissionDenied, rest.Message.Message)
			}
		}
		if rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%s: %w", op, archive.ErrPermissionDenied)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnknownMember(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil && (rest.Message.Code == discordgo.ErrCodeUnknownMember || rest.Message.Code == discordgo.ErrCodeUnknownUser) {
		return true
	}
	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}
