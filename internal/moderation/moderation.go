// Package moderation applies member timeouts ("mutes") after the same
// hierarchy checks a guild moderator would make by hand.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/basket/archivist/internal/audit"
	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/shared"
)

// MaxTimeout is the longest timeout the platform accepts.
const MaxTimeout = 28 * day

const defaultReason = "No reason provided"

var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrDurationTooLong = errors.New("timeout duration too long")
	ErrRefused         = errors.New("mute refused")

	ErrTargetIsOwner = refusal("you cannot mute the server owner")
	ErrTargetIsSelf  = refusal("you cannot mute yourself")
	ErrTargetIsBot   = refusal("you cannot mute me")
	ErrTargetIsAdmin = refusal("you cannot mute an administrator")
	ErrBotRoleTooLow = refusal("the member has the same or a higher role than me")
	ErrRoleTooLow    = refusal("the member has the same or a higher role than you")
)

func refusal(msg string) error {
	return fmt.Errorf("%w: %s", ErrRefused, msg)
}

// Profile is what the hierarchy checks need to know about a member.
type Profile struct {
	ID            string
	Username      string
	Administrator bool
	// TopRole is the position of the member's highest role; 0 is @everyone.
	TopRole int
}

// GuildInfo identifies the guild a timeout is applied in.
type GuildInfo struct {
	ID      string
	Name    string
	OwnerID string
}

// Guild is the remote side of a timeout.
type Guild interface {
	Info(ctx context.Context) (GuildInfo, error)
	// BotID is the bot's own user id.
	BotID() string
	// Profile returns ErrMemberNotFound for users outside the guild.
	Profile(ctx context.Context, userID string) (Profile, error)
	Timeout(ctx context.Context, userID string, until time.Time, reason string) error
	SendDirect(ctx context.Context, userID, message string) error
}

type Config struct {
	Guild      Guild
	Bus        *bus.Bus
	Logger     *slog.Logger
	MaxTimeout time.Duration
	Now        func() time.Time
}

type Moderator struct {
	guild      Guild
	bus        *bus.Bus
	logger     *slog.Logger
	maxTimeout time.Duration
	now        func() time.Time
}

func New(cfg Config) *Moderator {
	m := &Moderator{
		guild:      cfg.Guild,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		maxTimeout: cfg.MaxTimeout,
		now:        cfg.Now,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "moderation")
	if m.maxTimeout <= 0 || m.maxTimeout > MaxTimeout {
		m.maxTimeout = MaxTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// MuteRequest is one moderator's timeout request.
type MuteRequest struct {
	ActorID  string
	TargetID string
	// Duration is user input such as "10m" or "2 days".
	Duration string
	Reason   string
}

// MuteResult describes an applied timeout.
type MuteResult struct {
	Guild    GuildInfo
	Target   Profile
	Duration time.Duration
	Until    time.Time
	Reason   string
	// DMFailed is set when the member could not be told about the timeout.
	DMFailed bool
}

// HumanDuration renders the timeout length for people, e.g. "2 days".
func (r *MuteResult) HumanDuration() string {
	return units.HumanDuration(r.Duration)
}

// Mute checks the request against the guild hierarchy and applies the
// timeout. The direct message to the member is best effort.
func (m *Moderator) Mute(ctx context.Context, req MuteRequest) (res *MuteResult, err error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultReason
	}
	defer func() {
		outcome, detail := audit.OutcomeSuccess, ""
		switch {
		case errors.Is(err, ErrRefused):
			outcome, detail = audit.OutcomeDenied, err.Error()
		case err != nil:
			outcome, detail = audit.OutcomeFailure, err.Error()
		case res.DMFailed:
			detail = "direct message failed"
		}
		audit.Record(ctx, "moderation.mute", req.TargetID, outcome, detail)
	}()

	info, err := m.guild.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("load guild: %w", err)
	}
	target, err := m.guild.Profile(ctx, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load member %s: %w", req.TargetID, err)
	}
	if err := m.checkHierarchy(ctx, info, req.ActorID, target); err != nil {
		return nil, err
	}

	d, err := ParseDuration(req.Duration)
	if err != nil {
		return nil, err
	}
	if d > m.maxTimeout {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrDurationTooLong, units.HumanDuration(d), units.HumanDuration(m.maxTimeout))
	}

	until := m.now().Add(d)
	if err := m.guild.Timeout(ctx, target.ID, until, reason); err != nil {
		m.logger.Error("timeout failed", "target", target.ID, "error", err, "trace_id", shared.TraceID(ctx))
		return nil, fmt.Errorf("apply timeout: %w", err)
	}

	res = &MuteResult{Guild: info, Target: target, Duration: d, Until: until, Reason: reason}
	dm := fmt.Sprintf("You have been muted in **%s**.\nDuration: %s\nReason: %s", info.Name, res.HumanDuration(), reason)
	if err := m.guild.SendDirect(ctx, target.ID, dm); err != nil {
		res.DMFailed = true
		m.logger.Warn("could not notify muted member", "target", target.ID, "error", err)
	}

	m.logger.Info("member timed out", "target", target.ID, "actor", req.ActorID, "duration", d.String(),
		"trace_id", shared.TraceID(ctx))
	m.bus.Publish(bus.TopicMemberTimedOut, bus.TimeoutEvent{
		GuildID:  info.ID,
		TargetID: target.ID,
		ActorID:  req.ActorID,
		Duration: res.HumanDuration(),
		Reason:   reason,
		DMFailed: res.DMFailed,
	})
	return res, nil
}

func (m *Moderator) checkHierarchy(ctx context.Context, info GuildInfo, actorID string, target Profile) error {
	switch {
	case target.ID == info.OwnerID:
		return ErrTargetIsOwner
	case target.ID == actorID:
		return ErrTargetIsSelf
	case target.ID == m.guild.BotID():
		return ErrTargetIsBot
	case target.Administrator:
		return ErrTargetIsAdmin
	}
	bot, err := m.guild.Profile(ctx, m.guild.BotID())
	if err != nil {
		return fmt.Errorf("load bot member: %w", err)
	}
	if bot.TopRole <= target.TopRole {
		return ErrBotRoleTooLow
	}
	if actorID == info.OwnerID {
		return nil
	}
	actor, err := m.guild.Profile(ctx, actorID)
	if err != nil {
		return fmt.Errorf("load moderator: %w", err)
	}
	if actor.TopRole <= target.TopRole {
		return ErrRoleTooLow
	}
	return nil
}
