package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/archive"
	"github.com/basket/archivist/internal/moderation"
	"github.com/basket/archivist/internal/persistence"
	"github.com/basket/archivist/internal/shared"
)

const (
	defaultConfirmTTL  = 60 * time.Second
	deleteButtonPrefix = "archive-delete:"
	debugScriptCommand = "Debug Script"
)

// Embed colors.
const (
	colorError   = 0xE74C3C
	colorWarning = 0xF1C40F
	colorClean   = 0x2ECC71
)

var errNotManager = errors.New("manage channels permission required")

type DiscordConfig struct {
	Session       *discordgo.Session
	ApplicationID string
	GuildID       string
	Services      Services
	// ConfirmTTL bounds how long a delete confirmation stays valid. Zero uses 60s.
	ConfirmTTL time.Duration
	Now        func() time.Time
}

// DiscordChannel serves the slash commands, the message context menu and the
// delete confirmation buttons.
type DiscordChannel struct {
	session    *discordgo.Session
	appID      string
	guildID    string
	svc        Services
	confirmTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]pendingDelete
}

type pendingDelete struct {
	archive string
	actorID string
	expires time.Time
}

func NewDiscordChannel(cfg DiscordConfig) *DiscordChannel {
	d := &DiscordChannel{
		session:    cfg.Session,
		appID:      cfg.ApplicationID,
		guildID:    cfg.GuildID,
		svc:        cfg.Services,
		confirmTTL: cfg.ConfirmTTL,
		now:        cfg.Now,
		pending:    make(map[string]pendingDelete),
	}
	if d.confirmTTL <= 0 {
		d.confirmTTL = defaultConfirmTTL
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

func (d *DiscordChannel) Name() string {
	return "discord"
}

// Start opens the gateway connection, registers the commands for the guild and
// serves interactions until ctx is done.
func (d *DiscordChannel) Start(ctx context.Context) error {
	log := d.svc.logger()
	d.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	remove := d.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		d.onInteraction(ctx, s, i)
	})
	defer remove()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord open failed: %w", err)
	}
	defer d.session.Close()

	appID := d.appID
	if appID == "" && d.session.State != nil && d.session.State.User != nil {
		appID = d.session.State.User.ID
	}
	cmds, err := d.session.ApplicationCommandBulkOverwrite(appID, d.guildID, applicationCommands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	log.Info("discord bot started", "guild_id", d.guildID, "commands", len(cmds))

	<-ctx.Done()
	return nil
}

func applicationCommands() []*discordgo.ApplicationCommand {
	moderate := int64(discordgo.PermissionModerateMembers)
	noDM := false

	nameOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "name",
		Description: "Archive name (defaults to your own archive)",
	}
	sub := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options:     opts,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:         "archive",
			Description:  "Manage script archives",
			DMPermission: &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				sub("create", "Create your archive category and topic forums", nameOpt),
				sub("delete", "Delete an archive and all of its channels", nameOpt),
				sub("disable", "Stop the author posting in an archive", nameOpt),
				sub("enable", "Let the author post in an archive again", nameOpt),
				sub("info", "Show an archive and its statistics", nameOpt),
				sub("scan", "Compare server channels with stored archives", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "sync",
					Description: "Update the stored archives to match the server",
				}),
			},
		},
		{
			Name:                     "mute",
			Description:              "Time out a member",
			DefaultMemberPermissions: &moderate,
			DMPermission:             &noDM,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to time out", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "How long, e.g. 10m, 1h, 1d", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason shown in the audit log"},
			},
		},
		{
			Name:        "analyze",
			Description: "Check a behavior-pack script for problems",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "code", Description: "Script source", Required: true},
			},
		},
		{
			Name: debugScriptCommand,
			Type: discordgo.MessageApplicationCommand,
		},
	}
}

// command is an application command invocation reduced to plain values.
type command struct {
	Name    string
	Sub     string
	Options map[string]string
	Actor   archive.Member
	// Manager is set when the actor holds the manage channels permission.
	Manager bool
	InGuild bool
	// Message is the target message content for context menu commands.
	Message string
}

func (c command) option(name string) string {
	return strings.TrimSpace(c.Options[name])
}

type reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

func textReply(format string, args ...any) reply {
	return reply{Content: fmt.Sprintf(format, args...)}
}

func actorOf(i *discordgo.Interaction) (archive.Member, bool) {
	var u *discordgo.User
	var nick string
	manager := false
	switch {
	case i.Member != nil && i.Member.User != nil:
		u, nick = i.Member.User, i.Member.Nick
		manager = i.Member.Permissions&(discordgo.PermissionManageChannels|discordgo.PermissionAdministrator) != 0
	case i.User != nil:
		u = i.User
	default:
		return archive.Member{}, false
	}
	return archive.Member{ID: u.ID, Username: u.Username, GlobalName: u.GlobalName, Nick: nick}, manager
}

func commandFrom(i *discordgo.Interaction) command {
	data := i.ApplicationCommandData()
	cmd := command{Name: data.Name, Options: map[string]string{}, InGuild: i.GuildID != ""}
	cmd.Actor, cmd.Manager = actorOf(i)

	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		cmd.Sub = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		cmd.Options[o.Name] = fmt.Sprint(o.Value)
	}
	if data.TargetID != "" && data.Resolved != nil {
		if m, ok := data.Resolved.Messages[data.TargetID]; ok && m != nil {
			cmd.Message = m.Content
		}
	}
	return cmd
}

func (d *DiscordChannel) onInteraction(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	log := d.svc.logger()
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		cmd := commandFrom(i.Interaction)
		ctx = shared.RequestContext(ctx, "discord", cmd.Actor.ID)
		log.InfoContext(ctx, "discord command", "command", cmd.Name, "sub", cmd.Sub, "user_id", cmd.Actor.ID,
			"trace_id", shared.TraceID(ctx))

		deferred := &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{},
		}
		if !isPublic(cmd) {
			deferred.Data.Flags = discordgo.MessageFlagsEphemeral
		}
		if err := s.InteractionRespond(i.Interaction, deferred); err != nil {
			log.Error("discord defer failed", "command", cmd.Name, "error", err)
			return
		}
		d.edit(s, i.Interaction, d.execute(ctx, cmd))

	case discordgo.InteractionMessageComponent:
		actor, _ := actorOf(i.Interaction)
		ctx = shared.RequestContext(ctx, "discord", actor.ID)
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			log.Error("discord defer failed", "component", i.MessageComponentData().CustomID, "error", err)
			return
		}
		d.edit(s, i.Interaction, d.confirm(ctx, i.MessageComponentData().CustomID, actor.ID))
	}
}

func isPublic(cmd command) bool {
	return cmd.Name == "analyze" || cmd.Name == debugScriptCommand
}

func (d *DiscordChannel) edit(s *discordgo.Session, i *discordgo.Interaction, r reply) {
	content := truncate(r.Content, discordMessageLimit)
	embeds := r.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	components := r.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	if _, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}); err != nil {
		d.svc.logger().Error("discord reply failed", "error", err)
	}
}

// execute runs one command and builds its reply.
func (d *DiscordChannel) execute(ctx context.Context, cmd command) reply {
	switch cmd.Name {
	case "analyze":
		return d.analyzeReply(ctx, cmd.option("code"))
	case debugScriptCommand:
		return d.analyzeReply(ctx, cmd.Message)
	case "mute":
		return d.mute(ctx, cmd)
	case "archive":
		return d.archiveCommand(ctx, cmd)
	}
	return textReply("Unknown command.")
}

func (d *DiscordChannel) analyzeReply(ctx context.Context, message string) reply {
	code := analyzer.ExtractCode(message)
	if code == "" {
		return textReply("No code found in that message.")
	}
	report := d.svc.analyze(ctx, code)
	return reply{Embeds: []*discordgo.MessageEmbed{reportEmbed(report)}}
}

func (d *DiscordChannel) mute(ctx context.Context, cmd command) reply {
	if d.svc.Moderator == nil || !cmd.InGuild {
		return textReply("This command only works in a server.")
	}
	res, err := d.svc.Moderator.Mute(ctx, moderation.MuteRequest{
		ActorID:  cmd.Actor.ID,
		TargetID: cmd.option("user"),
		Duration: cmd.option("duration"),
		Reason:   cmd.option("reason"),
	})
	if err != nil {
		return d.failure(ctx, "mute", err)
	}
	return reply{Content: formatMute(res)}
}

func (d *DiscordChannel) archiveCommand(ctx context.Context, cmd command) reply {
	engine := d.svc.Archives
	if engine == nil || !cmd.InGuild {
		return textReply("Archives are only available in the server.")
	}
	switch cmd.Sub {
	case "create":
		name := cmd.option("name")
		if name == "" {
			name = cmd.Actor.DisplayName()
		} else if !cmd.Manager && !persistence.SameName(name, cmd.Actor.DisplayName()) {
			return d.failure(ctx, "create", errNotManager)
		}
		res, err := engine.Create(ctx, cmd.Actor, name)
		if err != nil {
			return d.failure(ctx, "create", err)
		}
		return textReply("%s", formatCreate(res))

	case "info":
		authorID := cmd.Actor.ID
		if cmd.option("name") != "" {
			authorID = ""
		}
		info, err := engine.Info(ctx, authorID, cmd.option("name"))
		if err != nil {
			return d.failure(ctx, "info", err)
		}
		return textReply("%s", formatInfo(info))

	case "scan":
		if !cmd.Manager {
			return d.failure(ctx, "scan", errNotManager)
		}
		rep, err := engine.Scan(ctx, cmd.option("sync") == "true")
		if err != nil {
			return d.failure(ctx, "scan", err)
		}
		return textReply("%s", FormatScan(rep))

	case "delete", "disable", "enable":
		rec, err := d.target(ctx, cmd)
		if err != nil {
			return d.failure(ctx, cmd.Sub, err)
		}
		if cmd.Sub == "delete" {
			return d.askDelete(rec.Name, cmd.Actor.ID)
		}
		enabled := cmd.Sub == "enable"
		res, err := engine.SetEnabled(ctx, rec.Name, enabled)
		if err != nil && res == nil {
			return d.failure(ctx, cmd.Sub, err)
		}
		return textReply("%s", formatOp(res, cmd.Sub+"d"))
	}
	return textReply("Unknown archive command.")
}

// target resolves the archive a command acts on: the named one for managers,
// otherwise the actor's own archive.
func (d *DiscordChannel) target(ctx context.Context, cmd command) (persistence.ArchiveRecord, error) {
	name := cmd.option("name")
	if name == "" {
		return d.svc.Archives.ArchiveForMember(ctx, cmd.Actor)
	}
	rec, err := d.svc.Archives.Records().Get(ctx, name)
	if err != nil {
		return rec, err
	}
	if rec.AuthorID != cmd.Actor.ID && !cmd.Manager {
		return rec, errNotManager
	}
	return rec, nil
}

func (d *DiscordChannel) askDelete(name, actorID string) reply {
	token := d.remember(name, actorID)
	return reply{
		Content: fmt.Sprintf("Delete archive **%s** and all of its channels? This cannot be undone. "+
			"The buttons expire in %d seconds.", name, int(d.confirmTTL.Seconds())),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Delete", Style: discordgo.DangerButton, CustomID: deleteButtonPrefix + "confirm:" + token},
				discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: deleteButtonPrefix + "cancel:" + token},
			}},
		},
	}
}

// remember stores a pending delete and drops expired ones.
func (d *DiscordChannel) remember(name, actorID string) string {
	now := d.now()
	token := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, p := range d.pending {
		if now.After(p.expires) {
			delete(d.pending, k)
		}
	}
	d.pending[token] = pendingDelete{archive: name, actorID: actorID, expires: now.Add(d.confirmTTL)}
	return token
}

// take removes and returns a pending delete that is still valid.
func (d *DiscordChannel) take(token string) (pendingDelete, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[token]
	if !ok {
		return p, false
	}
	delete(d.pending, token)
	if d.now().After(p.expires) {
		return p, false
	}
	return p, true
}

func (d *DiscordChannel) confirm(ctx context.Context, customID, actorID string) reply {
	action, token, ok := strings.Cut(strings.TrimPrefix(customID, deleteButtonPrefix), ":")
	if !ok || !strings.HasPrefix(customID, deleteButtonPrefix) {
		return textReply("Unknown button.")
	}

	d.mu.Lock()
	p, exists := d.pending[token]
	d.mu.Unlock()
	if exists && p.actorID != actorID {
		return textReply("Only the person who started this deletion can confirm it.")
	}
	p, valid := d.take(token)
	if !valid {
		return textReply("This confirmation has expired. Run /archive delete again.")
	}
	if action != "confirm" {
		return textReply("Deletion of **%s** cancelled.", p.archive)
	}

	res, err := d.svc.Archives.Delete(ctx, p.archive, true)
	if err != nil && res == nil {
		return d.failure(ctx, "delete", err)
	}
	r := textReply("%s", formatOp(res, "deleted"))
	if err != nil {
		r.Content += "\nThe channels were handled but the stored record could not be removed."
		d.svc.logger().Error("archive record removal failed", "archive", p.archive, "error", err)
	}
	return r
}

func (d *DiscordChannel) failure(ctx context.Context, op string, err error) reply {
	if errors.Is(err, errNotManager) {
		return textReply("You need the Manage Channels permission to do that.")
	}
	d.svc.logger().WarnContext(ctx, "discord command failed", "op", op, "error", err, "trace_id", shared.TraceID(ctx))
	return reply{Content: DescribeError(err)}
}

func reportEmbed(r analyzer.Report) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: "Script analysis", Color: colorClean}
	switch {
	case len(r.Errors) > 0:
		e.Color = colorError
	case len(r.Warnings) > 0:
		e.Color = colorWarning
	}
	if r.Total() == 0 {
		e.Description = "No issues found."
		return e
	}
	e.Description = fmt.Sprintf("%d error(s), %d warning(s), %d suggestion(s)",
		len(r.Errors), len(r.Warnings), len(r.Suggestions)+len(r.PerformanceIssues))
	for _, s := range reportSections(r) {
		if len(s.items) == 0 {
			continue
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  s.title,
			Value: truncate("- "+strings.Join(s.items, "\n- "), 1024),
		})
	}
	return e
}
