package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/archivist/internal/analyzer"
	"github.com/basket/archivist/internal/bus"
	"github.com/basket/archivist/internal/shared"
)

const telegramHelp = `Send me behavior-pack script code.

/analyze <code>  report errors, warnings and platform notes
/fix [all|semicolons|modernize] <code>  return the code with automatic fixes

Code may be pasted directly or inside a fenced block.`

// TelegramChannel is an admin surface: allowed users can analyze and fix
// scripts, and every allowed chat receives archive lifecycle notifications.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	svc        Services
	bot        *tgbotapi.BotAPI

	// send delivers one outgoing message. Defaults to bot.Send.
	send func(tgbotapi.Chattable) error

	eventSubs []*bus.Subscription
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(token string, allowedIDs []int64, svc Services) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		svc:        svc,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	if t.send == nil {
		t.send = func(c tgbotapi.Chattable) error {
			_, err := t.bot.Send(c)
			return err
		}
	}

	log := t.svc.logger()
	log.Info("telegram bot started", "user", t.bot.Self.UserName, "allowed_ids", len(t.allowedIDs))

	t.SubscribeToEvents()
	defer t.Close()

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			log.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within the stall timeout. Returns nil on
// context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// The library blocks rather than closing the channel on a dead connection.
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			msg := update.Message
			if msg == nil || msg.From == nil {
				continue
			}
			if !t.allowed(msg.From.ID) {
				t.svc.logger().Warn("telegram access denied", "user_id", msg.From.ID, "user_name", msg.From.UserName)
				continue
			}
			t.handleMessage(ctx, msg)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) allowed(id int64) bool {
	_, ok := t.allowedIDs[id]
	return ok
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ctx = shared.RequestContext(ctx, "telegram", fmt.Sprintf("%d", msg.From.ID))
	text, markdown := t.respond(ctx, msg.Text)
	if text == "" {
		return
	}
	if markdown {
		t.replyMarkdown(msg.Chat.ID, text)
		return
	}
	t.reply(msg.Chat.ID, text)
}

// respond computes the reply for one message. markdown reports whether the
// reply is already MarkdownV2 encoded.
func (t *TelegramChannel) respond(ctx context.Context, text string) (reply string, markdown bool) {
	cmd, args := parseCommand(text)
	switch cmd {
	case "":
		return "", false
	case "start", "help":
		return telegramHelp, false
	case "analyze":
		code := analyzer.ExtractCode(args)
		if code == "" {
			return "Usage: /analyze <code>", false
		}
		report := t.svc.analyze(ctx, code)
		t.svc.logger().InfoContext(ctx, "telegram analyze", "errors", len(report.Errors), "warnings", len(report.Warnings))
		return plainText(FormatReport(report)), false
	case "fix":
		mode, rest := splitFixMode(args)
		code := analyzer.ExtractCode(rest)
		if code == "" {
			return "Usage: /fix [all|semicolons|modernize] <code>", false
		}
		fixed, err := analyzer.Fix(code, mode)
		if err != nil {
			return DescribeError(err), false
		}
		changed := analyzer.ChangedLines(code, fixed)
		if changed == 0 {
			return "Nothing to fix.", false
		}
		header := escapeMarkdownV2(fmt.Sprintf("Changed %d line(s):", changed))
		return header + "\n```javascript\n" + escapeCodeBlock(fixed) + "\n```", true
	default:
		return fmt.Sprintf("Unknown command /%s. Try /help.", cmd), false
	}
}

// parseCommand splits "/cmd@bot args" into its command and argument text.
// Non-command messages return an empty command.
func parseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head := text[1:]
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, args = head[:i], strings.TrimSpace(head[i:])
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), args
}

// splitFixMode takes an optional leading mode word off the arguments.
func splitFixMode(args string) (analyzer.FixMode, string) {
	word := args
	rest := ""
	if i := strings.IndexFunc(args, unicode.IsSpace); i >= 0 {
		word, rest = args[:i], strings.TrimSpace(args[i:])
	}
	switch analyzer.FixMode(strings.ToLower(word)) {
	case analyzer.FixAll, analyzer.FixSemicolons, analyzer.FixModernize:
		return analyzer.FixMode(strings.ToLower(word)), rest
	}
	return analyzer.FixAll, args
}

// SubscribeToEvents forwards archive and moderation events to every allowed chat.
func (t *TelegramChannel) SubscribeToEvents() {
	if t.svc.Bus == nil {
		return
	}
	t.eventSubs = []*bus.Subscription{
		t.svc.Bus.Subscribe(bus.TopicArchivePrefix),
		t.svc.Bus.Subscribe(bus.TopicMemberTimedOut),
	}
	for _, sub := range t.eventSubs {
		go func() {
			for {
				ev := <-sub.Ch()
				if ev.Topic == "" {
					// Channel closed on shutdown
					return
				}
				t.handleEvent(&ev)
			}
		}()
	}
}

// Close drops the event subscriptions.
func (t *TelegramChannel) Close() {
	if t.svc.Bus == nil {
		return
	}
	for _, sub := range t.eventSubs {
		t.svc.Bus.Unsubscribe(sub)
	}
	t.eventSubs = nil
}

func (t *TelegramChannel) handleEvent(ev *bus.Event) {
	var text string
	switch p := ev.Payload.(type) {
	case bus.ArchiveEvent:
		text = formatArchiveEvent(ev.Topic, p)
	case bus.ScanEvent:
		text = formatScanEvent(p)
	case bus.TimeoutEvent:
		text = formatTimeoutEvent(p)
	default:
		t.svc.logger().Warn("unexpected event payload", "topic", ev.Topic, "type", fmt.Sprintf("%T", ev.Payload))
		return
	}
	text = escapeMarkdownV2(text)
	for chatID := range t.allowedIDs {
		t.replyMarkdown(chatID, text)
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, truncate(text, telegramMessageLimit))
	if err := t.send(msg); err != nil {
		t.svc.logger().Error("failed to send telegram reply", "error", err)
	}
}

// replyMarkdown sends a markdown-formatted message.
func (t *TelegramChannel) replyMarkdown(chatID int64, text string) {
	if len(text) > telegramMessageLimit {
		// A cut could split an escape sequence, so oversized replies go out plain.
		t.reply(chatID, text)
		return
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if err := t.send(msg); err != nil {
		t.svc.logger().Error("failed to send telegram markdown reply", "error", err)
	}
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
// Must escape: _ * [ ] ( ) ~ > # + - = | { } . ! and the backslash itself.
func escapeMarkdownV2(s string) string {
	const specialChars = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(specialChars, c) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// escapeCodeBlock escapes the two characters MarkdownV2 reserves inside pre blocks.
func escapeCodeBlock(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}

func plainText(s string) string {
	return strings.ReplaceAll(s, "**", "")
}
