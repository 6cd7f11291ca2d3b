// Package archive runs the archive lifecycle against a remote guild and the
// record store: create, delete, enable/disable, info and reconciliation scans.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/basket/archivist/internal/audit"
	"github.com/basket/archivist/internal/bus"
	otelpkg "github.com/basket/archivist/internal/otel"
	"github.com/basket/archivist/internal/persistence"
	"github.com/basket/archivist/internal/shared"
)

const defaultDeleteConcurrency = 4

type Config struct {
	Guild   Guild
	Records *persistence.Records
	Bus     *bus.Bus
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *otelpkg.Metrics
	Now     func() time.Time
	// DeleteConcurrency bounds parallel channel deletes. Zero uses 4; one deletes sequentially.
	DeleteConcurrency int
}

type Engine struct {
	guild       Guild
	records     *persistence.Records
	bus         *bus.Bus
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *otelpkg.Metrics
	now         func() time.Time
	concurrency int
}

func New(cfg Config) *Engine {
	e := &Engine{
		guild:       cfg.Guild,
		records:     cfg.Records,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		tracer:      cfg.Tracer,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		concurrency: cfg.DeleteConcurrency,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "archive")
	if e.tracer == nil {
		e.tracer = nooptrace.NewTracerProvider().Tracer(otelpkg.TracerName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultDeleteConcurrency
	}
	return e
}

// Records exposes the underlying record operations for read-only surfaces.
func (e *Engine) Records() *persistence.Records {
	return e.records
}

// CreateResult describes a freshly created archive.
type CreateResult struct {
	Record   persistence.ArchiveRecord
	Category Channel
	Forum    Channel
	Notes    Channel
	Topics   []Channel
}

// ChannelCount counts every remote channel created, category included.
func (r *CreateResult) ChannelCount() int {
	return 3 + len(r.Topics)
}

// Create provisions the category, forum text channel, topic catalog and notes
// channel, then persists the record. name defaults to the author's display name.
func (e *Engine) Create(ctx context.Context, author Member, name string) (res *CreateResult, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = author.DisplayName()
	}
	ctx, span := otelpkg.StartSpan(ctx, e.tracer, "archive.create", otelpkg.AttrArchive.String(name))
	start := e.now()
	defer func() { e.finish(ctx, span, "create", name, start, err, nil) }()

	if _, err := e.records.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}

	res = &CreateResult{}
	var created []Channel
	fail := func(step string, cause error) error {
		e.metrics.RecordRemoteError(ctx, "channel_create")
		e.logger.Error("archive create stopped", "archive", name, "step", step, "created", len(created), "error", cause,
			"trace_id", shared.TraceID(ctx))
		return &CreateError{Archive: name, Step: step, Leftovers: created, Err: remoteErr(cause)}
	}

	cat, err := e.guild.CreateChannel(ctx, categorySpec(name))
	if err != nil {
		return nil, fail("category", err)
	}
	created = append(created, cat)
	res.Category = cat

	forum, err := e.guild.CreateChannel(ctx, forumSpec(name, cat.ID))
	if err != nil {
		return nil, fail(forumChannelName, err)
	}
	created = append(created, forum)
	res.Forum = forum

	refs := make([]persistence.ChannelRef, 0, len(Catalog))
	for _, topic := range Catalog {
		ch, err := e.guild.CreateChannel(ctx, topicSpec(topic, cat.ID, author.ID))
		if err != nil {
			return nil, fail(topic.Name, err)
		}
		created = append(created, ch)
		res.Topics = append(res.Topics, ch)
		refs = append(refs, persistence.ChannelRef{ID: ch.ID, Name: ch.Name})
	}

	notes, err := e.guild.CreateChannel(ctx, notesSpec(cat.ID, author.ID))
	if err != nil {
		return nil, fail(notesChannelName, err)
	}
	created = append(created, notes)
	res.Notes = notes

	rec := persistence.ArchiveRecord{
		Name:                  name,
		AuthorID:              author.ID,
		CategoryID:            cat.ID,
		ForumChannelID:        forum.ID,
		WorkingNotesChannelID: notes.ID,
		Channels:              refs,
		CreatedAt:             e.now().UTC(),
	}
	rec.SetEnabled(true)
	if res.Record, err = e.records.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist archive %q: %w", name, err)
	}

	e.logger.Info("archive created", "archive", name, "author_id", author.ID, "channels", res.ChannelCount(),
		"trace_id", shared.TraceID(ctx))
	e.bus.Publish(bus.TopicArchiveCreated, bus.ArchiveEvent{
		Archive:  name,
		AuthorID: author.ID,
		ActorID:  shared.ActorID(ctx),
		Outcome:  string(OutcomeSuccess),
		Enabled:  true,
		Detail:   fmt.Sprintf("%d channels", res.ChannelCount()),
	})
	return res, nil
}

// Delete removes every channel under the archive category, the category and
// the record. Sibling channel deletes may run concurrently; every failure is
// recorded and the remaining deletes still run.
func (e *Engine) Delete(ctx context.Context, name string, confirm bool) (res *OpResult, err error) {
	ctx, span := otelpkg.StartSpan(ctx, e.tracer, "archive.delete", otelpkg.AttrArchive.String(name))
	start := e.now()
	defer func() { e.finish(ctx, span, "delete", name, start, err, res) }()

	rec, err := e.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if !confirm {
		return nil, fmt.Errorf("%w: %s", ErrConfirmationRequired, rec.Name)
	}

	res = &OpResult{Op: "delete", Archive: rec.Name}
	channels, err := e.guild.Channels(ctx)
	if err != nil {
		return nil, remoteErr(err)
	}
	category, children := archiveChannels(rec, channels)

	steps := make([]Step, len(children))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, ch := range children {
		g.Go(func() error {
			steps[i] = Step{Target: ch.Name, ChannelID: ch.ID, Err: remoteErr(e.guild.DeleteChannel(gctx, ch.ID))}
			return nil
		})
	}
	_ = g.Wait()
	res.Steps = append(res.Steps, steps...)

	if category != nil {
		res.Steps = append(res.Steps, Step{
			Target:    category.Name,
			ChannelID: category.ID,
			Err:       remoteErr(e.guild.DeleteChannel(ctx, category.ID)),
		})
	}
	for _, s := range res.Failed() {
		e.metrics.RecordRemoteError(ctx, "channel_delete")
		e.logger.Warn("archive channel delete failed", "archive", rec.Name, "channel", s.Target, "channel_id", s.ChannelID,
			"error", s.Err, "trace_id", shared.TraceID(ctx))
	}

	if _, err := e.records.Delete(ctx, rec.Name); err != nil {
		return res, fmt.Errorf("remove archive record %q: %w", rec.Name, err)
	}

	e.logger.Info("archive deleted", "archive", rec.Name, "outcome", res.Outcome(), "steps", len(res.Steps),
		"trace_id", shared.TraceID(ctx))
	e.bus.Publish(bus.TopicArchiveDeleted, bus.ArchiveEvent{
		Archive:  rec.Name,
		AuthorID: rec.AuthorID,
		ActorID:  shared.ActorID(ctx),
		Outcome:  string(res.Outcome()),
		Detail:   fmt.Sprintf("%d/%d channels removed", res.Succeeded(), len(res.Steps)),
	})
	return res, nil
}

// archiveChannels picks the remote channels that belong to rec. Without a live
// category the record's own channel ids are used, so a record missing its
// category id still takes its channels with it.
func archiveChannels(rec persistence.ArchiveRecord, channels []Channel) (*Channel, []Channel) {
	var category *Channel
	var children []Channel
	if rec.CategoryID != "" {
		for i := range channels {
			switch {
			case channels[i].ID == rec.CategoryID:
				category = &channels[i]
			case channels[i].ParentID == rec.CategoryID:
				children = append(children, channels[i])
			}
		}
	}
	if category != nil {
		return category, children
	}

	known := map[string]bool{}
	for _, id := range []string{rec.ForumChannelID, rec.WorkingNotesChannelID} {
		if id != "" {
			known[id] = true
		}
	}
	for _, ref := range rec.Channels {
		if ref.ID != "" {
			known[ref.ID] = true
		}
	}
	for _, ch := range channels {
		if known[ch.ID] && (rec.CategoryID == "" || ch.ParentID != rec.CategoryID) {
			children = append(children, ch)
		}
	}
	return nil, children
}

// SetEnabled grants (enabled) or revokes the author's posting rights on every
// topic channel. Only toggleBits change, so the rest of the creation grant
// survives. Failures accumulate; the record is updated regardless.
func (e *Engine) SetEnabled(ctx context.Context, name string, enabled bool) (res *OpResult, err error) {
	ctx, span := otelpkg.StartSpan(ctx, e.tracer, "archive.toggle",
		otelpkg.AttrArchive.String(name), attribute.Bool("archivist.enabled", enabled))
	start := e.now()
	defer func() { e.finish(ctx, span, "toggle", name, start, err, res) }()

	rec, err := e.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	grant, revoke := toggleBits, Permission(0)
	if !enabled {
		grant, revoke = 0, toggleBits
	}
	res = &OpResult{Op: "toggle", Archive: rec.Name}
	for _, ch := range rec.Channels {
		err := e.guild.EditMemberPermissions(ctx, ch.ID, rec.AuthorID, grant, revoke)
		if err != nil {
			e.metrics.RecordRemoteError(ctx, "permission_set")
			e.logger.Warn("archive permission update failed", "archive", rec.Name, "channel", ch.Name, "error", err,
				"trace_id", shared.TraceID(ctx))
		}
		res.Steps = append(res.Steps, Step{Target: ch.Name, ChannelID: ch.ID, Err: remoteErr(err)})
	}

	updated, err := e.records.UpdateStatus(ctx, rec.Name, enabled)
	if err != nil {
		return res, fmt.Errorf("update archive status %q: %w", rec.Name, err)
	}
	res.Record = &updated

	e.logger.Info("archive toggled", "archive", rec.Name, "enabled", enabled, "outcome", res.Outcome(),
		"trace_id", shared.TraceID(ctx))
	e.bus.Publish(bus.TopicArchiveToggled, bus.ArchiveEvent{
		Archive:  rec.Name,
		AuthorID: rec.AuthorID,
		ActorID:  shared.ActorID(ctx),
		Outcome:  string(res.Outcome()),
		Enabled:  enabled,
		Detail:   fmt.Sprintf("%d/%d channels updated", res.Succeeded(), len(res.Steps)),
	})
	return res, nil
}

// Info is a read-only view of an author's archives.
type Info struct {
	Archive  persistence.ArchiveRecord
	Archives []persistence.ArchiveRecord
	Stats    persistence.Stats
}

// Info returns the named archive, or the author's first archive when name is
// empty, alongside all of the author's archives and their statistics.
func (e *Engine) Info(ctx context.Context, authorID, name string) (*Info, error) {
	var selected persistence.ArchiveRecord
	if strings.TrimSpace(name) != "" {
		rec, err := e.lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		selected = rec
		if authorID == "" {
			authorID = rec.AuthorID
		}
	}
	mine, err := e.records.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if selected.Name == "" {
		if len(mine) == 0 {
			return nil, fmt.Errorf("%w: no archives for %s", ErrNotFound, authorID)
		}
		selected = mine[0]
	}
	stats, err := e.records.Stats(ctx, authorID)
	if err != nil {
		return nil, err
	}
	return &Info{Archive: selected, Archives: mine, Stats: stats}, nil
}

// ArchiveForMember finds the archive named after the member that the member authored.
func (e *Engine) ArchiveForMember(ctx context.Context, m Member) (persistence.ArchiveRecord, error) {
	rec, err := e.lookup(ctx, m.DisplayName())
	if err != nil {
		return persistence.ArchiveRecord{}, err
	}
	if rec.AuthorID != m.ID {
		return persistence.ArchiveRecord{}, fmt.Errorf("%w: %s does not own %q", ErrNotFound, m.ID, rec.Name)
	}
	return rec, nil
}

func (e *Engine) lookup(ctx context.Context, name string) (persistence.ArchiveRecord, error) {
	rec, err := e.records.Get(ctx, name)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return rec, err
}

func outcomeOf(err error, res *OpResult) Outcome {
	if err != nil {
		return OutcomeFailure
	}
	if res == nil {
		return OutcomeSuccess
	}
	return res.Outcome()
}

func (e *Engine) finish(ctx context.Context, span trace.Span, op, name string, start time.Time, err error, res *OpResult) {
	outcome := outcomeOf(err, res)
	span.SetAttributes(otelpkg.AttrOutcome.String(string(outcome)))
	if err != nil {
		span.RecordError(err)
	}
	if outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, string(outcome))
	}
	span.End()
	e.metrics.RecordArchiveOp(ctx, op, string(outcome), e.now().Sub(start).Seconds())

	auditOutcome, detail := string(outcome), ""
	if errors.Is(err, ErrPermissionDenied) {
		auditOutcome = audit.OutcomeDenied
	}
	if err != nil {
		detail = err.Error()
	} else if res != nil {
		detail = fmt.Sprintf("%d/%d steps succeeded", res.Succeeded(), len(res.Steps))
	}
	audit.Record(ctx, "archive."+op, name, auditOutcome, detail)
}
