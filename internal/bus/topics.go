package bus

// Archive lifecycle topics. Subscribe to TopicArchivePrefix for all of them.
const (
	TopicArchivePrefix  = "archive."
	TopicArchiveCreated = "archive.created"
	TopicArchiveDeleted = "archive.deleted"
	TopicArchiveToggled = "archive.toggled"
	TopicArchiveScanned = "archive.scanned"
)

// Moderation topics.
const (
	TopicMemberTimedOut = "moderation.timeout"
)

// Runtime topics.
const (
	TopicConfigReloaded = "system.config_reloaded"
)

// ArchiveEvent is the payload for every archive.* topic.
type ArchiveEvent struct {
	Archive  string
	AuthorID string
	ActorID  string
	Outcome  string // success | partial_failure | failure
	Enabled  bool
	Detail   string
}

// ScanEvent summarizes a reconciliation pass.
type ScanEvent struct {
	NewOnServer       []string
	MissingFromServer []string
	Synced            bool
	Errors            int
}

// TimeoutEvent is published after a member timeout is applied.
type TimeoutEvent struct {
	GuildID   string
	TargetID  string
	ActorID   string
	Duration  string
	Reason    string
	DMFailed  bool
}
