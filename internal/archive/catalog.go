package archive

import "strings"

const (
	categorySuffix   = "'s Archive"
	forumChannelName = "forum"
	notesChannelName = "working-notes"
)

// Topic is one entry of the fixed forum catalog created for every archive.
type Topic struct {
	Name        string
	Description string
}

// Catalog lists the topic forums in creation order.
var Catalog = []Topic{
	{"block-examples", "Block component and custom block examples"},
	{"block-projects", "Complete block-focused projects"},
	{"command-example", "Custom command examples"},
	{"command-projects", "Command-driven projects"},
	{"entity-examples", "Entity behaviour and component examples"},
	{"entity-projects", "Complete entity projects"},
	{"item-examples", "Custom item examples"},
	{"item-projects", "Complete item projects"},
	{"misc-examples", "Examples that fit nowhere else"},
	{"misc-projects", "Projects that fit nowhere else"},
	{"particles-examples", "Particle effect examples"},
	{"particles-projects", "Particle-heavy projects"},
	{"javascript-examples", "Script API examples"},
	{"javascript-functional", "Reusable script utilities and functions"},
	{"javascript-projects", "Complete scripting projects"},
	{"sound_effects", "Sound effect assets"},
	{"music-assets", "Music assets"},
}

// CategoryName is the remote category name for an archive.
func CategoryName(archive string) string {
	return archive + categorySuffix
}

// ArchiveNameFromCategory strips the archive suffix. ok is false for categories
// that do not belong to an archive.
func ArchiveNameFromCategory(category string) (string, bool) {
	if !strings.HasSuffix(category, categorySuffix) {
		return "", false
	}
	name := strings.TrimSuffix(category, categorySuffix)
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	return name, true
}

func forumTopic(archive string) string {
	return "General discussion and questions for " + CategoryName(archive)
}

const authorTopicGrant = PermSendMessages | PermManageThreads | PermCreatePublicThreads | PermManageMessages

// toggleBits are granted to the author when enabled and denied when disabled.
const toggleBits = PermSendMessages | PermCreatePublicThreads

func categorySpec(archive string) ChannelSpec {
	return ChannelSpec{
		Name: CategoryName(archive),
		Kind: KindCategory,
		Overwrites: []Overwrite{
			{ID: EveryoneID, Type: OverwriteRole, Allow: PermViewChannel | PermReadHistory},
		},
	}
}

func forumSpec(archive, parentID string) ChannelSpec {
	return ChannelSpec{
		Name:     forumChannelName,
		Kind:     KindText,
		ParentID: parentID,
		Topic:    forumTopic(archive),
	}
}

func topicSpec(t Topic, parentID, authorID string) ChannelSpec {
	return ChannelSpec{
		Name:     t.Name,
		Kind:     KindForum,
		ParentID: parentID,
		Topic:    t.Description,
		Overwrites: []Overwrite{
			{ID: EveryoneID, Type: OverwriteRole, Allow: PermViewChannel, Deny: PermSendMessages},
			{ID: authorID, Type: OverwriteMember, Allow: authorTopicGrant},
		},
	}
}

func notesSpec(parentID, authorID string) ChannelSpec {
	return ChannelSpec{
		Name:     notesChannelName,
		Kind:     KindForum,
		ParentID: parentID,
		Topic:    "Private drafts and notes",
		Overwrites: []Overwrite{
			{ID: EveryoneID, Type: OverwriteRole, Deny: PermViewChannel},
			{ID: authorID, Type: OverwriteMember, Allow: PermViewChannel | PermSendMessages | PermManageThreads},
		},
	}
}
