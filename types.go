package chatsync

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ============================================================================
// Sync Status
// ============================================================================

// SyncStatus tracks whether a locally originated mutation was confirmed by the server.
type SyncStatus string

const (
	SyncNeeded              SyncStatus = "sync_needed"
	SyncInProgress          SyncStatus = "in_progress"
	SyncCompleted           SyncStatus = "completed"
	SyncFailedPermanently   SyncStatus = "failed_permanently"
	SyncAwaitingAttachments SyncStatus = "awaiting_attachments"
)

// MessageSyncType classifies the last sync failure of a message.
type MessageSyncType string

const (
	SyncTypeFailedModeration MessageSyncType = "failed_moderation"
	SyncTypePermanentError   MessageSyncType = "permanent_error"
	SyncTypeTransientError   MessageSyncType = "transient_error"
)

// MessageSyncDescription explains why a message is not COMPLETED.
type MessageSyncDescription struct {
	Type   MessageSyncType `json:"type"`
	Reason string          `json:"reason,omitempty"`
}

// ============================================================================
// Users
// ============================================================================

type User struct {
	ID               string         `json:"id"`
	Name             string         `json:"name,omitempty"`
	Image            string         `json:"image,omitempty"`
	Role             string         `json:"role,omitempty"`
	Online           bool           `json:"online,omitempty"`
	Banned           bool           `json:"banned,omitempty"`
	LastActive       time.Time      `json:"lastActive,omitzero"`
	CreatedAt        time.Time      `json:"createdAt,omitzero"`
	UpdatedAt        time.Time      `json:"updatedAt,omitzero"`
	ExtraData        map[string]any `json:"extraData,omitempty"`
	Mutes            []Mute         `json:"mutes,omitempty"`
	ChannelMutes     []ChannelMute  `json:"channelMutes,omitempty"`
	TotalUnreadCount int            `json:"totalUnreadCount,omitempty"`
	UnreadChannels   int            `json:"unreadChannels,omitempty"`
}

// Mute is a user muted by the current user.
type Mute struct {
	User      User      `json:"user"`
	Target    User      `json:"target"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	Expires   time.Time `json:"expires,omitzero"`
}

// ChannelMute is a channel muted by the current user.
type ChannelMute struct {
	User      User      `json:"user"`
	CID       string    `json:"cid"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	Expires   time.Time `json:"expires,omitzero"`
}

// ============================================================================
// Messages
// ============================================================================

type MessageType string

const (
	MessageTypeRegular   MessageType = "regular"
	MessageTypeEphemeral MessageType = "ephemeral"
	MessageTypeError     MessageType = "error"
	MessageTypeReply     MessageType = "reply"
	MessageTypeSystem    MessageType = "system"
	MessageTypeDeleted   MessageType = "deleted"
)

// UploadState is the per-attachment upload lifecycle.
type UploadState string

const (
	UploadIdle       UploadState = "idle"
	UploadInProgress UploadState = "in_progress"
	UploadSuccess    UploadState = "success"
	UploadFailed     UploadState = "failed"
)

type Attachment struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Title       string         `json:"title,omitempty"`
	Text        string         `json:"text,omitempty"`
	Name        string         `json:"name,omitempty"`
	MimeType    string         `json:"mimeType,omitempty"`
	FileSize    int64          `json:"fileSize,omitempty"`
	AssetURL    string         `json:"assetUrl,omitempty"`
	ImageURL    string         `json:"imageUrl,omitempty"`
	LocalPath   string         `json:"localPath,omitempty"`
	UploadState UploadState    `json:"uploadState,omitempty"`
	UploadError string         `json:"uploadError,omitempty"`
	ExtraData   map[string]any `json:"extraData,omitempty"`
}

// pendingUpload reports whether the attachment still has to be uploaded.
func (a Attachment) pendingUpload() bool {
	return a.LocalPath != "" && (a.UploadState == UploadIdle || a.UploadState == UploadInProgress || a.UploadState == "")
}

type Message struct {
	ID                 string                  `json:"id"`
	CID                string                  `json:"cid"`
	Text               string                  `json:"text"`
	HTML               string                  `json:"html,omitempty"`
	Type               MessageType             `json:"type,omitempty"`
	User               User                    `json:"user"`
	ParentID           string                  `json:"parentId,omitempty"`
	ShowInChannel      bool                    `json:"showInChannel,omitempty"`
	ReplyCount         int                     `json:"replyCount,omitempty"`
	ThreadParticipants []User                  `json:"threadParticipants,omitempty"`
	QuotedMessageID    string                  `json:"quotedMessageId,omitempty"`
	MentionedUserIDs   []string                `json:"mentionedUserIds,omitempty"`
	Attachments        []Attachment            `json:"attachments,omitempty"`
	OwnReactions       []Reaction              `json:"ownReactions,omitempty"`
	LatestReactions    []Reaction              `json:"latestReactions,omitempty"`
	ReactionCounts     map[string]int          `json:"reactionCounts,omitempty"`
	ReactionScores     map[string]int          `json:"reactionScores,omitempty"`
	Command            string                  `json:"command,omitempty"`
	Silent             bool                    `json:"silent,omitempty"`
	Shadowed           bool                    `json:"shadowed,omitempty"`
	Pinned             bool                    `json:"pinned,omitempty"`
	CreatedAt          time.Time               `json:"createdAt,omitzero"`
	UpdatedAt          time.Time               `json:"updatedAt,omitzero"`
	DeletedAt          time.Time               `json:"deletedAt,omitzero"`
	CreatedLocallyAt   time.Time               `json:"createdLocallyAt,omitzero"`
	UpdatedLocallyAt   time.Time               `json:"updatedLocallyAt,omitzero"`
	SyncStatus         SyncStatus              `json:"syncStatus,omitempty"`
	SyncDescription    *MessageSyncDescription `json:"syncDescription,omitempty"`
	ExtraData          map[string]any          `json:"extraData,omitempty"`
}

// lastUpdateTime is the latest server-clock timestamp of the message.
func (m Message) lastUpdateTime() time.Time {
	return latest(m.CreatedAt, m.UpdatedAt, m.DeletedAt)
}

// lastLocalUpdateTime is the latest device-clock timestamp of the message.
func (m Message) lastLocalUpdateTime() time.Time {
	return latest(m.CreatedLocallyAt, m.UpdatedLocallyAt, m.DeletedAt)
}

// CreatedTime orders messages: server time once known, device time before that.
func (m Message) CreatedTime() time.Time {
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt
	}
	return m.CreatedLocallyAt
}

func (m Message) IsDeleted() bool { return !m.DeletedAt.IsZero() }

// IsThreadReply reports whether the message belongs to a thread only.
func (m Message) IsThreadReply() bool { return m.ParentID != "" && !m.ShowInChannel }

func (m Message) isEphemeral() bool { return m.Type == MessageTypeEphemeral }

func (m Message) failedModeration() bool {
	return m.SyncStatus == SyncFailedPermanently &&
		m.SyncDescription != nil && m.SyncDescription.Type == SyncTypeFailedModeration
}

// clone copies the slices and maps so the copy can be changed independently.
func (m Message) clone() Message {
	m.ThreadParticipants = append([]User(nil), m.ThreadParticipants...)
	m.MentionedUserIDs = append([]string(nil), m.MentionedUserIDs...)
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	m.OwnReactions = append([]Reaction(nil), m.OwnReactions...)
	m.LatestReactions = append([]Reaction(nil), m.LatestReactions...)
	m.ReactionCounts = maps.Clone(m.ReactionCounts)
	m.ReactionScores = maps.Clone(m.ReactionScores)
	if m.SyncDescription != nil {
		d := *m.SyncDescription
		m.SyncDescription = &d
	}
	return m
}

// ============================================================================
// Reactions
// ============================================================================

// Reaction is keyed by (MessageID, UserID, Type).
type Reaction struct {
	MessageID     string         `json:"messageId"`
	UserID        string         `json:"userId"`
	User          *User          `json:"user,omitempty"`
	Type          string         `json:"type"`
	Score         int            `json:"score"`
	CreatedAt     time.Time      `json:"createdAt,omitzero"`
	UpdatedAt     time.Time      `json:"updatedAt,omitzero"`
	DeletedAt     time.Time      `json:"deletedAt,omitzero"`
	SyncStatus    SyncStatus     `json:"syncStatus,omitempty"`
	EnforceUnique bool           `json:"enforceUnique,omitempty"`
	ExtraData     map[string]any `json:"extraData,omitempty"`
}

func (r Reaction) key() string { return r.MessageID + "/" + r.UserID + "/" + r.Type }

// ============================================================================
// Channel members, reads, config
// ============================================================================

type Member struct {
	User               User      `json:"user"`
	Role               string    `json:"role,omitempty"`
	ChannelRole        string    `json:"channelRole,omitempty"`
	Invited            bool      `json:"invited,omitempty"`
	Banned             bool      `json:"banned,omitempty"`
	ShadowBanned       bool      `json:"shadowBanned,omitempty"`
	NotificationsMuted bool      `json:"notificationsMuted,omitempty"`
	CreatedAt          time.Time `json:"createdAt,omitzero"`
	UpdatedAt          time.Time `json:"updatedAt,omitzero"`
	InviteAcceptedAt   time.Time `json:"inviteAcceptedAt,omitzero"`
	InviteRejectedAt   time.Time `json:"inviteRejectedAt,omitzero"`
}

// ChannelUserRead is the read marker of one user in one channel.
type ChannelUserRead struct {
	User                User      `json:"user"`
	LastRead            time.Time `json:"lastRead,omitzero"`
	UnreadMessages      int       `json:"unreadMessages"`
	LastReadMessageID   string    `json:"lastReadMessageId,omitempty"`
	LastMessageSeenDate time.Time `json:"lastMessageSeenDate,omitzero"`
}

type Command struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Args        string `json:"args,omitempty"`
	Set         string `json:"set,omitempty"`
}

// ChannelConfig holds the feature flags of a channel type.
type ChannelConfig struct {
	Type                 string    `json:"type"`
	TypingEventsEnabled  bool      `json:"typingEvents"`
	ReadEventsEnabled    bool      `json:"readEvents"`
	ConnectEventsEnabled bool      `json:"connectEvents"`
	SearchEnabled        bool      `json:"search"`
	ReactionsEnabled     bool      `json:"reactions"`
	RepliesEnabled       bool      `json:"replies"`
	MutesEnabled         bool      `json:"mutes"`
	UploadsEnabled       bool      `json:"uploads"`
	MaxMessageLength     int       `json:"maxMessageLength,omitempty"`
	Commands             []Command `json:"commands,omitempty"`
	CreatedAt            time.Time `json:"createdAt,omitzero"`
	UpdatedAt            time.Time `json:"updatedAt,omitzero"`
}

// DefaultChannelConfig is used until a query result delivers the real one.
func DefaultChannelConfig(channelType string) ChannelConfig {
	return ChannelConfig{
		Type:                 channelType,
		TypingEventsEnabled:  true,
		ReadEventsEnabled:    true,
		ConnectEventsEnabled: true,
		ReactionsEnabled:     true,
		RepliesEnabled:       true,
		MutesEnabled:         true,
		UploadsEnabled:       true,
	}
}

// ============================================================================
// Channels
// ============================================================================

// ChannelData is the metadata snapshot of a channel, replaced wholesale.
type ChannelData struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	CID             string         `json:"cid"`
	Name            string         `json:"name,omitempty"`
	Image           string         `json:"image,omitempty"`
	CreatedBy       User           `json:"createdBy"`
	Cooldown        int            `json:"cooldown,omitempty"`
	Frozen          bool           `json:"frozen,omitempty"`
	Team            string         `json:"team,omitempty"`
	MemberCount     int            `json:"memberCount,omitempty"`
	OwnCapabilities []string       `json:"ownCapabilities,omitempty"`
	Membership      *Member        `json:"membership,omitempty"`
	CreatedAt       time.Time      `json:"createdAt,omitzero"`
	UpdatedAt       time.Time      `json:"updatedAt,omitzero"`
	DeletedAt       time.Time      `json:"deletedAt,omitzero"`
	ExtraData       map[string]any `json:"extraData,omitempty"`
}

// Channel is the full channel as returned by a query or read from the cache.
type Channel struct {
	CID                  string            `json:"cid"`
	ID                   string            `json:"id"`
	Type                 string            `json:"type"`
	Name                 string            `json:"name,omitempty"`
	Image                string            `json:"image,omitempty"`
	CreatedBy            User              `json:"createdBy"`
	Cooldown             int               `json:"cooldown,omitempty"`
	Frozen               bool              `json:"frozen,omitempty"`
	Team                 string            `json:"team,omitempty"`
	MemberCount          int               `json:"memberCount,omitempty"`
	OwnCapabilities      []string          `json:"ownCapabilities,omitempty"`
	Membership           *Member           `json:"membership,omitempty"`
	CreatedAt            time.Time         `json:"createdAt,omitzero"`
	UpdatedAt            time.Time         `json:"updatedAt,omitzero"`
	DeletedAt            time.Time         `json:"deletedAt,omitzero"`
	LastMessageAt        time.Time         `json:"lastMessageAt,omitzero"`
	ExtraData            map[string]any    `json:"extraData,omitempty"`
	Hidden               bool              `json:"hidden,omitempty"`
	HiddenMessagesBefore time.Time         `json:"hiddenMessagesBefore,omitzero"`
	Messages             []Message         `json:"messages,omitempty"`
	Members              []Member          `json:"members,omitempty"`
	Watchers             []User            `json:"watchers,omitempty"`
	WatcherCount         int               `json:"watcherCount,omitempty"`
	Reads                []ChannelUserRead `json:"read,omitempty"`
	Config               ChannelConfig     `json:"config"`
	UnreadCount          int               `json:"unreadCount,omitempty"`
}

// Data extracts the metadata snapshot of the channel.
func (c Channel) Data() ChannelData {
	return ChannelData{
		ID:              c.ID,
		Type:            c.Type,
		CID:             c.CID,
		Name:            c.Name,
		Image:           c.Image,
		CreatedBy:       c.CreatedBy,
		Cooldown:        c.Cooldown,
		Frozen:          c.Frozen,
		Team:            c.Team,
		MemberCount:     c.MemberCount,
		OwnCapabilities: append([]string(nil), c.OwnCapabilities...),
		Membership:      c.Membership,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		DeletedAt:       c.DeletedAt,
		ExtraData:       maps.Clone(c.ExtraData),
	}
}

// TypingEvent lists the users currently typing in a channel.
type TypingEvent struct {
	CID   string `json:"cid"`
	Users []User `json:"users"`
}

// QueryChannelsSpec remembers which channels a channel-list query returned.
type QueryChannelsSpec struct {
	ID   string   `json:"id"`
	CIDs []string `json:"cids"`
}

// ============================================================================
// Helpers
// ============================================================================

// ParseCID splits a "{type}:{id}" channel identifier.
func ParseCID(cid string) (channelType, channelID string, err error) {
	parts := strings.SplitN(cid, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cid %q: expected {type}:{id}", cid)
	}
	return parts[0], parts[1], nil
}

func latest(times ...time.Time) time.Time {
	var t time.Time
	for _, c := range times {
		if c.After(t) {
			t = c
		}
	}
	return t
}
