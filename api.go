package chatsync

import "context"

// ============================================================================
// Pagination
// ============================================================================

// Direction selects which page of messages a load asks for.
type Direction int

const (
	DirectionLatest Direction = iota // initial load of the newest page
	DirectionOlder                   // messages before an anchor id
	DirectionNewer                   // messages after an anchor id
	DirectionAround                  // messages surrounding an anchor id
)

func (d Direction) String() string {
	switch d {
	case DirectionOlder:
		return "older"
	case DirectionNewer:
		return "newer"
	case DirectionAround:
		return "around"
	default:
		return "latest"
	}
}

// MessagePagination is a page of messages relative to an anchor message.
type MessagePagination struct {
	Direction Direction `json:"direction"`
	MessageID string    `json:"messageId,omitempty"`
	Limit     int       `json:"limit"`
}

// ============================================================================
// Requests
// ============================================================================

// QueryChannelRequest queries one channel. A zero message limit is a
// metadata-only refresh that leaves loading flags and bounds untouched.
type QueryChannelRequest struct {
	Messages     MessagePagination `json:"messages"`
	MemberLimit  int               `json:"memberLimit,omitempty"`
	MemberOffset int               `json:"memberOffset,omitempty"`
	WatcherLimit int               `json:"watcherLimit,omitempty"`
	Watch        bool              `json:"watch,omitempty"`
	State        bool              `json:"state,omitempty"`
	Presence     bool              `json:"presence,omitempty"`
}

func (r QueryChannelRequest) isNotificationUpdate() bool { return r.Messages.Limit == 0 }

// QueryChannelsRequest queries one page of a channel list. ID names the
// list so its pages and cached result can be found again.
type QueryChannelsRequest struct {
	ID           string         `json:"id"`
	Filter       map[string]any `json:"filter,omitempty"`
	Sort         []string       `json:"sort,omitempty"`
	Offset       int            `json:"offset"`
	Limit        int            `json:"limit"`
	MessageLimit int            `json:"messageLimit,omitempty"`
	MemberLimit  int            `json:"memberLimit,omitempty"`
	Watch        bool           `json:"watch,omitempty"`
}

type QueryMembersRequest struct {
	Filter map[string]any `json:"filter,omitempty"`
	Offset int            `json:"offset,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

// GiphyAction is the user choice on an ephemeral giphy preview.
type GiphyAction string

const (
	GiphySend    GiphyAction = "send"
	GiphyShuffle GiphyAction = "shuffle"
	GiphyCancel  GiphyAction = "cancel"
)

// ============================================================================
// Collaborators
// ============================================================================

// ChatAPI is the remote request/response API of the chat backend.
type ChatAPI interface {
	QueryChannel(ctx context.Context, cid string, req QueryChannelRequest) (Channel, error)
	QueryChannels(ctx context.Context, req QueryChannelsRequest) ([]Channel, error)
	SendMessage(ctx context.Context, cid string, msg Message) (Message, error)
	UpdateMessage(ctx context.Context, msg Message) (Message, error)
	DeleteMessage(ctx context.Context, messageID string, hard bool) (Message, error)
	GetMessage(ctx context.Context, messageID string) (Message, error)
	SendReaction(ctx context.Context, reaction Reaction, enforceUnique bool) (Reaction, error)
	DeleteReaction(ctx context.Context, messageID, reactionType string) (Message, error)
	HideChannel(ctx context.Context, cid string, clearHistory bool) error
	MarkRead(ctx context.Context, cid, messageID string) error
	MarkAllRead(ctx context.Context) error
	QueryMembers(ctx context.Context, cid string, req QueryMembersRequest) ([]Member, error)
	ShuffleGiphy(ctx context.Context, msg Message) (Message, error)
	SendGiphy(ctx context.Context, msg Message, action GiphyAction) (Message, error)
	GetReplies(ctx context.Context, parentID string, limit int) ([]Message, error)
	GetRepliesMore(ctx context.Context, parentID, firstID string, limit int) ([]Message, error)
	GetNewerReplies(ctx context.Context, parentID, lastID string, limit int) ([]Message, error)
	FetchCurrentUser(ctx context.Context) (User, error)
}

// AttachmentUploader uploads one attachment and returns it with its remote URL set.
type AttachmentUploader interface {
	Upload(ctx context.Context, cid string, attachment Attachment) (Attachment, error)
}
