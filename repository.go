package chatsync

import (
	"context"
	"time"
)

// Repository is the durable cache. Every call is atomic on its own; callers
// compose calls without a surrounding transaction.
//
// Lookups of a single entity return (nil, nil) when it is absent.
type Repository interface {
	// ── Messages ──

	SelectMessage(ctx context.Context, id string) (*Message, error)
	// SelectMessagesForChannel returns the page of channel messages (thread-only
	// replies excluded) described by p, sorted by creation time.
	SelectMessagesForChannel(ctx context.Context, cid string, p MessagePagination) ([]Message, error)
	// SelectMessagesForThread returns the newest limit replies of parentID, oldest first.
	SelectMessagesForThread(ctx context.Context, parentID string, limit int) ([]Message, error)
	SelectMessagesBySyncStatus(ctx context.Context, status SyncStatus) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) error
	InsertMessages(ctx context.Context, msgs []Message) error
	DeleteChannelMessage(ctx context.Context, msg Message) error
	// DeleteChannelMessagesBefore removes messages of cid created at or before t.
	DeleteChannelMessagesBefore(ctx context.Context, cid string, t time.Time) error

	// ── Channels ──

	// SelectChannels returns the cached channels among cids, in request order,
	// with their messages already paginated by p.
	SelectChannels(ctx context.Context, cids []string, p MessagePagination) ([]Channel, error)
	// InsertChannels stores channel rows; Messages are stored separately.
	InsertChannels(ctx context.Context, channels []Channel) error
	SetHiddenForChannel(ctx context.Context, cid string, hidden bool, hideMessagesBefore time.Time) error
	// UpdateMembersForChannel unions members into a cached channel.
	UpdateMembersForChannel(ctx context.Context, cid string, members []Member) error
	InsertChannelConfig(ctx context.Context, cfg ChannelConfig) error
	SelectChannelConfig(ctx context.Context, channelType string) (*ChannelConfig, error)
	StoreStateForChannels(ctx context.Context, configs []ChannelConfig, users []User, channels []Channel, messages []Message) error
	InsertQueryChannels(ctx context.Context, spec QueryChannelsSpec) error
	SelectQueryChannels(ctx context.Context, id string) (*QueryChannelsSpec, error)

	// ── Reactions ──

	InsertReaction(ctx context.Context, reaction Reaction) error
	SelectUserReactionToMessage(ctx context.Context, reactionType, messageID, userID string) (*Reaction, error)
	// UpdateReactionsForMessageByDeletedDate soft-deletes every reaction of
	// userID on messageID, marking them SYNC_NEEDED.
	UpdateReactionsForMessageByDeletedDate(ctx context.Context, userID, messageID string, deletedAt time.Time) error
	SelectReactionsBySyncStatus(ctx context.Context, status SyncStatus) ([]Reaction, error)

	// ── Users ──

	InsertUsers(ctx context.Context, users []User) error
	SelectUser(ctx context.Context, id string) (*User, error)

	// Clear drops everything, used at logout.
	Clear(ctx context.Context) error
}

// ============================================================================
// NopRepository
// ============================================================================

// NopRepository is the cache stage of a pure in-memory deployment: writes
// are dropped and reads find nothing.
type NopRepository struct{}

var _ Repository = NopRepository{}

func (NopRepository) SelectMessage(context.Context, string) (*Message, error) { return nil, nil }
func (NopRepository) SelectMessagesForChannel(context.Context, string, MessagePagination) ([]Message, error) {
	return nil, nil
}
func (NopRepository) SelectMessagesForThread(context.Context, string, int) ([]Message, error) {
	return nil, nil
}
func (NopRepository) SelectMessagesBySyncStatus(context.Context, SyncStatus) ([]Message, error) {
	return nil, nil
}
func (NopRepository) InsertMessage(context.Context, Message) error                         { return nil }
func (NopRepository) InsertMessages(context.Context, []Message) error                      { return nil }
func (NopRepository) DeleteChannelMessage(context.Context, Message) error                  { return nil }
func (NopRepository) DeleteChannelMessagesBefore(context.Context, string, time.Time) error { return nil }
func (NopRepository) SelectChannels(context.Context, []string, MessagePagination) ([]Channel, error) {
	return nil, nil
}
func (NopRepository) InsertChannels(context.Context, []Channel) error { return nil }
func (NopRepository) SetHiddenForChannel(context.Context, string, bool, time.Time) error {
	return nil
}
func (NopRepository) UpdateMembersForChannel(context.Context, string, []Member) error { return nil }
func (NopRepository) InsertChannelConfig(context.Context, ChannelConfig) error        { return nil }
func (NopRepository) SelectChannelConfig(context.Context, string) (*ChannelConfig, error) {
	return nil, nil
}
func (NopRepository) StoreStateForChannels(context.Context, []ChannelConfig, []User, []Channel, []Message) error {
	return nil
}
func (NopRepository) InsertQueryChannels(context.Context, QueryChannelsSpec) error { return nil }
func (NopRepository) SelectQueryChannels(context.Context, string) (*QueryChannelsSpec, error) {
	return nil, nil
}
func (NopRepository) InsertReaction(context.Context, Reaction) error { return nil }
func (NopRepository) SelectUserReactionToMessage(context.Context, string, string, string) (*Reaction, error) {
	return nil, nil
}
func (NopRepository) UpdateReactionsForMessageByDeletedDate(context.Context, string, string, time.Time) error {
	return nil
}
func (NopRepository) SelectReactionsBySyncStatus(context.Context, SyncStatus) ([]Reaction, error) {
	return nil, nil
}
func (NopRepository) InsertUsers(context.Context, []User) error         { return nil }
func (NopRepository) SelectUser(context.Context, string) (*User, error) { return nil, nil }
func (NopRepository) Clear(context.Context) error                       { return nil }

// ============================================================================
// Shared cache helpers
// ============================================================================

// PaginateMessages applies p to msgs, which must be sorted by creation time.
// Key-value backends use it after loading a channel's messages.
func PaginateMessages(msgs []Message, p MessagePagination) []Message {
	if p.Limit <= 0 || len(msgs) == 0 {
		return nil
	}
	anchor := -1
	if p.MessageID != "" {
		for i, m := range msgs {
			if m.ID == p.MessageID {
				anchor = i
				break
			}
		}
	}

	var out []Message
	switch p.Direction {
	case DirectionOlder:
		if anchor < 0 {
			return nil
		}
		out = msgs[max(0, anchor-p.Limit):anchor]
	case DirectionNewer:
		if anchor < 0 {
			return nil
		}
		out = msgs[anchor+1 : min(len(msgs), anchor+1+p.Limit)]
	case DirectionAround:
		if anchor < 0 {
			return nil
		}
		half := p.Limit / 2
		from := max(0, anchor-half)
		to := min(len(msgs), from+p.Limit)
		out = msgs[from:to]
	default:
		out = msgs[max(0, len(msgs)-p.Limit):]
	}
	return append([]Message(nil), out...)
}

// MergeMembers unions incoming members into existing ones by user id.
func MergeMembers(existing, incoming []Member) []Member {
	out := make([]Member, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, m := range existing {
		index[m.User.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range incoming {
		if i, ok := index[m.User.ID]; ok {
			out[i] = m
			continue
		}
		index[m.User.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// SoftDeleteUserReactions stamps every reaction of userID on messageID as
// deleted at t and pending sync.
func SoftDeleteUserReactions(reactions []Reaction, userID, messageID string, t time.Time) []Reaction {
	out := make([]Reaction, len(reactions))
	for i, r := range reactions {
		if r.UserID == userID && r.MessageID == messageID {
			r.DeletedAt = t
			r.SyncStatus = SyncNeeded
		}
		out[i] = r
	}
	return out
}
