package chatsync

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ============================================================================
// Event Types
// ============================================================================

type EventType string

const (
	EventMessageNew                      EventType = "message.new"
	EventMessageUpdated                  EventType = "message.updated"
	EventMessageDeleted                  EventType = "message.deleted"
	EventMessageRead                     EventType = "message.read"
	EventNotificationMessageNew          EventType = "notification.message_new"
	EventNotificationMarkRead            EventType = "notification.mark_read"
	EventNotificationMarkAllRead         EventType = "notification.mark_all_read"
	EventReactionNew                     EventType = "reaction.new"
	EventReactionUpdated                 EventType = "reaction.updated"
	EventReactionDeleted                 EventType = "reaction.deleted"
	EventMemberAdded                     EventType = "member.added"
	EventMemberUpdated                   EventType = "member.updated"
	EventMemberRemoved                   EventType = "member.removed"
	EventNotificationAddedToChannel      EventType = "notification.added_to_channel"
	EventNotificationRemovedFromChannel  EventType = "notification.removed_from_channel"
	EventNotificationChannelDeleted      EventType = "notification.channel_deleted"
	EventNotificationChannelTruncated    EventType = "notification.channel_truncated"
	EventNotificationChannelMutesUpdated EventType = "notification.channel_mutes_updated"
	EventNotificationMutesUpdated        EventType = "notification.mutes_updated"
	EventUserPresenceChanged             EventType = "user.presence.changed"
	EventUserUpdated                     EventType = "user.updated"
	EventTypingStart                     EventType = "typing.start"
	EventTypingStop                      EventType = "typing.stop"
	EventChannelUpdated                  EventType = "channel.updated"
	EventChannelHidden                   EventType = "channel.hidden"
	EventChannelVisible                  EventType = "channel.visible"
	EventChannelDeleted                  EventType = "channel.deleted"
	EventChannelTruncated                EventType = "channel.truncated"
	EventUserWatchingStart               EventType = "user.watching.start"
	EventUserWatchingStop                EventType = "user.watching.stop"
	EventUserBanned                      EventType = "user.banned"
	EventUserUnbanned                    EventType = "user.unbanned"
	EventConnected                       EventType = "connection.connected"
	EventConnecting                      EventType = "connection.connecting"
	EventDisconnected                    EventType = "connection.disconnected"
	EventHealthCheck                     EventType = "health.check"
	EventUnknown                         EventType = "unknown"
)

// Event is one of the closed set of domain events defined in this file.
type Event interface {
	Type() EventType
	Created() time.Time
	// ChannelCID is the channel the event belongs to, empty for global events.
	ChannelCID() string
	event()
}

// EventBase carries the fields every event has.
type EventBase struct {
	CreatedAt time.Time `json:"createdAt,omitzero"`
	CID       string    `json:"cid,omitempty"`
}

func (e EventBase) Created() time.Time { return e.CreatedAt }
func (e EventBase) ChannelCID() string { return e.CID }
func (EventBase) event()               {}

// ============================================================================
// Message events
// ============================================================================

type NewMessageEvent struct {
	EventBase
	User             User    `json:"user"`
	Message          Message `json:"message"`
	WatcherCount     int     `json:"watcherCount,omitempty"`
	TotalUnreadCount int     `json:"totalUnreadCount,omitempty"`
	UnreadChannels   int     `json:"unreadChannels,omitempty"`
}

type MessageUpdatedEvent struct {
	EventBase
	User    User    `json:"user"`
	Message Message `json:"message"`
}

type MessageDeletedEvent struct {
	EventBase
	User       *User   `json:"user,omitempty"`
	Message    Message `json:"message"`
	HardDelete bool    `json:"hardDelete,omitempty"`
}

type NotificationMessageNewEvent struct {
	EventBase
	Message          Message `json:"message"`
	Channel          Channel `json:"channel"`
	TotalUnreadCount int     `json:"totalUnreadCount,omitempty"`
	UnreadChannels   int     `json:"unreadChannels,omitempty"`
}

func (NewMessageEvent) Type() EventType             { return EventMessageNew }
func (MessageUpdatedEvent) Type() EventType         { return EventMessageUpdated }
func (MessageDeletedEvent) Type() EventType         { return EventMessageDeleted }
func (NotificationMessageNewEvent) Type() EventType { return EventNotificationMessageNew }

// ============================================================================
// Read events
// ============================================================================

type MessageReadEvent struct {
	EventBase
	User              User   `json:"user"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
}

type NotificationMarkReadEvent struct {
	EventBase
	User              User   `json:"user"`
	UnreadMessages    int    `json:"unreadMessages"`
	LastReadMessageID string `json:"lastReadMessageId,omitempty"`
	TotalUnreadCount  int    `json:"totalUnreadCount"`
	UnreadChannels    int    `json:"unreadChannels"`
}

type MarkAllReadEvent struct {
	EventBase
	User             User `json:"user"`
	TotalUnreadCount int  `json:"totalUnreadCount"`
	UnreadChannels   int  `json:"unreadChannels"`
}

func (MessageReadEvent) Type() EventType          { return EventMessageRead }
func (NotificationMarkReadEvent) Type() EventType { return EventNotificationMarkRead }
func (MarkAllReadEvent) Type() EventType          { return EventNotificationMarkAllRead }

// ============================================================================
// Reaction events
// ============================================================================

type ReactionNewEvent struct {
	EventBase
	User     User     `json:"user"`
	Message  Message  `json:"message"`
	Reaction Reaction `json:"reaction"`
}

type ReactionUpdatedEvent struct {
	EventBase
	User     User     `json:"user"`
	Message  Message  `json:"message"`
	Reaction Reaction `json:"reaction"`
}

type ReactionDeletedEvent struct {
	EventBase
	User     User     `json:"user"`
	Message  Message  `json:"message"`
	Reaction Reaction `json:"reaction"`
}

func (ReactionNewEvent) Type() EventType     { return EventReactionNew }
func (ReactionUpdatedEvent) Type() EventType { return EventReactionUpdated }
func (ReactionDeletedEvent) Type() EventType { return EventReactionDeleted }

// ============================================================================
// Member and watcher events
// ============================================================================

type MemberAddedEvent struct {
	EventBase
	User   User   `json:"user"`
	Member Member `json:"member"`
}

type MemberUpdatedEvent struct {
	EventBase
	User   User   `json:"user"`
	Member Member `json:"member"`
}

type MemberRemovedEvent struct {
	EventBase
	User   User   `json:"user"`
	Member Member `json:"member"`
}

type NotificationAddedToChannelEvent struct {
	EventBase
	Channel          Channel `json:"channel"`
	Member           Member  `json:"member"`
	TotalUnreadCount int     `json:"totalUnreadCount,omitempty"`
	UnreadChannels   int     `json:"unreadChannels,omitempty"`
}

type NotificationRemovedFromChannelEvent struct {
	EventBase
	User    User    `json:"user"`
	Member  Member  `json:"member"`
	Channel Channel `json:"channel"`
}

type UserStartWatchingEvent struct {
	EventBase
	User         User `json:"user"`
	WatcherCount int  `json:"watcherCount"`
}

type UserStopWatchingEvent struct {
	EventBase
	User         User `json:"user"`
	WatcherCount int  `json:"watcherCount"`
}

type ChannelUserBannedEvent struct {
	EventBase
	User       User      `json:"user"`
	Expiration time.Time `json:"expiration,omitzero"`
	Shadow     bool      `json:"shadow,omitempty"`
}

type ChannelUserUnbannedEvent struct {
	EventBase
	User User `json:"user"`
}

func (MemberAddedEvent) Type() EventType                    { return EventMemberAdded }
func (MemberUpdatedEvent) Type() EventType                  { return EventMemberUpdated }
func (MemberRemovedEvent) Type() EventType                  { return EventMemberRemoved }
func (NotificationAddedToChannelEvent) Type() EventType     { return EventNotificationAddedToChannel }
func (NotificationRemovedFromChannelEvent) Type() EventType { return EventNotificationRemovedFromChannel }
func (UserStartWatchingEvent) Type() EventType              { return EventUserWatchingStart }
func (UserStopWatchingEvent) Type() EventType               { return EventUserWatchingStop }
func (ChannelUserBannedEvent) Type() EventType              { return EventUserBanned }
func (ChannelUserUnbannedEvent) Type() EventType            { return EventUserUnbanned }

// ============================================================================
// User events
// ============================================================================

type UserPresenceChangedEvent struct {
	EventBase
	User User `json:"user"`
}

type UserUpdatedEvent struct {
	EventBase
	User User `json:"user"`
}

type TypingStartEvent struct {
	EventBase
	User     User   `json:"user"`
	ParentID string `json:"parentId,omitempty"`
}

type TypingStopEvent struct {
	EventBase
	User     User   `json:"user"`
	ParentID string `json:"parentId,omitempty"`
}

type NotificationChannelMutesUpdatedEvent struct {
	EventBase
	Me User `json:"me"`
}

type NotificationMutesUpdatedEvent struct {
	EventBase
	Me User `json:"me"`
}

func (UserPresenceChangedEvent) Type() EventType             { return EventUserPresenceChanged }
func (UserUpdatedEvent) Type() EventType                     { return EventUserUpdated }
func (TypingStartEvent) Type() EventType                     { return EventTypingStart }
func (TypingStopEvent) Type() EventType                      { return EventTypingStop }
func (NotificationChannelMutesUpdatedEvent) Type() EventType { return EventNotificationChannelMutesUpdated }
func (NotificationMutesUpdatedEvent) Type() EventType        { return EventNotificationMutesUpdated }

// ============================================================================
// Channel events
// ============================================================================

type ChannelUpdatedEvent struct {
	EventBase
	Channel Channel  `json:"channel"`
	Message *Message `json:"message,omitempty"`
	User    *User    `json:"user,omitempty"`
}

type ChannelHiddenEvent struct {
	EventBase
	User         User `json:"user"`
	ClearHistory bool `json:"clearHistory,omitempty"`
}

type ChannelVisibleEvent struct {
	EventBase
	User User `json:"user"`
}

type ChannelDeletedEvent struct {
	EventBase
	Channel Channel `json:"channel"`
}

type ChannelTruncatedEvent struct {
	EventBase
	Channel Channel  `json:"channel"`
	Message *Message `json:"message,omitempty"`
	User    *User    `json:"user,omitempty"`
}

type NotificationChannelDeletedEvent struct {
	EventBase
	Channel Channel `json:"channel"`
}

type NotificationChannelTruncatedEvent struct {
	EventBase
	Channel Channel  `json:"channel"`
	Message *Message `json:"message,omitempty"`
}

func (ChannelUpdatedEvent) Type() EventType               { return EventChannelUpdated }
func (ChannelHiddenEvent) Type() EventType                { return EventChannelHidden }
func (ChannelVisibleEvent) Type() EventType               { return EventChannelVisible }
func (ChannelDeletedEvent) Type() EventType               { return EventChannelDeleted }
func (ChannelTruncatedEvent) Type() EventType             { return EventChannelTruncated }
func (NotificationChannelDeletedEvent) Type() EventType   { return EventNotificationChannelDeleted }
func (NotificationChannelTruncatedEvent) Type() EventType { return EventNotificationChannelTruncated }

// ============================================================================
// Connection events
// ============================================================================

type ConnectedEvent struct {
	EventBase
	Me           User   `json:"me"`
	ConnectionID string `json:"connectionId,omitempty"`
}

type ConnectingEvent struct {
	EventBase
}

type DisconnectedEvent struct {
	EventBase
	Reason string `json:"reason,omitempty"`
}

type HealthEvent struct {
	EventBase
	ConnectionID string `json:"connectionId,omitempty"`
}

// UnknownEvent wraps an event type this client does not know.
type UnknownEvent struct {
	EventBase
	RawType string          `json:"rawType"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (ConnectedEvent) Type() EventType    { return EventConnected }
func (ConnectingEvent) Type() EventType   { return EventConnecting }
func (DisconnectedEvent) Type() EventType { return EventDisconnected }
func (HealthEvent) Type() EventType       { return EventHealthCheck }
func (UnknownEvent) Type() EventType      { return EventUnknown }

// ============================================================================
// Wire decoding
// ============================================================================

// Envelope is the wire format of an event.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var eventDecoders = map[EventType]func([]byte) (Event, error){
	EventMessageNew:                      decodeAs[NewMessageEvent],
	EventMessageUpdated:                  decodeAs[MessageUpdatedEvent],
	EventMessageDeleted:                  decodeAs[MessageDeletedEvent],
	EventMessageRead:                     decodeAs[MessageReadEvent],
	EventNotificationMessageNew:          decodeAs[NotificationMessageNewEvent],
	EventNotificationMarkRead:            decodeAs[NotificationMarkReadEvent],
	EventNotificationMarkAllRead:         decodeAs[MarkAllReadEvent],
	EventReactionNew:                     decodeAs[ReactionNewEvent],
	EventReactionUpdated:                 decodeAs[ReactionUpdatedEvent],
	EventReactionDeleted:                 decodeAs[ReactionDeletedEvent],
	EventMemberAdded:                     decodeAs[MemberAddedEvent],
	EventMemberUpdated:                   decodeAs[MemberUpdatedEvent],
	EventMemberRemoved:                   decodeAs[MemberRemovedEvent],
	EventNotificationAddedToChannel:      decodeAs[NotificationAddedToChannelEvent],
	EventNotificationRemovedFromChannel:  decodeAs[NotificationRemovedFromChannelEvent],
	EventNotificationChannelDeleted:      decodeAs[NotificationChannelDeletedEvent],
	EventNotificationChannelTruncated:    decodeAs[NotificationChannelTruncatedEvent],
	EventNotificationChannelMutesUpdated: decodeAs[NotificationChannelMutesUpdatedEvent],
	EventNotificationMutesUpdated:        decodeAs[NotificationMutesUpdatedEvent],
	EventUserPresenceChanged:             decodeAs[UserPresenceChangedEvent],
	EventUserUpdated:                     decodeAs[UserUpdatedEvent],
	EventTypingStart:                     decodeAs[TypingStartEvent],
	EventTypingStop:                      decodeAs[TypingStopEvent],
	EventChannelUpdated:                  decodeAs[ChannelUpdatedEvent],
	EventChannelHidden:                   decodeAs[ChannelHiddenEvent],
	EventChannelVisible:                  decodeAs[ChannelVisibleEvent],
	EventChannelDeleted:                  decodeAs[ChannelDeletedEvent],
	EventChannelTruncated:                decodeAs[ChannelTruncatedEvent],
	EventUserWatchingStart:               decodeAs[UserStartWatchingEvent],
	EventUserWatchingStop:                decodeAs[UserStopWatchingEvent],
	EventUserBanned:                      decodeAs[ChannelUserBannedEvent],
	EventUserUnbanned:                    decodeAs[ChannelUserUnbannedEvent],
	EventConnected:                       decodeAs[ConnectedEvent],
	EventConnecting:                      decodeAs[ConnectingEvent],
	EventDisconnected:                    decodeAs[DisconnectedEvent],
	EventHealthCheck:                     decodeAs[HealthEvent],
	EventUnknown:                         decodeAs[UnknownEvent],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var e T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// EventTypes lists every known event type in a stable order.
func EventTypes() []EventType {
	types := make([]EventType, 0, len(eventDecoders))
	for t := range eventDecoders {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// DecodeEvent parses one envelope. Unknown types decode to UnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	return decodePayload(env.Type, env.Payload)
}

func decodePayload(t EventType, payload json.RawMessage) (Event, error) {
	decode, ok := eventDecoders[t]
	if !ok || t == EventUnknown {
		return UnknownEvent{RawType: string(t), Raw: payload}, nil
	}
	ev, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", t, err)
	}
	return ev, nil
}

// EncodeEvent renders an event as an envelope.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type(), err)
	}
	return json.Marshal(Envelope{Type: e.Type(), Payload: payload})
}
