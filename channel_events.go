package chatsync

import (
	"slices"
	"time"
)

// HandleEvent applies one event to the channel. Events are applied one at a
// time in delivery order. It reports whether the event concerns a channel;
// global-only events are accepted and ignored.
func (l *ChannelLogic) HandleEvent(e Event) bool {
	l.eventMu.Lock()
	defer l.eventMu.Unlock()

	at := l.eventTime(e)
	switch ev := e.(type) {
	// messages
	case NewMessageEvent:
		msg := completed(ev.Message)
		l.upsertEventMessage(msg)
		l.IncrementUnreadCountIfNecessary(msg)
		if !msg.IsThreadReply() {
			l.SetHidden(false, time.Time{})
		}
		if ev.WatcherCount > 0 {
			l.setWatcherCount(ev.WatcherCount)
		}
	case NotificationMessageNewEvent:
		if ev.Channel.CID != "" {
			l.updateChannelData(ev.Channel.Data(), false)
		}
		msg := completed(ev.Message)
		l.upsertEventMessage(msg)
		l.IncrementUnreadCountIfNecessary(msg)
		if !msg.IsThreadReply() {
			l.SetHidden(false, time.Time{})
		}
	case MessageUpdatedEvent:
		l.upsertEventMessage(completed(ev.Message))
	case MessageDeletedEvent:
		l.DeleteMessage(completed(ev.Message), ev.HardDelete)

	// reads
	case MessageReadEvent:
		l.UpdateRead(ChannelUserRead{User: ev.User, LastRead: at, LastReadMessageID: ev.LastReadMessageID})
	case NotificationMarkReadEvent:
		l.UpdateRead(ChannelUserRead{
			User:              ev.User,
			LastRead:          at,
			UnreadMessages:    ev.UnreadMessages,
			LastReadMessageID: ev.LastReadMessageID,
		})
	case MarkAllReadEvent:
		l.UpdateRead(ChannelUserRead{User: ev.User, LastRead: at})

	// reactions
	case ReactionNewEvent:
		l.upsertReactionMessage(ev.Message, ev.User)
	case ReactionUpdatedEvent:
		l.upsertReactionMessage(ev.Message, ev.User)
	case ReactionDeletedEvent:
		l.upsertReactionMessage(ev.Message, ev.User)

	// members and watchers
	case MemberAddedEvent:
		l.UpsertMembers(ev.Member)
	case MemberUpdatedEvent:
		l.UpsertMembers(ev.Member)
	case MemberRemovedEvent:
		l.RemoveMember(memberUserID(ev.Member, ev.User))
	case NotificationAddedToChannelEvent:
		if ev.Channel.CID != "" {
			l.updateChannelData(ev.Channel.Data(), false)
		}
		l.UpsertMembers(ev.Channel.Members...)
		l.UpsertMembers(ev.Member)
	case NotificationRemovedFromChannelEvent:
		l.RemoveMember(memberUserID(ev.Member, ev.User))
	case UserStartWatchingEvent:
		l.AddWatcher(ev.User, ev.WatcherCount)
	case UserStopWatchingEvent:
		l.RemoveWatcher(ev.User, ev.WatcherCount)
	case ChannelUserBannedEvent:
		l.setMemberBanned(ev.User.ID, !ev.Shadow, ev.Shadow)
	case ChannelUserUnbannedEvent:
		l.setMemberBanned(ev.User.ID, false, false)

	// users
	case UserPresenceChangedEvent:
		l.updateUserReferences(ev.User)
	case UserUpdatedEvent:
		l.updateUserReferences(ev.User)
	case TypingStartEvent:
		l.SetTyping(ev.User, true, at)
	case TypingStopEvent:
		l.SetTyping(ev.User, false, at)
	case NotificationChannelMutesUpdatedEvent:
		l.SetMuted(slices.ContainsFunc(ev.Me.ChannelMutes, func(m ChannelMute) bool { return m.CID == l.cid }))

	// channel
	case ChannelUpdatedEvent:
		l.updateChannelData(ev.Channel.Data(), false)
		if ev.Message != nil {
			l.upsertEventMessage(completed(*ev.Message))
		}
	case ChannelHiddenEvent:
		var before time.Time
		if ev.ClearHistory {
			before = at
		}
		l.SetHidden(true, before)
	case ChannelVisibleEvent:
		l.SetHidden(false, time.Time{})
	case ChannelDeletedEvent:
		l.markDeleted(ev.Channel, at)
	case NotificationChannelDeletedEvent:
		l.markDeleted(ev.Channel, at)
	case ChannelTruncatedEvent:
		if ev.Channel.CID != "" {
			l.updateChannelData(ev.Channel.Data(), false)
		}
		l.RemoveMessagesBefore(at, ev.Message)
	case NotificationChannelTruncatedEvent:
		if ev.Channel.CID != "" {
			l.updateChannelData(ev.Channel.Data(), false)
		}
		l.RemoveMessagesBefore(at, ev.Message)

	// global only
	case NotificationMutesUpdatedEvent, ConnectedEvent, ConnectingEvent, DisconnectedEvent, HealthEvent, UnknownEvent:
		return false
	default:
		l.logger.Warn("unhandled event", "type", string(e.Type()))
		return false
	}

	l.d.metrics.eventApplied(e.Type())
	return true
}

func (l *ChannelLogic) eventTime(e Event) time.Time {
	if t := e.Created(); !t.IsZero() {
		return t
	}
	return l.d.clock.Now()
}

// upsertReactionMessage stores the message carried by a reaction event. The
// event is addressed to every watcher, so its own reactions only describe the
// current user when the current user reacted.
func (l *ChannelLogic) upsertReactionMessage(msg Message, author User) {
	msg = completed(msg)
	if author.ID != l.d.global.currentUserID() {
		if cur, ok := l.state.Message(msg.ID); ok {
			msg.OwnReactions = cur.OwnReactions
		}
	}
	l.upsertEventMessage(msg)
}

func (l *ChannelLogic) markDeleted(ch Channel, at time.Time) {
	data := l.state.channelData.Value()
	if ch.CID != "" {
		data = ch.Data()
	}
	if data.DeletedAt.IsZero() {
		data.DeletedAt = at
	}
	l.updateChannelData(data, false)
	l.RemoveMessagesBefore(at, nil)
}

func memberUserID(m Member, u User) string {
	if m.User.ID != "" {
		return m.User.ID
	}
	return u.ID
}
