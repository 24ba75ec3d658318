package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// DefaultReadSkewTolerance is how much later an incoming read marker must be
// than the stored one before it replaces it.
const DefaultReadSkewTolerance = 5 * time.Millisecond

// deps bundles the collaborators shared by every logic instance of a client.
type deps struct {
	global   *GlobalState
	repo     Repository
	api      ChatAPI
	clock    Clock
	ids      IDGenerator
	uploader AttachmentUploader
	logger   *slog.Logger
	metrics  *Metrics
	readSkew time.Duration
}

// ============================================================================
// ChannelLogic
// ============================================================================

// ChannelLogic is the only writer of one ChannelState. Query results, events
// and optimistic local edits all reach the state through it.
type ChannelLogic struct {
	cid    string
	state  *ChannelState
	d      *deps
	logger *slog.Logger

	eventMu  sync.Mutex // applies events in delivery order
	unreadMu sync.Mutex

	threadsMu sync.Mutex
	threads   map[string]*ThreadLogic
}

func newChannelLogic(channelType, channelID string, d *deps) *ChannelLogic {
	state := newChannelState(channelType, channelID, d.global.currentUserID)
	l := &ChannelLogic{
		cid:     state.cid,
		state:   state,
		d:       d,
		logger:  d.logger.With("cid", state.cid),
		threads: make(map[string]*ThreadLogic),
	}
	state.muted.set(d.global.IsChannelMuted(state.cid))
	return l
}

func (l *ChannelLogic) CID() string          { return l.cid }
func (l *ChannelLogic) State() *ChannelState { return l.state }

// ── Query reconciliation ────────────────────────────────

// OnQueryChannelPrecondition claims the loading flag for the request
// direction. Metadata-only refreshes never conflict.
func (l *ChannelLogic) OnQueryChannelPrecondition(req QueryChannelRequest) error {
	if req.isNotificationUpdate() {
		return nil
	}
	dir := req.Messages.Direction
	if !l.state.tryBeginLoad(dir) {
		l.d.metrics.loadRejected(dir)
		return fmt.Errorf("query %s (%s): %w", l.cid, dir, ErrRequestInProgress)
	}
	if dir == DirectionAround {
		l.enterSearch()
	}
	return nil
}

// OnQueryChannelRequest applies the cached page so the channel is never blank
// while the remote query is in flight.
func (l *ChannelLogic) OnQueryChannelRequest(ctx context.Context, req QueryChannelRequest) (Channel, bool) {
	channels, err := l.d.repo.SelectChannels(ctx, []string{l.cid}, req.Messages)
	if err != nil {
		l.logger.Warn("failed to read cached channel", "err", err)
		return Channel{}, false
	}
	if len(channels) == 0 {
		return Channel{}, false
	}
	l.UpdateDataFromLocalChannel(channels[0], req)
	return channels[0], true
}

// OnQueryChannelResult reconciles a remote query. Loading flags are released
// whatever the outcome.
func (l *ChannelLogic) OnQueryChannelResult(ctx context.Context, ch Channel, err error, req QueryChannelRequest) error {
	defer l.finishLoad(req)

	if err != nil {
		if IsPermanent(err) {
			l.logger.Error("query channel failed", "direction", req.Messages.Direction.String(), "err", err)
		} else {
			l.logger.Warn("query channel failed, recovery scheduled", "direction", req.Messages.Direction.String(), "err", err)
			l.state.locked(func() { l.state.recoveryNeeded.set(true) })
		}
		return err
	}

	ch = normalizeChannel(ch)
	if err := l.d.repo.StoreStateForChannels(ctx,
		[]ChannelConfig{ch.Config}, channelUsers(ch), []Channel{ch}, ch.Messages); err != nil {
		l.logger.Warn("failed to cache channel", "err", err)
	}

	l.applyChannel(ch, req, true)
	if !req.isNotificationUpdate() {
		l.updateEndFlags(req.Messages, len(ch.Messages))
	}
	l.state.locked(func() { l.state.recoveryNeeded.set(false) })
	return nil
}

// OnQueryChannelOffline finishes a query whose remote call was skipped.
func (l *ChannelLogic) OnQueryChannelOffline(req QueryChannelRequest) {
	l.finishLoad(req)
	l.state.locked(func() { l.state.recoveryNeeded.set(true) })
}

func (l *ChannelLogic) finishLoad(req QueryChannelRequest) {
	if req.isNotificationUpdate() {
		return
	}
	l.state.endLoad(req.Messages.Direction)
}

func (l *ChannelLogic) updateEndFlags(p MessagePagination, n int) {
	short := n < p.Limit
	l.state.locked(func() {
		switch p.Direction {
		case DirectionOlder:
			if short {
				l.state.endOfOlder.set(true)
			}
		case DirectionNewer:
			if short {
				l.state.endOfNewer.set(true)
			}
		case DirectionAround:
			l.state.endOfOlder.set(short)
			l.state.endOfNewer.set(short)
		default:
			l.state.endOfOlder.set(short)
			l.state.endOfNewer.set(true)
		}
	})
}

// UpdateDataFromLocalChannel applies a channel read from the cache.
func (l *ChannelLogic) UpdateDataFromLocalChannel(ch Channel, req QueryChannelRequest) {
	l.applyChannel(ch, req, false)
}

// UpdateDataFromChannel applies a full channel, as delivered by a channel
// list query, with additive union semantics.
func (l *ChannelLogic) UpdateDataFromChannel(ch Channel) {
	l.applyChannel(normalizeChannel(ch), QueryChannelRequest{Messages: MessagePagination{Limit: len(ch.Messages)}}, true)
}

// applyChannel merges ch into state. Messages, members and watchers are
// unioned; an around load replaces the message window instead.
func (l *ChannelLogic) applyChannel(ch Channel, req QueryChannelRequest, fromServer bool) {
	l.updateChannelData(ch.Data(), true)

	l.state.locked(func() {
		s := l.state
		if ch.Config.Type != "" {
			s.config.set(ch.Config)
		}
		s.hidden.set(ch.Hidden)
		if !ch.HiddenMessagesBefore.IsZero() {
			s.hideMessagesBefore.set(ch.HiddenMessagesBefore)
		}
		if ch.LastMessageAt.After(s.lastMessageAt.Value()) {
			s.lastMessageAt.set(ch.LastMessageAt)
		}
		if fromServer || ch.WatcherCount > s.watcherCount.Value() {
			s.watcherCount.set(ch.WatcherCount)
		}
		s.muted.set(l.d.global.IsChannelMuted(l.cid))
	})

	if req.Messages.Direction == DirectionAround && l.state.insideSearch.Value() {
		l.replaceWindow(ch.Messages)
	} else {
		l.UpsertMessages(ch.Messages...)
	}
	l.UpsertMembers(ch.Members...)
	if ch.MemberCount > 0 {
		l.state.locked(func() { l.state.membersCount.set(max(ch.MemberCount, len(l.state.memberMap.Value()))) })
	}
	l.upsertWatchers(ch.Watchers...)
	l.mergeReads(ch.Reads, fromServer)
}

// updateChannelData replaces the metadata snapshot. Only the query path may
// change OwnCapabilities and Membership.
func (l *ChannelLogic) updateChannelData(data ChannelData, fromQuery bool) {
	l.state.locked(func() {
		s := l.state
		cur := s.channelData.Value()
		if !fromQuery {
			data.OwnCapabilities = cur.OwnCapabilities
			data.Membership = cur.Membership
		}
		data.ID, data.Type, data.CID = s.channelID, s.channelType, s.cid
		s.channelData.set(data)
		if data.MemberCount > s.membersCount.Value() {
			s.membersCount.set(data.MemberCount)
		}
	})
}

// ── Messages ────────────────────────────────────────────

// IsMessageNewer reports whether incoming may replace current, both being
// versions of the same message. A COMPLETED version always wins over one that
// is not; otherwise server time is compared for COMPLETED versions and device
// time for the others. Equal times replace, so repeated upserts are no-ops.
func IsMessageNewer(incoming, current Message) bool {
	inDone := incoming.SyncStatus == SyncCompleted
	curDone := current.SyncStatus == SyncCompleted
	switch {
	case inDone && !curDone:
		return true
	case !inDone && curDone:
		return false
	case inDone:
		return !incoming.lastUpdateTime().Before(current.lastUpdateTime())
	default:
		return !incoming.lastLocalUpdateTime().Before(current.lastLocalUpdateTime())
	}
}

// UpsertMessages reconciles msgs into state through IsMessageNewer.
func (l *ChannelLogic) UpsertMessages(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	var applied []Message
	l.state.updateMessages(func(m map[string]Message) {
		for _, msg := range msgs {
			if cur, ok := m[msg.ID]; ok && !IsMessageNewer(msg, cur) {
				continue
			}
			m[msg.ID] = msg
			applied = append(applied, msg)
			l.bumpLastMessageAtLocked(msg)
		}
	})
	l.routeToThreads(applied)
}

// UpsertLocalMessage stores a version produced by the current user's own
// action without consulting IsMessageNewer.
func (l *ChannelLogic) UpsertLocalMessage(msg Message) {
	l.state.updateMessages(func(m map[string]Message) {
		m[msg.ID] = msg
		l.bumpLastMessageAtLocked(msg)
	})
	l.routeToThreads([]Message{msg})
}

// RemoveMessage hard-deletes a message from state.
func (l *ChannelLogic) RemoveMessage(id string) {
	var parentID string
	l.state.updateMessages(func(m map[string]Message) {
		parentID = m[id].ParentID
		delete(m, id)
	})
	l.state.updateLatestCache(func(m map[string]Message) { delete(m, id) })
	if parentID != "" {
		if t := l.activeThread(parentID); t != nil {
			t.removeReply(id)
		}
	}
}

// DeleteMessage applies a server-side delete; hard deletes drop the entry.
func (l *ChannelLogic) DeleteMessage(msg Message, hard bool) {
	if hard {
		l.RemoveMessage(msg.ID)
		return
	}
	l.UpsertMessages(msg)
}

func (l *ChannelLogic) bumpLastMessageAtLocked(msg Message) {
	if msg.IsThreadReply() || msg.isEphemeral() {
		return
	}
	if t := msg.CreatedTime(); t.After(l.state.lastMessageAt.Value()) {
		l.state.lastMessageAt.set(t)
	}
}

// upsertEventMessage routes new messages to the cached latest window while
// the user is looking at a search result.
func (l *ChannelLogic) upsertEventMessage(msg Message) {
	if l.state.insideSearch.Value() && !msg.IsThreadReply() {
		if _, ok := l.state.Message(msg.ID); !ok {
			l.state.updateLatestCache(func(m map[string]Message) {
				if cur, ok := m[msg.ID]; ok && !IsMessageNewer(msg, cur) {
					return
				}
				m[msg.ID] = msg
			})
			l.state.locked(func() { l.bumpLastMessageAtLocked(msg) })
			return
		}
	}
	l.UpsertMessages(msg)
}

// replaceWindow swaps the visible messages for an around-load result.
func (l *ChannelLogic) replaceWindow(msgs []Message) {
	l.state.locked(func() {
		m := make(map[string]Message, len(msgs))
		for _, msg := range msgs {
			m[msg.ID] = msg
		}
		l.state.publishMessagesLocked(m)
	})
}

func (l *ChannelLogic) enterSearch() {
	l.state.locked(func() {
		if l.state.insideSearch.Value() {
			return
		}
		l.state.latestCache.set(l.state.messageMap.Value())
		l.state.insideSearch.set(true)
	})
}

// exitSearch restores the latest window cached when a search started.
func (l *ChannelLogic) exitSearch() bool {
	restored := false
	l.state.locked(func() {
		if !l.state.insideSearch.Value() {
			return
		}
		if cached := l.state.latestCache.Value(); len(cached) > 0 {
			l.state.publishMessagesLocked(maps.Clone(cached))
		}
		l.state.latestCache.set(map[string]Message{})
		l.state.insideSearch.set(false)
		l.state.endOfNewer.set(true)
		restored = true
	})
	return restored
}

// RemoveMessagesBefore drops messages created at or before t and optionally
// appends a system message describing the truncation.
func (l *ChannelLogic) RemoveMessagesBefore(t time.Time, systemMsg *Message) {
	l.state.updateMessages(func(m map[string]Message) {
		for id, msg := range m {
			if !msg.CreatedTime().After(t) {
				delete(m, id)
			}
		}
		if systemMsg != nil {
			sys := completed(*systemMsg)
			m[sys.ID] = sys
			l.state.lastMessageAt.set(sys.CreatedTime())
		}
	})
	l.state.updateLatestCache(func(m map[string]Message) {
		for id, msg := range m {
			if !msg.CreatedTime().After(t) {
				delete(m, id)
			}
		}
	})
}

// PaginationAnchor is the id to page from: the first visible message for
// older pages, the last one for newer pages.
func (l *ChannelLogic) PaginationAnchor(dir Direction) string {
	msgs := l.state.messages.Value()
	if len(msgs) == 0 {
		return ""
	}
	if dir == DirectionNewer {
		return msgs[len(msgs)-1].ID
	}
	return msgs[0].ID
}

// ── Unread and reads ────────────────────────────────────

// IncrementUnreadCountIfNecessary counts msg as unread for the current user
// at most once. It reports whether the counter moved.
func (l *ChannelLogic) IncrementUnreadCountIfNecessary(msg Message) bool {
	me, ok := l.d.global.CurrentUser()
	if !ok || msg.User.ID == me.ID {
		return false
	}
	if msg.Silent || msg.Shadowed || msg.IsThreadReply() || msg.isEphemeral() || msg.Type == MessageTypeSystem {
		return false
	}
	if l.d.global.IsChannelMuted(l.cid) || l.state.muted.Value() {
		return false
	}

	l.unreadMu.Lock()
	defer l.unreadMu.Unlock()
	created := msg.CreatedTime()
	return l.state.updateReads(func(m map[string]ChannelUserRead) bool {
		read, ok := m[me.ID]
		if !ok {
			read = ChannelUserRead{User: me}
		}
		if !created.After(read.LastMessageSeenDate) || !created.After(read.LastRead) {
			return false
		}
		read.LastMessageSeenDate = created
		read.UnreadMessages++
		m[me.ID] = read
		return true
	})
}

// UpdateRead replaces the read entry of read.User when read.LastRead is later
// than the stored one by more than the skew tolerance.
func (l *ChannelLogic) UpdateRead(read ChannelUserRead) bool {
	l.unreadMu.Lock()
	defer l.unreadMu.Unlock()
	return l.state.updateReads(func(m map[string]ChannelUserRead) bool {
		return l.mergeReadLocked(m, read)
	})
}

func (l *ChannelLogic) mergeReadLocked(m map[string]ChannelUserRead, read ChannelUserRead) bool {
	cur, ok := m[read.User.ID]
	if ok && !read.LastRead.After(cur.LastRead.Add(l.d.readSkew)) {
		return false
	}
	read.LastMessageSeenDate = latest(cur.LastMessageSeenDate, read.LastMessageSeenDate)
	m[read.User.ID] = read
	return true
}

// mergeReads applies query reads. Server reads are authoritative; cached ones
// only fill entries that are not known yet.
func (l *ChannelLogic) mergeReads(reads []ChannelUserRead, fromServer bool) {
	if len(reads) == 0 {
		return
	}
	l.unreadMu.Lock()
	defer l.unreadMu.Unlock()
	l.state.updateReads(func(m map[string]ChannelUserRead) bool {
		changed := false
		for _, r := range reads {
			cur, ok := m[r.User.ID]
			if ok && !fromServer {
				continue
			}
			if ok && !r.LastRead.IsZero() && r.LastRead.Before(cur.LastRead) {
				continue
			}
			r.LastMessageSeenDate = latest(cur.LastMessageSeenDate, r.LastMessageSeenDate)
			m[r.User.ID] = r
			changed = true
		}
		return changed
	})
}

// MarkReadLocallyIfNeeded marks the channel read for the current user and
// reports whether anything was unread.
func (l *ChannelLogic) MarkReadLocallyIfNeeded() bool {
	me, ok := l.d.global.CurrentUser()
	if !ok {
		return false
	}
	msgs := l.state.messages.Value()
	var last Message
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1]
	}
	now := l.d.clock.Now()

	l.unreadMu.Lock()
	defer l.unreadMu.Unlock()
	return l.state.updateReads(func(m map[string]ChannelUserRead) bool {
		read, ok := m[me.ID]
		if ok && read.UnreadMessages == 0 &&
			(last.ID == "" || read.LastReadMessageID == last.ID || !last.CreatedTime().After(read.LastRead)) {
			return false
		}
		if !ok && last.ID == "" {
			return false
		}
		m[me.ID] = ChannelUserRead{
			User:                me,
			LastRead:            now,
			UnreadMessages:      0,
			LastReadMessageID:   last.ID,
			LastMessageSeenDate: latest(read.LastMessageSeenDate, last.CreatedTime()),
		}
		return true
	})
}

// ── Flags ───────────────────────────────────────────────

// SetHidden changes the hidden flag. A non-zero hideBefore also clears the
// history up to that time.
func (l *ChannelLogic) SetHidden(hidden bool, hideBefore time.Time) {
	l.state.locked(func() {
		l.state.hidden.set(hidden)
		if !hideBefore.IsZero() {
			l.state.hideMessagesBefore.set(hideBefore)
		}
	})
	if !hideBefore.IsZero() {
		l.RemoveMessagesBefore(hideBefore, nil)
	}
}

func (l *ChannelLogic) SetMuted(muted bool) {
	l.state.locked(func() { l.state.muted.set(muted) })
}

func (l *ChannelLogic) SetLastSentMessageDate(t time.Time) {
	l.state.locked(func() {
		if t.After(l.state.lastSentMessageDate.Value()) {
			l.state.lastSentMessageDate.set(t)
		}
	})
}

// ── Members, watchers, typing ───────────────────────────

// UpsertMembers unions members into state; the last write for a user wins.
func (l *ChannelLogic) UpsertMembers(members ...Member) {
	if len(members) == 0 {
		return
	}
	l.state.updateMembers(func(m map[string]Member) {
		for _, mem := range members {
			if mem.User.ID == "" {
				continue
			}
			m[mem.User.ID] = mem
		}
	})
}

func (l *ChannelLogic) RemoveMember(userID string) {
	l.state.updateMembers(func(m map[string]Member) { delete(m, userID) })
	l.state.locked(func() {
		if n := l.state.membersCount.Value(); n > 0 {
			l.state.membersCount.set(n - 1)
		}
	})
}

func (l *ChannelLogic) setMemberBanned(userID string, banned, shadow bool) {
	l.state.updateMembers(func(m map[string]Member) {
		mem, ok := m[userID]
		if !ok {
			return
		}
		mem.Banned = banned
		mem.ShadowBanned = shadow
		m[userID] = mem
	})
}

func (l *ChannelLogic) upsertWatchers(users ...User) {
	if len(users) == 0 {
		return
	}
	l.state.updateWatchers(func(m map[string]User) {
		for _, u := range users {
			m[u.ID] = u
		}
	})
}

func (l *ChannelLogic) AddWatcher(user User, count int) {
	l.upsertWatchers(user)
	l.setWatcherCount(count)
}

func (l *ChannelLogic) RemoveWatcher(user User, count int) {
	l.state.updateWatchers(func(m map[string]User) { delete(m, user.ID) })
	l.setWatcherCount(count)
}

func (l *ChannelLogic) setWatcherCount(count int) {
	l.state.locked(func() {
		l.state.watcherCount.set(max(count, len(l.state.watcherMap.Value())))
	})
}

// SetTyping records or clears a typing user. The current user is never listed.
func (l *ChannelLogic) SetTyping(user User, typing bool, at time.Time) {
	if user.ID == "" || user.ID == l.d.global.currentUserID() {
		return
	}
	l.state.updateTyping(func(m map[string]typingUser) {
		if typing {
			if _, ok := m[user.ID]; !ok {
				m[user.ID] = typingUser{User: user, StartedAt: at}
			}
			return
		}
		delete(m, user.ID)
	})
	l.d.global.SetTyping(l.cid, l.state.typing.Value())
}

// ── User propagation ────────────────────────────────────

// updateUserReferences writes u into every denormalized copy of that user.
func (l *ChannelLogic) updateUserReferences(u User) {
	if u.ID == "" {
		return
	}
	l.state.updateMembers(func(m map[string]Member) {
		if mem, ok := m[u.ID]; ok {
			mem.User = u
			m[u.ID] = mem
		}
	})
	l.state.updateWatchers(func(m map[string]User) {
		if _, ok := m[u.ID]; ok {
			m[u.ID] = u
		}
	})
	l.state.updateReads(func(m map[string]ChannelUserRead) bool {
		r, ok := m[u.ID]
		if !ok {
			return false
		}
		r.User = u
		m[u.ID] = r
		return true
	})
	l.state.updateTyping(func(m map[string]typingUser) {
		if t, ok := m[u.ID]; ok {
			t.User = u
			m[u.ID] = t
		}
	})
	l.state.updateMessages(func(m map[string]Message) {
		for id, msg := range m {
			if next, ok := withUser(msg, u); ok {
				m[id] = next
			}
		}
	})
	l.state.locked(func() {
		data := l.state.channelData.Value()
		if data.CreatedBy.ID == u.ID {
			data.CreatedBy = u
			l.state.channelData.set(data)
		}
	})
}

// withUser returns msg with every reference to u.ID refreshed.
func withUser(msg Message, u User) (Message, bool) {
	touches := msg.User.ID == u.ID ||
		slices.ContainsFunc(msg.ThreadParticipants, func(p User) bool { return p.ID == u.ID }) ||
		slices.ContainsFunc(msg.LatestReactions, func(r Reaction) bool { return r.UserID == u.ID }) ||
		slices.ContainsFunc(msg.OwnReactions, func(r Reaction) bool { return r.UserID == u.ID })
	if !touches {
		return msg, false
	}
	msg = msg.clone()
	if msg.User.ID == u.ID {
		msg.User = u
	}
	for i := range msg.ThreadParticipants {
		if msg.ThreadParticipants[i].ID == u.ID {
			msg.ThreadParticipants[i] = u
		}
	}
	for _, list := range [][]Reaction{msg.LatestReactions, msg.OwnReactions} {
		for i := range list {
			if list[i].UserID == u.ID {
				uc := u
				list[i].User = &uc
			}
		}
	}
	return msg, true
}

// ── Threads ─────────────────────────────────────────────

// Thread returns the logic of the thread under parentID, creating it on first use.
func (l *ChannelLogic) Thread(parentID string) *ThreadLogic {
	l.threadsMu.Lock()
	defer l.threadsMu.Unlock()
	if t, ok := l.threads[parentID]; ok {
		return t
	}
	t := newThreadLogic(l, parentID)
	l.threads[parentID] = t
	return t
}

// CloseThread stops routing channel updates into the thread.
func (l *ChannelLogic) CloseThread(parentID string) {
	l.threadsMu.Lock()
	defer l.threadsMu.Unlock()
	delete(l.threads, parentID)
}

func (l *ChannelLogic) activeThread(parentID string) *ThreadLogic {
	l.threadsMu.Lock()
	defer l.threadsMu.Unlock()
	return l.threads[parentID]
}

func (l *ChannelLogic) routeToThreads(msgs []Message) {
	for _, msg := range msgs {
		if msg.ParentID != "" {
			if t := l.activeThread(msg.ParentID); t != nil {
				t.UpsertReplies(msg)
			}
		}
		if t := l.activeThread(msg.ID); t != nil {
			t.setParent(msg)
		}
	}
}

// ============================================================================
// Helpers
// ============================================================================

// completed marks a server-delivered message whose sync status is unset.
func completed(m Message) Message {
	if m.SyncStatus == "" {
		m.SyncStatus = SyncCompleted
	}
	return m
}

func normalizeChannel(ch Channel) Channel {
	if len(ch.Messages) > 0 {
		msgs := make([]Message, len(ch.Messages))
		for i, m := range ch.Messages {
			if m.CID == "" {
				m.CID = ch.CID
			}
			msgs[i] = completed(m)
		}
		ch.Messages = msgs
	}
	if ch.Config.Type == "" {
		ch.Config.Type = ch.Type
	}
	return ch
}

// channelUsers collects every distinct user referenced by a channel.
func channelUsers(ch Channel) []User {
	seen := make(map[string]bool)
	var users []User
	add := func(u User) {
		if u.ID == "" || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		users = append(users, u)
	}
	add(ch.CreatedBy)
	for _, m := range ch.Members {
		add(m.User)
	}
	for _, w := range ch.Watchers {
		add(w)
	}
	for _, r := range ch.Reads {
		add(r.User)
	}
	for _, m := range ch.Messages {
		add(m.User)
	}
	return users
}
