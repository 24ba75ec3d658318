package chatsync

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

// ============================================================================
// ChannelState
// ============================================================================

// ChannelState is the observable view of one channel. Only ChannelLogic
// writes to it; everything exposed here is read-only.
type ChannelState struct {
	cid         string
	channelType string
	channelID   string
	userID      func() string

	mu sync.Mutex // single writer; held for every compound update

	messageMap  *value[map[string]Message]
	latestCache *value[map[string]Message]
	readMap     *value[map[string]ChannelUserRead]
	memberMap   *value[map[string]Member]
	watcherMap  *value[map[string]User]
	typingMap   *value[map[string]typingUser]

	messages     *value[[]Message]
	reads        *value[[]ChannelUserRead]
	read         *value[ChannelUserRead]
	unreadCount  *value[int]
	members      *value[[]Member]
	membersCount *value[int]
	watchers     *value[[]User]
	watcherCount *value[int]
	typing       *value[TypingEvent]
	channelData  *value[ChannelData]
	config       *value[ChannelConfig]

	loading             *value[bool]
	loadingOlder        *value[bool]
	loadingNewer        *value[bool]
	endOfOlder          *value[bool]
	endOfNewer          *value[bool]
	recoveryNeeded      *value[bool]
	hidden              *value[bool]
	muted               *value[bool]
	insideSearch        *value[bool]
	hideMessagesBefore  *value[time.Time]
	lastMessageAt       *value[time.Time]
	lastSentMessageDate *value[time.Time]
}

type typingUser struct {
	User      User
	StartedAt time.Time
}

func newChannelState(channelType, channelID string, userID func() string) *ChannelState {
	cid := channelType + ":" + channelID
	return &ChannelState{
		cid:                 cid,
		channelType:         channelType,
		channelID:           channelID,
		userID:              userID,
		messageMap:          newValue(map[string]Message{}),
		latestCache:         newValue(map[string]Message{}),
		readMap:             newValue(map[string]ChannelUserRead{}),
		memberMap:           newValue(map[string]Member{}),
		watcherMap:          newValue(map[string]User{}),
		typingMap:           newValue(map[string]typingUser{}),
		messages:            newValue([]Message{}),
		reads:               newValue([]ChannelUserRead{}),
		read:                newValue(ChannelUserRead{}),
		unreadCount:         newValue(0),
		members:             newValue([]Member{}),
		membersCount:        newValue(0),
		watchers:            newValue([]User{}),
		watcherCount:        newValue(0),
		typing:              newValue(TypingEvent{CID: cid}),
		channelData:         newValue(ChannelData{ID: channelID, Type: channelType, CID: cid}),
		config:              newValue(DefaultChannelConfig(channelType)),
		loading:             newValue(false),
		loadingOlder:        newValue(false),
		loadingNewer:        newValue(false),
		endOfOlder:          newValue(false),
		endOfNewer:          newValue(false),
		recoveryNeeded:      newValue(false),
		hidden:              newValue(false),
		muted:               newValue(false),
		insideSearch:        newValue(false),
		hideMessagesBefore:  newValue(time.Time{}),
		lastMessageAt:       newValue(time.Time{}),
		lastSentMessageDate: newValue(time.Time{}),
	}
}

// ── Read-only views ─────────────────────────────────────

func (s *ChannelState) CID() string         { return s.cid }
func (s *ChannelState) ChannelType() string { return s.channelType }
func (s *ChannelState) ChannelID() string   { return s.channelID }

func (s *ChannelState) ChannelData() Observable[ChannelData] { return s.channelData }
func (s *ChannelState) Config() Observable[ChannelConfig]    { return s.config }

// Messages is the visible message list sorted by creation time.
func (s *ChannelState) Messages() Observable[[]Message]        { return s.messages }
func (s *ChannelState) Reads() Observable[[]ChannelUserRead]   { return s.reads }
func (s *ChannelState) Read() Observable[ChannelUserRead]      { return s.read }
func (s *ChannelState) UnreadCount() Observable[int]           { return s.unreadCount }
func (s *ChannelState) Members() Observable[[]Member]          { return s.members }
func (s *ChannelState) MembersCount() Observable[int]          { return s.membersCount }
func (s *ChannelState) Watchers() Observable[[]User]           { return s.watchers }
func (s *ChannelState) WatcherCount() Observable[int]          { return s.watcherCount }
func (s *ChannelState) Typing() Observable[TypingEvent]        { return s.typing }
func (s *ChannelState) Loading() Observable[bool]              { return s.loading }
func (s *ChannelState) LoadingOlderMessages() Observable[bool] { return s.loadingOlder }
func (s *ChannelState) LoadingNewerMessages() Observable[bool] { return s.loadingNewer }
func (s *ChannelState) EndOfOlderMessages() Observable[bool]   { return s.endOfOlder }
func (s *ChannelState) EndOfNewerMessages() Observable[bool]   { return s.endOfNewer }
func (s *ChannelState) RecoveryNeeded() Observable[bool]       { return s.recoveryNeeded }
func (s *ChannelState) Hidden() Observable[bool]               { return s.hidden }
func (s *ChannelState) Muted() Observable[bool]                { return s.muted }
func (s *ChannelState) InsideSearch() Observable[bool]         { return s.insideSearch }
func (s *ChannelState) HideMessagesBefore() Observable[time.Time] {
	return s.hideMessagesBefore
}
func (s *ChannelState) LastMessageAt() Observable[time.Time] { return s.lastMessageAt }
func (s *ChannelState) LastSentMessageDate() Observable[time.Time] {
	return s.lastSentMessageDate
}

// Message returns the message with the given id, including thread-only
// replies and messages outside the visible window.
func (s *ChannelState) Message(id string) (Message, bool) {
	m, ok := s.messageMap.Value()[id]
	return m, ok
}

// Snapshot converts the current state into a Channel.
func (s *ChannelState) Snapshot() Channel {
	data := s.channelData.Value()
	msgMap := s.messageMap.Value()
	msgs := make([]Message, 0, len(msgMap))
	for _, m := range msgMap {
		msgs = append(msgs, m)
	}
	sortMessages(msgs)
	return Channel{
		CID:                  s.cid,
		ID:                   s.channelID,
		Type:                 s.channelType,
		Name:                 data.Name,
		Image:                data.Image,
		CreatedBy:            data.CreatedBy,
		Cooldown:             data.Cooldown,
		Frozen:               data.Frozen,
		Team:                 data.Team,
		MemberCount:          s.membersCount.Value(),
		OwnCapabilities:      data.OwnCapabilities,
		Membership:           data.Membership,
		CreatedAt:            data.CreatedAt,
		UpdatedAt:            data.UpdatedAt,
		DeletedAt:            data.DeletedAt,
		LastMessageAt:        s.lastMessageAt.Value(),
		ExtraData:            data.ExtraData,
		Hidden:               s.hidden.Value(),
		HiddenMessagesBefore: s.hideMessagesBefore.Value(),
		Messages:             msgs,
		Members:              s.members.Value(),
		Watchers:             s.watchers.Value(),
		WatcherCount:         s.watcherCount.Value(),
		Reads:                s.reads.Value(),
		Config:               s.config.Value(),
		UnreadCount:          s.unreadCount.Value(),
	}
}

// ── Mutation entry points (ChannelLogic only) ───────────

func (s *ChannelState) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// updateMessages runs fn on a private copy of the message map and publishes it.
func (s *ChannelState) updateMessages(fn func(m map[string]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.messageMap.Value())
	fn(m)
	s.publishMessagesLocked(m)
}

func (s *ChannelState) publishMessagesLocked(m map[string]Message) {
	s.messageMap.set(m)
	s.messages.set(visibleMessages(m, s.hideMessagesBefore.Value()))
}

func (s *ChannelState) updateLatestCache(fn func(m map[string]Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.latestCache.Value())
	fn(m)
	s.latestCache.set(m)
}

// updateReads publishes the read map only when fn reports a change.
func (s *ChannelState) updateReads(fn func(m map[string]ChannelUserRead) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.readMap.Value())
	if !fn(m) {
		return false
	}
	s.publishReadsLocked(m)
	return true
}

func (s *ChannelState) publishReadsLocked(m map[string]ChannelUserRead) {
	s.readMap.set(m)
	list := make([]ChannelUserRead, 0, len(m))
	for _, r := range m {
		list = append(list, r)
	}
	slices.SortFunc(list, func(a, b ChannelUserRead) int { return cmp.Compare(a.User.ID, b.User.ID) })
	s.reads.set(list)

	own := m[s.userID()]
	s.read.set(own)
	s.unreadCount.set(own.UnreadMessages)
}

func (s *ChannelState) updateMembers(fn func(m map[string]Member)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.memberMap.Value())
	fn(m)
	s.memberMap.set(m)
	list := make([]Member, 0, len(m))
	for _, mem := range m {
		list = append(list, mem)
	}
	slices.SortFunc(list, func(a, b Member) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.User.ID, b.User.ID)
	})
	s.members.set(list)
	if len(list) > s.membersCount.Value() {
		s.membersCount.set(len(list))
	}
}

func (s *ChannelState) updateWatchers(fn func(m map[string]User)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.watcherMap.Value())
	fn(m)
	s.watcherMap.set(m)
	list := make([]User, 0, len(m))
	for _, u := range m {
		list = append(list, u)
	}
	slices.SortFunc(list, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	s.watchers.set(list)
}

func (s *ChannelState) updateTyping(fn func(m map[string]typingUser)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := maps.Clone(s.typingMap.Value())
	fn(m)
	s.typingMap.set(m)
	entries := make([]typingUser, 0, len(m))
	for _, t := range m {
		entries = append(entries, t)
	}
	slices.SortFunc(entries, func(a, b typingUser) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.User.ID, b.User.ID)
	})
	users := make([]User, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.User)
	}
	s.typing.set(TypingEvent{CID: s.cid, Users: users})
}

// tryBeginLoad claims the loading flag of a direction; false when it is already held.
func (s *ChannelState) tryBeginLoad(dir Direction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag := s.loadingFlag(dir)
	if flag.Value() {
		return false
	}
	flag.set(true)
	return true
}

func (s *ChannelState) endLoad(dir Direction) {
	s.locked(func() { s.loadingFlag(dir).set(false) })
}

func (s *ChannelState) loadingFlag(dir Direction) *value[bool] {
	switch dir {
	case DirectionOlder:
		return s.loadingOlder
	case DirectionNewer:
		return s.loadingNewer
	default:
		return s.loading
	}
}

// ============================================================================
// Ordering helpers
// ============================================================================

func sortMessages(msgs []Message) {
	slices.SortFunc(msgs, func(a, b Message) int {
		if c := a.CreatedTime().Compare(b.CreatedTime()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// visibleMessages drops thread-only replies and messages hidden by a
// clear-history hide, then sorts by creation time.
func visibleMessages(m map[string]Message, hideBefore time.Time) []Message {
	out := make([]Message, 0, len(m))
	for _, msg := range m {
		if msg.IsThreadReply() {
			continue
		}
		if !hideBefore.IsZero() && !msg.CreatedTime().After(hideBefore) {
			continue
		}
		out = append(out, msg)
	}
	sortMessages(out)
	return out
}
