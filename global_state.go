package chatsync

import (
	"slices"
	"sync"
)

// ConnectionState is the state of the realtime connection.
type ConnectionState string

const (
	ConnectionOffline    ConnectionState = "offline"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOnline     ConnectionState = "online"
)

// GlobalState is the process-wide session context: current user, connection
// state and cross-channel aggregates. It is created once and passed to every
// component; Start begins a session and Stop tears it down at logout.
type GlobalState struct {
	mu sync.Mutex

	user               *value[*User]
	connection         *value[ConnectionState]
	totalUnreadCount   *value[int]
	channelUnreadCount *value[int]
	mutedUsers         *value[[]Mute]
	channelMutes       *value[[]ChannelMute]
	banned             *value[bool]
	typingChannels     *value[map[string]TypingEvent]
}

func NewGlobalState() *GlobalState {
	return &GlobalState{
		user:               newValue[*User](nil),
		connection:         newValue(ConnectionOffline),
		totalUnreadCount:   newValue(0),
		channelUnreadCount: newValue(0),
		mutedUsers:         newValue([]Mute{}),
		channelMutes:       newValue([]ChannelMute{}),
		banned:             newValue(false),
		typingChannels:     newValue(map[string]TypingEvent{}),
	}
}

// Start initializes the session for user.
func (g *GlobalState) Start(user User) {
	g.SetUser(user)
}

// Stop clears every session value.
func (g *GlobalState) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user.set(nil)
	g.connection.set(ConnectionOffline)
	g.totalUnreadCount.set(0)
	g.channelUnreadCount.set(0)
	g.mutedUsers.set([]Mute{})
	g.channelMutes.set([]ChannelMute{})
	g.banned.set(false)
	g.typingChannels.set(map[string]TypingEvent{})
}

// ── Read-only views ─────────────────────────────────────

func (g *GlobalState) User() Observable[*User]                            { return g.user }
func (g *GlobalState) Connection() Observable[ConnectionState]            { return g.connection }
func (g *GlobalState) TotalUnreadCount() Observable[int]                  { return g.totalUnreadCount }
func (g *GlobalState) ChannelUnreadCount() Observable[int]                { return g.channelUnreadCount }
func (g *GlobalState) MutedUsers() Observable[[]Mute]                     { return g.mutedUsers }
func (g *GlobalState) ChannelMutes() Observable[[]ChannelMute]            { return g.channelMutes }
func (g *GlobalState) Banned() Observable[bool]                           { return g.banned }
func (g *GlobalState) TypingChannels() Observable[map[string]TypingEvent] { return g.typingChannels }

// CurrentUser returns the session user, if any.
func (g *GlobalState) CurrentUser() (User, bool) {
	u := g.user.Value()
	if u == nil {
		return User{}, false
	}
	return *u, true
}

func (g *GlobalState) currentUserID() string {
	if u := g.user.Value(); u != nil {
		return u.ID
	}
	return ""
}

func (g *GlobalState) IsOnline() bool {
	return g.connection.Value() == ConnectionOnline
}

// IsChannelMuted reports whether the current user muted the channel.
func (g *GlobalState) IsChannelMuted(cid string) bool {
	return slices.ContainsFunc(g.channelMutes.Value(), func(m ChannelMute) bool { return m.CID == cid })
}

// IsUserMuted reports whether the current user muted userID.
func (g *GlobalState) IsUserMuted(userID string) bool {
	return slices.ContainsFunc(g.mutedUsers.Value(), func(m Mute) bool { return m.Target.ID == userID })
}

// ── Mutations ───────────────────────────────────────────

// SetUser replaces the current user and the mutes and unread counters it carries.
func (g *GlobalState) SetUser(user User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := user
	g.user.set(&u)
	g.mutedUsers.set(append([]Mute{}, user.Mutes...))
	g.channelMutes.set(append([]ChannelMute{}, user.ChannelMutes...))
	g.totalUnreadCount.set(user.TotalUnreadCount)
	g.channelUnreadCount.set(user.UnreadChannels)
	g.banned.set(user.Banned)
}

// UpdateUser refreshes the profile of the current user, keeping the mutes and
// counters already known. Other users are ignored.
func (g *GlobalState) UpdateUser(user User) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.user.Value()
	if cur == nil || cur.ID != user.ID {
		return
	}
	u := user
	u.Mutes, u.ChannelMutes = cur.Mutes, cur.ChannelMutes
	u.TotalUnreadCount, u.UnreadChannels = cur.TotalUnreadCount, cur.UnreadChannels
	g.user.set(&u)
}

func (g *GlobalState) SetConnectionState(state ConnectionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connection.set(state)
}

func (g *GlobalState) SetUnreadCounts(total, channels int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalUnreadCount.set(total)
	g.channelUnreadCount.set(channels)
}

func (g *GlobalState) SetMutedUsers(mutes []Mute) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mutedUsers.set(append([]Mute{}, mutes...))
}

func (g *GlobalState) SetChannelMutes(mutes []ChannelMute) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channelMutes.set(append([]ChannelMute{}, mutes...))
}

func (g *GlobalState) SetBanned(banned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.banned.set(banned)
}

// SetTyping records the typing users of a channel; an empty list removes it.
func (g *GlobalState) SetTyping(cid string, ev TypingEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := make(map[string]TypingEvent, len(g.typingChannels.Value())+1)
	for k, v := range g.typingChannels.Value() {
		m[k] = v
	}
	if len(ev.Users) == 0 {
		delete(m, cid)
	} else {
		m[cid] = ev
	}
	g.typingChannels.set(m)
}
