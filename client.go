// Package chatsync keeps an offline-first view of chat channels consistent.
//
// A Client reconciles three sources into one observable state per channel:
// the local cache (a Repository), query results and operation responses from
// the remote API (a ChatAPI), and realtime events.
//
// Example:
//
//	client := chatsync.NewClient(api,
//		chatsync.WithRepository(repo),
//		chatsync.WithLogger(slog.Default()),
//	)
//	client.ConnectUser(ctx, me)
//
//	ch, _ := client.QueryChannel(ctx, "messaging:general", chatsync.QueryChannelRequest{
//		Messages: chatsync.MessagePagination{Limit: 30},
//	})
//	state, _ := client.ChannelState("messaging:general")
//	cancel := state.Messages().Observe(func(msgs []chatsync.Message) { render(msgs) })
//	defer cancel()
package chatsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	d deps

	mu       sync.Mutex
	channels map[string]*ChannelLogic
	queries  map[string]*QueryChannelsLogic
}

type ClientOption func(*Client)

// WithRepository sets the durable cache. The default keeps state in memory only.
func WithRepository(repo Repository) ClientOption {
	return func(c *Client) { c.d.repo = repo }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.d.logger = logger }
}

func WithClock(clock Clock) ClientOption {
	return func(c *Client) { c.d.clock = clock }
}

func WithIDGenerator(ids IDGenerator) ClientOption {
	return func(c *Client) { c.d.ids = ids }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.d.metrics = m }
}

// WithReadSkewTolerance sets how much later a read marker must be to replace
// the stored one.
func WithReadSkewTolerance(d time.Duration) ClientOption {
	return func(c *Client) { c.d.readSkew = d }
}

func WithUploader(u AttachmentUploader) ClientOption {
	return func(c *Client) { c.d.uploader = u }
}

// WithGlobalState shares one session context between clients.
func WithGlobalState(g *GlobalState) ClientOption {
	return func(c *Client) { c.d.global = g }
}

// NewClient creates a client on top of the remote API.
func NewClient(api ChatAPI, opts ...ClientOption) *Client {
	c := &Client{
		d: deps{
			api:      api,
			repo:     NopRepository{},
			clock:    RealClock{},
			ids:      UUIDGenerator{},
			logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			readSkew: DefaultReadSkewTolerance,
		},
		channels: make(map[string]*ChannelLogic),
		queries:  make(map[string]*QueryChannelsLogic),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.d.global == nil {
		c.d.global = NewGlobalState()
	}
	return c
}

func (c *Client) Global() *GlobalState   { return c.d.global }
func (c *Client) Repository() Repository { return c.d.repo }
func (c *Client) Logger() *slog.Logger   { return c.d.logger }
func (c *Client) SetOnline(online bool)  { c.setConnection(online) }
func (c *Client) IsOnline() bool         { return c.d.global.IsOnline() }

func (c *Client) setConnection(online bool) {
	if online {
		c.d.global.SetConnectionState(ConnectionOnline)
	} else {
		c.d.global.SetConnectionState(ConnectionOffline)
	}
}

// ConnectUser starts the session for user and caches it.
func (c *Client) ConnectUser(ctx context.Context, user User) error {
	if user.ID == "" {
		return blankField("connect user", "id")
	}
	c.d.global.Start(user)
	if err := c.d.repo.InsertUsers(ctx, []User{user}); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}
	return nil
}

// Logout ends the session, forgets every channel and optionally wipes the cache.
func (c *Client) Logout(ctx context.Context, clearCache bool) error {
	c.d.global.Stop()
	c.mu.Lock()
	c.channels = make(map[string]*ChannelLogic)
	c.queries = make(map[string]*QueryChannelsLogic)
	c.mu.Unlock()
	if clearCache {
		if err := c.d.repo.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	return nil
}

// Channel returns the logic of cid, creating it on first use.
func (c *Client) Channel(cid string) (*ChannelLogic, error) {
	channelType, channelID, err := ParseCID(cid)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.channels[cid]; ok {
		return l, nil
	}
	l := newChannelLogic(channelType, channelID, &c.d)
	c.channels[cid] = l
	return l, nil
}

// ChannelState returns the observable state of cid.
func (c *Client) ChannelState(cid string) (*ChannelState, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return nil, err
	}
	return l.State(), nil
}

// Thread returns the thread logic of parentID inside cid.
func (c *Client) Thread(cid, parentID string) (*ThreadLogic, error) {
	if parentID == "" {
		return nil, blankField("thread", "parent_id")
	}
	l, err := c.Channel(cid)
	if err != nil {
		return nil, err
	}
	return l.Thread(parentID), nil
}

// ActiveChannels lists the channels that have state in this client.
func (c *Client) ActiveChannels() []*ChannelLogic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ChannelLogic, 0, len(c.channels))
	for _, l := range c.channels {
		out = append(out, l)
	}
	return out
}

// ============================================================================
// Query channel
// ============================================================================

// QueryChannel loads a page of one channel. The cached page is applied first;
// while offline it is all there is and the channel is marked for recovery.
func (c *Client) QueryChannel(ctx context.Context, cid string, req QueryChannelRequest) (Channel, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Channel{}, err
	}
	if err := l.OnQueryChannelPrecondition(req); err != nil {
		return Channel{}, err
	}
	l.OnQueryChannelRequest(ctx, req)

	if !c.d.global.IsOnline() {
		l.OnQueryChannelOffline(req)
		return l.state.Snapshot(), nil
	}

	ch, err := c.d.api.QueryChannel(ctx, cid, req)
	if err := l.OnQueryChannelResult(ctx, ch, err, req); err != nil {
		return l.state.Snapshot(), fmt.Errorf("query channel %s: %w", cid, err)
	}
	return ch, nil
}

// ============================================================================
// Events
// ============================================================================

type eventRoute int

const (
	routeUnhandled   eventRoute = iota
	routeChannel                // the channel named by the event cid
	routeAllChannels            // every channel with state
	routeGlobal                 // session state only
)

// routeOf decides where an event is applied. Every event type has a case.
func routeOf(e Event) eventRoute {
	switch e.(type) {
	case NewMessageEvent, MessageUpdatedEvent, MessageDeletedEvent, NotificationMessageNewEvent,
		MessageReadEvent, NotificationMarkReadEvent,
		ReactionNewEvent, ReactionUpdatedEvent, ReactionDeletedEvent,
		MemberAddedEvent, MemberUpdatedEvent, MemberRemovedEvent,
		NotificationAddedToChannelEvent, NotificationRemovedFromChannelEvent,
		UserStartWatchingEvent, UserStopWatchingEvent,
		ChannelUserBannedEvent, ChannelUserUnbannedEvent,
		TypingStartEvent, TypingStopEvent,
		ChannelUpdatedEvent, ChannelHiddenEvent, ChannelVisibleEvent,
		ChannelDeletedEvent, ChannelTruncatedEvent,
		NotificationChannelDeletedEvent, NotificationChannelTruncatedEvent:
		return routeChannel
	case MarkAllReadEvent, UserPresenceChangedEvent, UserUpdatedEvent, NotificationChannelMutesUpdatedEvent:
		return routeAllChannels
	case NotificationMutesUpdatedEvent, ConnectedEvent, ConnectingEvent, DisconnectedEvent, HealthEvent, UnknownEvent:
		return routeGlobal
	default:
		return routeUnhandled
	}
}

// HandleEvent applies e to the session state, to the channels it concerns
// and to the cache.
func (c *Client) HandleEvent(ctx context.Context, e Event) {
	c.applyGlobal(e)

	switch routeOf(e) {
	case routeChannel:
		cid := e.ChannelCID()
		if cid == "" {
			c.d.logger.Warn("channel event without cid", "type", string(e.Type()))
			return
		}
		l, err := c.Channel(cid)
		if err != nil {
			c.d.logger.Warn("event for invalid channel", "type", string(e.Type()), "cid", cid, "err", err)
			return
		}
		if l.HandleEvent(e) {
			c.persistEvent(ctx, l, e)
		}
	case routeAllChannels:
		for _, l := range c.ActiveChannels() {
			l.HandleEvent(e)
		}
		c.persistEvent(ctx, nil, e)
	case routeGlobal:
		if u, ok := e.(UnknownEvent); ok {
			c.d.logger.Debug("ignoring unknown event", "type", u.RawType)
		}
	default:
		c.d.logger.Warn("unhandled event", "type", string(e.Type()))
	}
}

func (c *Client) applyGlobal(e Event) {
	g := c.d.global
	switch ev := e.(type) {
	case ConnectedEvent:
		if ev.Me.ID != "" {
			g.SetUser(ev.Me)
		}
		g.SetConnectionState(ConnectionOnline)
	case ConnectingEvent:
		g.SetConnectionState(ConnectionConnecting)
	case DisconnectedEvent:
		g.SetConnectionState(ConnectionOffline)
	case NewMessageEvent:
		if ev.TotalUnreadCount > 0 || ev.UnreadChannels > 0 {
			g.SetUnreadCounts(ev.TotalUnreadCount, ev.UnreadChannels)
		}
	case NotificationMessageNewEvent:
		if ev.TotalUnreadCount > 0 || ev.UnreadChannels > 0 {
			g.SetUnreadCounts(ev.TotalUnreadCount, ev.UnreadChannels)
		}
	case NotificationAddedToChannelEvent:
		if ev.TotalUnreadCount > 0 || ev.UnreadChannels > 0 {
			g.SetUnreadCounts(ev.TotalUnreadCount, ev.UnreadChannels)
		}
	case NotificationMarkReadEvent:
		g.SetUnreadCounts(ev.TotalUnreadCount, ev.UnreadChannels)
	case MarkAllReadEvent:
		g.SetUnreadCounts(ev.TotalUnreadCount, ev.UnreadChannels)
	case NotificationMutesUpdatedEvent:
		g.SetMutedUsers(ev.Me.Mutes)
	case NotificationChannelMutesUpdatedEvent:
		g.SetChannelMutes(ev.Me.ChannelMutes)
	case UserUpdatedEvent:
		g.UpdateUser(ev.User)
	case UserPresenceChangedEvent:
		g.UpdateUser(ev.User)
	}
}

// persistEvent is the cache stage of event handling. It writes the state the
// channel settled on, not the raw event payload.
func (c *Client) persistEvent(ctx context.Context, l *ChannelLogic, e Event) {
	repo := c.d.repo
	var err error
	switch ev := e.(type) {
	case NewMessageEvent:
		err = c.persistMessage(ctx, l, ev.Message)
	case NotificationMessageNewEvent:
		err = c.persistMessage(ctx, l, ev.Message)
	case MessageUpdatedEvent:
		err = c.persistMessage(ctx, l, ev.Message)
	case MessageDeletedEvent:
		if ev.HardDelete {
			err = repo.DeleteChannelMessage(ctx, ev.Message)
		} else {
			err = c.persistMessage(ctx, l, ev.Message)
		}
	case ReactionNewEvent:
		err = c.persistReaction(ctx, l, ev.Message, ev.Reaction, time.Time{})
	case ReactionUpdatedEvent:
		err = c.persistReaction(ctx, l, ev.Message, ev.Reaction, time.Time{})
	case ReactionDeletedEvent:
		err = c.persistReaction(ctx, l, ev.Message, ev.Reaction, l.eventTime(e))
	case MemberAddedEvent:
		err = repo.UpdateMembersForChannel(ctx, l.cid, []Member{ev.Member})
	case MemberUpdatedEvent:
		err = repo.UpdateMembersForChannel(ctx, l.cid, []Member{ev.Member})
	case NotificationAddedToChannelEvent:
		err = repo.UpdateMembersForChannel(ctx, l.cid, append(append([]Member(nil), ev.Channel.Members...), ev.Member))
	case ChannelHiddenEvent:
		err = repo.SetHiddenForChannel(ctx, l.cid, true, l.state.hideMessagesBefore.Value())
	case ChannelVisibleEvent:
		err = repo.SetHiddenForChannel(ctx, l.cid, false, l.state.hideMessagesBefore.Value())
	case ChannelTruncatedEvent:
		err = c.persistTruncation(ctx, l, l.eventTime(e), ev.Message)
	case NotificationChannelTruncatedEvent:
		err = c.persistTruncation(ctx, l, l.eventTime(e), ev.Message)
	case ChannelDeletedEvent:
		err = c.persistTruncation(ctx, l, l.eventTime(e), nil)
	case NotificationChannelDeletedEvent:
		err = c.persistTruncation(ctx, l, l.eventTime(e), nil)
	case UserUpdatedEvent:
		err = repo.InsertUsers(ctx, []User{ev.User})
	case UserPresenceChangedEvent:
		err = repo.InsertUsers(ctx, []User{ev.User})
	case MarkAllReadEvent, NotificationChannelMutesUpdatedEvent:
		for _, ch := range c.ActiveChannels() {
			if err = c.persistChannelRow(ctx, ch); err != nil {
				break
			}
		}
	case TypingStartEvent, TypingStopEvent:
	default:
		if l != nil {
			err = c.persistChannelRow(ctx, l)
		}
	}
	if err != nil {
		c.d.logger.Warn("failed to cache event", "type", string(e.Type()), "cid", e.ChannelCID(), "err", err)
	}
}

func (c *Client) persistMessage(ctx context.Context, l *ChannelLogic, msg Message) error {
	stored, ok := l.state.Message(msg.ID)
	if !ok {
		stored = completed(msg)
		if stored.CID == "" {
			stored.CID = l.cid
		}
	}
	return c.d.repo.InsertMessage(ctx, stored)
}

func (c *Client) persistReaction(ctx context.Context, l *ChannelLogic, msg Message, r Reaction, deletedAt time.Time) error {
	if err := c.persistMessage(ctx, l, msg); err != nil {
		return err
	}
	if r.MessageID == "" {
		r.MessageID = msg.ID
	}
	if r.UserID == "" && r.User != nil {
		r.UserID = r.User.ID
	}
	if r.Type == "" || r.UserID == "" {
		return nil
	}
	r.SyncStatus = SyncCompleted
	if !deletedAt.IsZero() {
		r.DeletedAt = deletedAt
	}
	return c.d.repo.InsertReaction(ctx, r)
}

func (c *Client) persistTruncation(ctx context.Context, l *ChannelLogic, at time.Time, systemMsg *Message) error {
	if err := c.d.repo.DeleteChannelMessagesBefore(ctx, l.cid, at); err != nil {
		return err
	}
	if systemMsg != nil {
		if err := c.persistMessage(ctx, l, *systemMsg); err != nil {
			return err
		}
	}
	return c.persistChannelRow(ctx, l)
}

// persistChannelRow stores the channel without its messages.
func (c *Client) persistChannelRow(ctx context.Context, l *ChannelLogic) error {
	ch := l.state.Snapshot()
	ch.Messages = nil
	return c.d.repo.InsertChannels(ctx, []Channel{ch})
}
