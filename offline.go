package chatsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ============================================================================
// MemoryRepository
// ============================================================================

// MemoryRepository is a goroutine-safe in-memory Repository. It survives
// channel logic being dropped but not the process.
type MemoryRepository struct {
	mu        sync.RWMutex
	messages  map[string]Message
	channels  map[string]Channel
	configs   map[string]ChannelConfig
	queries   map[string]QueryChannelsSpec
	reactions map[string]Reaction
	users     map[string]User
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{}
	r.reset()
	return r
}

func (r *MemoryRepository) reset() {
	r.messages = make(map[string]Message)
	r.channels = make(map[string]Channel)
	r.configs = make(map[string]ChannelConfig)
	r.queries = make(map[string]QueryChannelsSpec)
	r.reactions = make(map[string]Reaction)
	r.users = make(map[string]User)
}

// ── Messages ─────────────────────────────────────────────

func (r *MemoryRepository) SelectMessage(_ context.Context, id string) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	m = m.clone()
	return &m, nil
}

func (r *MemoryRepository) SelectMessagesForChannel(_ context.Context, cid string, p MessagePagination) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channelMessagesLocked(cid, p), nil
}

func (r *MemoryRepository) channelMessagesLocked(cid string, p MessagePagination) []Message {
	hideBefore := r.channels[cid].HiddenMessagesBefore
	var msgs []Message
	for _, m := range r.messages {
		if m.CID != cid || m.IsThreadReply() {
			continue
		}
		if !hideBefore.IsZero() && !m.CreatedTime().After(hideBefore) {
			continue
		}
		msgs = append(msgs, m.clone())
	}
	sortMessages(msgs)
	return PaginateMessages(msgs, p)
}

func (r *MemoryRepository) SelectMessagesForThread(_ context.Context, parentID string, limit int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var msgs []Message
	for _, m := range r.messages {
		if m.ParentID == parentID {
			msgs = append(msgs, m.clone())
		}
	}
	sortMessages(msgs)
	return PaginateMessages(msgs, MessagePagination{Limit: limit}), nil
}

func (r *MemoryRepository) SelectMessagesBySyncStatus(_ context.Context, status SyncStatus) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var msgs []Message
	for _, m := range r.messages {
		if m.SyncStatus == status {
			msgs = append(msgs, m.clone())
		}
	}
	sortMessages(msgs)
	return msgs, nil
}

func (r *MemoryRepository) InsertMessage(ctx context.Context, msg Message) error {
	return r.InsertMessages(ctx, []Message{msg})
}

func (r *MemoryRepository) InsertMessages(_ context.Context, msgs []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			return blankField("insert message", "id")
		}
		r.messages[m.ID] = m.clone()
	}
	return nil
}

func (r *MemoryRepository) DeleteChannelMessage(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, msg.ID)
	for k, re := range r.reactions {
		if re.MessageID == msg.ID {
			delete(r.reactions, k)
		}
	}
	return nil
}

func (r *MemoryRepository) DeleteChannelMessagesBefore(_ context.Context, cid string, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.messages {
		if m.CID == cid && !m.CreatedTime().After(t) {
			delete(r.messages, id)
		}
	}
	return nil
}

// ── Channels ─────────────────────────────────────────────

func (r *MemoryRepository) SelectChannels(_ context.Context, cids []string, p MessagePagination) ([]Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(cids))
	for _, cid := range cids {
		ch, ok := r.channels[cid]
		if !ok {
			continue
		}
		ch = cloneChannelRow(ch)
		if cfg, ok := r.configs[ch.Type]; ok {
			ch.Config = cfg
		}
		ch.Messages = r.channelMessagesLocked(cid, p)
		out = append(out, ch)
	}
	return out, nil
}

func (r *MemoryRepository) InsertChannels(_ context.Context, channels []Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertChannelsLocked(channels)
}

func (r *MemoryRepository) insertChannelsLocked(channels []Channel) error {
	for _, ch := range channels {
		if ch.CID == "" {
			return blankField("insert channel", "cid")
		}
		ch = cloneChannelRow(ch)
		ch.Messages = nil
		r.channels[ch.CID] = ch
	}
	return nil
}

func (r *MemoryRepository) SetHiddenForChannel(_ context.Context, cid string, hidden bool, hideMessagesBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[cid]
	if !ok {
		channelType, channelID, err := ParseCID(cid)
		if err != nil {
			return err
		}
		ch = Channel{CID: cid, Type: channelType, ID: channelID}
	}
	ch.Hidden = hidden
	ch.HiddenMessagesBefore = hideMessagesBefore
	r.channels[cid] = ch
	return nil
}

func (r *MemoryRepository) UpdateMembersForChannel(_ context.Context, cid string, members []Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[cid]
	if !ok {
		return nil
	}
	ch.Members = MergeMembers(ch.Members, members)
	r.channels[cid] = ch
	return nil
}

func (r *MemoryRepository) InsertChannelConfig(_ context.Context, cfg ChannelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Type] = cfg
	return nil
}

func (r *MemoryRepository) SelectChannelConfig(_ context.Context, channelType string) (*ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[channelType]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (r *MemoryRepository) StoreStateForChannels(_ context.Context, configs []ChannelConfig, users []User, channels []Channel, messages []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range configs {
		r.configs[cfg.Type] = cfg
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	if err := r.insertChannelsLocked(channels); err != nil {
		return err
	}
	for _, m := range messages {
		r.messages[m.ID] = m.clone()
	}
	return nil
}

func (r *MemoryRepository) InsertQueryChannels(_ context.Context, spec QueryChannelsSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec.CIDs = slices.Clone(spec.CIDs)
	r.queries[spec.ID] = spec
	return nil
}

func (r *MemoryRepository) SelectQueryChannels(_ context.Context, id string) (*QueryChannelsSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.queries[id]
	if !ok {
		return nil, nil
	}
	spec.CIDs = slices.Clone(spec.CIDs)
	return &spec, nil
}

// ── Reactions ────────────────────────────────────────────

func (r *MemoryRepository) InsertReaction(_ context.Context, reaction Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions[reaction.key()] = reaction
	return nil
}

func (r *MemoryRepository) SelectUserReactionToMessage(_ context.Context, reactionType, messageID, userID string) (*Reaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	re, ok := r.reactions[Reaction{MessageID: messageID, UserID: userID, Type: reactionType}.key()]
	if !ok || !re.DeletedAt.IsZero() {
		return nil, nil
	}
	return &re, nil
}

func (r *MemoryRepository) UpdateReactionsForMessageByDeletedDate(_ context.Context, userID, messageID string, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := slices.Collect(maps.Values(r.reactions))
	for _, re := range SoftDeleteUserReactions(all, userID, messageID, deletedAt) {
		r.reactions[re.key()] = re
	}
	return nil
}

func (r *MemoryRepository) SelectReactionsBySyncStatus(_ context.Context, status SyncStatus) ([]Reaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Reaction
	for _, re := range r.reactions {
		if re.SyncStatus == status {
			out = append(out, re)
		}
	}
	slices.SortFunc(out, func(a, b Reaction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.key(), b.key())
	})
	return out, nil
}

// ── Users ────────────────────────────────────────────────

func (r *MemoryRepository) InsertUsers(_ context.Context, users []User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range users {
		if u.ID == "" {
			return blankField("insert user", "id")
		}
		r.users[u.ID] = u
	}
	return nil
}

func (r *MemoryRepository) SelectUser(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

func cloneChannelRow(ch Channel) Channel {
	ch.OwnCapabilities = slices.Clone(ch.OwnCapabilities)
	ch.Members = slices.Clone(ch.Members)
	ch.Watchers = slices.Clone(ch.Watchers)
	ch.Reads = slices.Clone(ch.Reads)
	ch.ExtraData = maps.Clone(ch.ExtraData)
	return ch
}

// ============================================================================
// SyncManager
// ============================================================================

// DefaultSyncInterval is how often a started SyncManager retries on its own.
const DefaultSyncInterval = 30 * time.Second

// SyncManager resubmits what was queued while offline and refreshes the
// channels that could not be loaded. It runs when the connection comes back
// and then on every tick.
type SyncManager struct {
	client   *Client
	interval time.Duration
	limiter  *rate.Limiter

	mu      sync.Mutex
	syncing bool
	running bool
	kick    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	unwatch func()
}

type SyncOption func(*SyncManager)

// WithSyncInterval sets the retry tick. Zero or less disables the ticker.
func WithSyncInterval(d time.Duration) SyncOption {
	return func(s *SyncManager) { s.interval = d }
}

// WithSyncRate limits resubmitted requests to r per second with the given burst.
func WithSyncRate(r rate.Limit, burst int) SyncOption {
	return func(s *SyncManager) { s.limiter = rate.NewLimiter(r, burst) }
}

func NewSyncManager(client *Client, opts ...SyncOption) *SyncManager {
	s := &SyncManager{
		client:   client,
		interval: DefaultSyncInterval,
		limiter:  rate.NewLimiter(rate.Limit(10), 5),
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the background loop until Stop is called or ctx is done.
func (s *SyncManager) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	wasOnline := false
	unwatch := s.client.d.global.Connection().Observe(func(state ConnectionState) {
		online := state == ConnectionOnline
		if online && !wasOnline {
			s.trigger()
		}
		wasOnline = online
	})
	s.mu.Lock()
	s.unwatch = unwatch
	s.mu.Unlock()

	go s.loop(ctx, stopCh, done)
}

// Stop ends the background loop and waits for a running pass to return.
func (s *SyncManager) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done, unwatch := s.done, s.unwatch
	s.unwatch = nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	<-done
}

func (s *SyncManager) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *SyncManager) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-tick:
		}
		if err := s.Sync(ctx); err != nil {
			s.client.d.logger.Info("sync pass incomplete", "err", err)
		}
	}
}

// Sync runs one pass: queued messages, then queued reactions, then channels
// and lists marked for recovery. It is a no-op while offline or while another
// pass runs. Failed items stay queued for the next pass.
func (s *SyncManager) Sync(ctx context.Context) (err error) {
	c := s.client
	s.mu.Lock()
	if s.syncing || !c.d.global.IsOnline() {
		s.mu.Unlock()
		return nil
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
		c.d.metrics.syncRun(err)
	}()

	msgs, err := s.pendingMessages(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	reactions, err := c.d.repo.SelectReactionsBySyncStatus(ctx, SyncNeeded)
	if err != nil {
		return fmt.Errorf("sync: load queued reactions: %w", err)
	}
	c.d.metrics.setPendingSync(len(msgs) + len(reactions))
	c.d.logger.Debug("sync pass", "messages", len(msgs), "reactions", len(reactions))

	var errs []error
	remaining := len(msgs) + len(reactions)
	for _, m := range msgs {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.resubmitMessage(ctx, m); err != nil {
			errs = append(errs, err)
		} else {
			remaining--
		}
		if !c.d.global.IsOnline() {
			c.d.metrics.setPendingSync(remaining)
			return errors.Join(append(errs, ErrOffline)...)
		}
	}
	for _, r := range reactions {
		if err := s.limiter.Wait(ctx); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := s.resubmitReaction(ctx, r); err != nil {
			errs = append(errs, err)
		} else {
			remaining--
		}
		if !c.d.global.IsOnline() {
			c.d.metrics.setPendingSync(remaining)
			return errors.Join(append(errs, ErrOffline)...)
		}
	}
	c.d.metrics.setPendingSync(remaining)

	errs = append(errs, s.recover(ctx)...)
	return errors.Join(errs...)
}

func (s *SyncManager) pendingMessages(ctx context.Context) ([]Message, error) {
	repo := s.client.d.repo
	needed, err := repo.SelectMessagesBySyncStatus(ctx, SyncNeeded)
	if err != nil {
		return nil, fmt.Errorf("load queued messages: %w", err)
	}
	awaiting, err := repo.SelectMessagesBySyncStatus(ctx, SyncAwaitingAttachments)
	if err != nil {
		return nil, fmt.Errorf("load messages awaiting attachments: %w", err)
	}
	msgs := append(needed, awaiting...)
	sortMessages(msgs)
	return msgs, nil
}

// resubmitMessage picks the request from the message itself: a deletion, a
// message the server never saw, or an edit.
func (s *SyncManager) resubmitMessage(ctx context.Context, m Message) error {
	c := s.client
	var err error
	switch {
	case m.IsDeleted():
		_, err = c.DeleteMessage(ctx, m.CID, m.ID, false)
	case m.CreatedAt.IsZero():
		_, err = c.SendMessage(ctx, m.CID, m)
	default:
		_, err = c.EditMessage(ctx, m)
	}
	if err != nil && IsPermanent(err) {
		c.d.logger.Warn("dropping queued message", "cid", m.CID, "message_id", m.ID, "err", err)
		return nil
	}
	return err
}

func (s *SyncManager) resubmitReaction(ctx context.Context, r Reaction) error {
	c := s.client
	msg, err := c.d.repo.SelectMessage(ctx, r.MessageID)
	if err != nil {
		return fmt.Errorf("resubmit reaction %s: %w", r.Type, err)
	}
	if msg == nil {
		c.d.logger.Warn("queued reaction on unknown message", "message_id", r.MessageID, "type", r.Type)
		return nil
	}
	if r.DeletedAt.IsZero() {
		_, err = c.SendReaction(ctx, msg.CID, r, r.EnforceUnique)
	} else {
		_, err = c.DeleteReaction(ctx, msg.CID, r.MessageID, r.Type)
	}
	if err != nil && IsPermanent(err) {
		c.d.logger.Warn("dropping queued reaction", "message_id", r.MessageID, "type", r.Type, "err", err)
		return nil
	}
	return err
}

// recover requeries every channel and list whose last load failed.
func (s *SyncManager) recover(ctx context.Context) []error {
	c := s.client
	var errs []error
	for _, l := range c.ActiveChannels() {
		if !l.state.recoveryNeeded.Value() {
			continue
		}
		if _, err := c.QueryChannel(ctx, l.cid, QueryChannelRequest{
			Messages: MessagePagination{Direction: DirectionLatest, Limit: DefaultMessageLimit},
			Watch:    true,
			State:    true,
		}); err != nil && !IsPrecondition(err) {
			errs = append(errs, err)
		}
	}
	c.mu.Lock()
	queries := slices.Collect(maps.Values(c.queries))
	c.mu.Unlock()
	for _, q := range queries {
		if !q.state.recoveryNeeded.Value() {
			continue
		}
		if _, err := q.Query(ctx); err != nil && !IsPrecondition(err) {
			errs = append(errs, err)
		}
	}
	return errs
}
