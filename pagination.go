package chatsync

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// DefaultMessageLimit is the page size used when a load does not name one.
const DefaultMessageLimit = 30

// ============================================================================
// Message windows
// ============================================================================

// LoadOlderMessages loads the page before the first visible message.
func (c *Client) LoadOlderMessages(ctx context.Context, cid string, limit int) (Channel, error) {
	return c.loadPage(ctx, cid, DirectionOlder, limit)
}

// LoadNewerMessages loads the page after the last visible message.
func (c *Client) LoadNewerMessages(ctx context.Context, cid string, limit int) (Channel, error) {
	return c.loadPage(ctx, cid, DirectionNewer, limit)
}

func (c *Client) loadPage(ctx context.Context, cid string, dir Direction, limit int) (Channel, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Channel{}, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	end := l.state.endOfOlder
	if dir == DirectionNewer {
		end = l.state.endOfNewer
	}
	if end.Value() {
		return l.state.Snapshot(), nil
	}
	anchor := l.PaginationAnchor(dir)
	if anchor == "" {
		dir = DirectionLatest
	}
	return c.QueryChannel(ctx, cid, QueryChannelRequest{
		Messages: MessagePagination{Direction: dir, MessageID: anchor, Limit: limit},
	})
}

// LoadMessagesAround jumps to messageID. A message already in the visible
// window needs no request. Otherwise the window around it replaces the
// visible one and the latest window is kept aside until LoadNewestMessages.
func (c *Client) LoadMessagesAround(ctx context.Context, cid, messageID string, limit int) (Channel, error) {
	if messageID == "" {
		return Channel{}, blankField("load messages around", "message_id")
	}
	l, err := c.Channel(cid)
	if err != nil {
		return Channel{}, err
	}
	if slices.ContainsFunc(l.state.messages.Value(), func(m Message) bool { return m.ID == messageID }) {
		return l.state.Snapshot(), nil
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return c.QueryChannel(ctx, cid, QueryChannelRequest{
		Messages: MessagePagination{Direction: DirectionAround, MessageID: messageID, Limit: limit},
	})
}

// LoadNewestMessages leaves a jumped-to window: the cached latest window is
// restored and refreshed.
func (c *Client) LoadNewestMessages(ctx context.Context, cid string, limit int) (Channel, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Channel{}, err
	}
	l.exitSearch()
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return c.QueryChannel(ctx, cid, QueryChannelRequest{
		Messages: MessagePagination{Direction: DirectionLatest, Limit: limit},
	})
}

// ============================================================================
// Channel lists
// ============================================================================

// QueryChannelsState is the observable result of one channel list query.
type QueryChannelsState struct {
	id string

	cids           *value[[]string]
	loading        *value[bool]
	loadingMore    *value[bool]
	endOfChannels  *value[bool]
	recoveryNeeded *value[bool]
}

func (s *QueryChannelsState) ID() string                       { return s.id }
func (s *QueryChannelsState) CIDs() Observable[[]string]       { return s.cids }
func (s *QueryChannelsState) Loading() Observable[bool]        { return s.loading }
func (s *QueryChannelsState) LoadingMore() Observable[bool]    { return s.loadingMore }
func (s *QueryChannelsState) EndOfChannels() Observable[bool]  { return s.endOfChannels }
func (s *QueryChannelsState) RecoveryNeeded() Observable[bool] { return s.recoveryNeeded }

// QueryChannelsLogic pages through one channel list.
type QueryChannelsLogic struct {
	client *Client
	base   QueryChannelsRequest
	state  *QueryChannelsState

	mu     sync.Mutex
	offset int
}

// QueryChannelsLogic returns the logic of the list named req.ID, creating it
// with req as the template of every page.
func (c *Client) QueryChannelsLogic(req QueryChannelsRequest) (*QueryChannelsLogic, error) {
	if req.ID == "" {
		return nil, blankField("query channels", "id")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.queries[req.ID]; ok {
		return q, nil
	}
	if req.Limit <= 0 {
		req.Limit = DefaultMessageLimit
	}
	q := &QueryChannelsLogic{
		client: c,
		base:   req,
		state: &QueryChannelsState{
			id:             req.ID,
			cids:           newValue([]string{}),
			loading:        newValue(false),
			loadingMore:    newValue(false),
			endOfChannels:  newValue(false),
			recoveryNeeded: newValue(false),
		},
	}
	c.queries[req.ID] = q
	return q, nil
}

// QueryChannels loads the first page of a channel list.
func (c *Client) QueryChannels(ctx context.Context, req QueryChannelsRequest) ([]Channel, error) {
	q, err := c.QueryChannelsLogic(req)
	if err != nil {
		return nil, err
	}
	return q.Query(ctx)
}

// LoadMoreChannels loads the next page of the list named id.
func (c *Client) LoadMoreChannels(ctx context.Context, id string) ([]Channel, error) {
	c.mu.Lock()
	q, ok := c.queries[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("load more channels %q: list was never queried", id)
	}
	return q.LoadMore(ctx)
}

func (q *QueryChannelsLogic) State() *QueryChannelsState { return q.state }

// Query loads the first page, showing the cached list first.
func (q *QueryChannelsLogic) Query(ctx context.Context) ([]Channel, error) {
	return q.load(ctx, false)
}

// LoadMore loads the page after the channels already listed.
func (q *QueryChannelsLogic) LoadMore(ctx context.Context) ([]Channel, error) {
	if q.state.endOfChannels.Value() {
		return nil, nil
	}
	return q.load(ctx, true)
}

func (q *QueryChannelsLogic) load(ctx context.Context, more bool) ([]Channel, error) {
	flag := q.state.loading
	if more {
		flag = q.state.loadingMore
	}
	q.mu.Lock()
	if flag.Value() {
		q.mu.Unlock()
		return nil, fmt.Errorf("query channels %s: %w", q.state.id, ErrRequestInProgress)
	}
	flag.set(true)
	req := q.base
	if more {
		req.Offset = q.offset
	}
	q.mu.Unlock()
	defer flag.set(false)

	c := q.client
	if !more {
		q.applyCached(ctx)
	}
	if !c.d.global.IsOnline() {
		q.state.recoveryNeeded.set(true)
		return q.snapshot(), nil
	}

	channels, err := c.d.api.QueryChannels(ctx, req)
	if err != nil {
		if !IsPermanent(err) {
			q.state.recoveryNeeded.set(true)
		}
		return nil, fmt.Errorf("query channels %s: %w", q.state.id, err)
	}

	var (
		configs  []ChannelConfig
		users    []User
		messages []Message
	)
	for i, ch := range channels {
		ch = normalizeChannel(ch)
		channels[i] = ch
		configs = append(configs, ch.Config)
		users = append(users, channelUsers(ch)...)
		messages = append(messages, ch.Messages...)
	}
	if err := c.d.repo.StoreStateForChannels(ctx, configs, users, channels, messages); err != nil {
		c.d.logger.Warn("failed to cache channel list", "query", q.state.id, "err", err)
	}
	for _, ch := range channels {
		l, err := c.Channel(ch.CID)
		if err != nil {
			c.d.logger.Warn("skipping channel with invalid cid", "query", q.state.id, "cid", ch.CID)
			continue
		}
		l.UpdateDataFromChannel(ch)
	}

	q.mu.Lock()
	var cids []string
	if more {
		cids = slices.Clone(q.state.cids.Value())
	}
	for _, ch := range channels {
		if !slices.Contains(cids, ch.CID) {
			cids = append(cids, ch.CID)
		}
	}
	q.offset = req.Offset + len(channels)
	q.state.cids.set(cids)
	q.state.endOfChannels.set(len(channels) < req.Limit)
	q.state.recoveryNeeded.set(false)
	q.mu.Unlock()

	if err := c.d.repo.InsertQueryChannels(ctx, QueryChannelsSpec{ID: q.state.id, CIDs: cids}); err != nil {
		c.d.logger.Warn("failed to cache channel list", "query", q.state.id, "err", err)
	}
	return channels, nil
}

// applyCached shows the list remembered by the cache.
func (q *QueryChannelsLogic) applyCached(ctx context.Context) {
	c := q.client
	spec, err := c.d.repo.SelectQueryChannels(ctx, q.state.id)
	if err != nil || spec == nil {
		if err != nil {
			c.d.logger.Warn("failed to read cached channel list", "query", q.state.id, "err", err)
		}
		return
	}
	channels, err := c.d.repo.SelectChannels(ctx, spec.CIDs, MessagePagination{Limit: q.base.MessageLimit})
	if err != nil {
		c.d.logger.Warn("failed to read cached channels", "query", q.state.id, "err", err)
		return
	}
	cids := make([]string, 0, len(channels))
	for _, ch := range channels {
		l, err := c.Channel(ch.CID)
		if err != nil {
			continue
		}
		l.UpdateDataFromLocalChannel(ch, QueryChannelRequest{Messages: MessagePagination{Limit: q.base.MessageLimit}})
		cids = append(cids, ch.CID)
	}
	q.mu.Lock()
	q.state.cids.set(cids)
	q.offset = len(cids)
	q.mu.Unlock()
}

func (q *QueryChannelsLogic) snapshot() []Channel {
	var out []Channel
	for _, cid := range q.state.cids.Value() {
		l, err := q.client.Channel(cid)
		if err != nil {
			continue
		}
		out = append(out, l.state.Snapshot())
	}
	return out
}
