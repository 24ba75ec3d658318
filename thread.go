package chatsync

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// ============================================================================
// ThreadState
// ============================================================================

// ThreadState is the observable reply list under one parent message.
type ThreadState struct {
	parentID string
	mu       sync.Mutex

	parent   *value[*Message]
	replyMap *value[map[string]Message]
	messages *value[[]Message]

	loading      *value[bool]
	loadingOlder *value[bool]
	loadingNewer *value[bool]
	endOfOlder   *value[bool]
	endOfNewer   *value[bool]
}

func newThreadState(parentID string) *ThreadState {
	return &ThreadState{
		parentID:     parentID,
		parent:       newValue[*Message](nil),
		replyMap:     newValue(map[string]Message{}),
		messages:     newValue([]Message{}),
		loading:      newValue(false),
		loadingOlder: newValue(false),
		loadingNewer: newValue(false),
		endOfOlder:   newValue(false),
		endOfNewer:   newValue(false),
	}
}

func (s *ThreadState) ParentID() string                       { return s.parentID }
func (s *ThreadState) Parent() Observable[*Message]           { return s.parent }
func (s *ThreadState) Messages() Observable[[]Message]        { return s.messages }
func (s *ThreadState) Loading() Observable[bool]              { return s.loading }
func (s *ThreadState) LoadingOlderMessages() Observable[bool] { return s.loadingOlder }
func (s *ThreadState) LoadingNewerMessages() Observable[bool] { return s.loadingNewer }
func (s *ThreadState) EndOfOlderMessages() Observable[bool]   { return s.endOfOlder }
func (s *ThreadState) EndOfNewerMessages() Observable[bool]   { return s.endOfNewer }

func (s *ThreadState) flag(dir Direction) *value[bool] {
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
// ThreadLogic
// ============================================================================

// ThreadLogic reconciles the replies of one parent message. It is reached
// through ChannelLogic.Thread so channel updates carrying replies flow into it.
type ThreadLogic struct {
	channel  *ChannelLogic
	parentID string
	state    *ThreadState
}

func newThreadLogic(channel *ChannelLogic, parentID string) *ThreadLogic {
	t := &ThreadLogic{channel: channel, parentID: parentID, state: newThreadState(parentID)}
	if parent, ok := channel.state.Message(parentID); ok {
		t.setParent(parent)
	}
	var replies []Message
	for _, m := range channel.state.messageMap.Value() {
		if m.ParentID == parentID {
			replies = append(replies, m)
		}
	}
	t.UpsertReplies(replies...)
	return t
}

func (t *ThreadLogic) State() *ThreadState { return t.state }

// OnRepliesPrecondition claims the loading flag of a direction.
func (t *ThreadLogic) OnRepliesPrecondition(dir Direction) error {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	flag := t.state.flag(dir)
	if flag.Value() {
		t.channel.d.metrics.loadRejected(dir)
		return fmt.Errorf("replies of %s (%s): %w", t.parentID, dir, ErrRequestInProgress)
	}
	flag.set(true)
	return nil
}

func (t *ThreadLogic) endLoad(dir Direction) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	t.state.flag(dir).set(false)
}

// OnRepliesRequest resolves the parent message and applies cached replies.
// The parent comes from channel state, then the cache, then the remote API.
func (t *ThreadLogic) OnRepliesRequest(ctx context.Context, limit int) {
	d := t.channel.d
	if t.state.parent.Value() == nil {
		if err := t.loadParent(ctx); err != nil {
			t.channel.logger.Warn("failed to load thread parent", "message_id", t.parentID, "err", err)
		}
	}
	cached, err := d.repo.SelectMessagesForThread(ctx, t.parentID, limit)
	if err != nil {
		t.channel.logger.Warn("failed to read cached replies", "message_id", t.parentID, "err", err)
		return
	}
	t.UpsertReplies(cached...)
}

func (t *ThreadLogic) loadParent(ctx context.Context) error {
	if m, ok := t.channel.state.Message(t.parentID); ok {
		t.setParent(m)
		return nil
	}
	d := t.channel.d
	cached, err := d.repo.SelectMessage(ctx, t.parentID)
	if err != nil {
		return err
	}
	if cached != nil {
		t.setParent(*cached)
		return nil
	}
	if !d.global.IsOnline() {
		return nil
	}
	remote, err := d.api.GetMessage(ctx, t.parentID)
	if err != nil {
		return err
	}
	remote = completed(remote)
	if err := d.repo.InsertMessage(ctx, remote); err != nil {
		return err
	}
	t.setParent(remote)
	return nil
}

// OnRepliesResult reconciles a page of replies and sets the end flags when
// the page is shorter than limit.
func (t *ThreadLogic) OnRepliesResult(ctx context.Context, msgs []Message, err error, dir Direction, limit int) error {
	if err != nil {
		t.channel.logger.Warn("failed to load replies", "message_id", t.parentID, "direction", dir.String(), "err", err)
		return err
	}
	replies := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.CID == "" {
			m.CID = t.channel.cid
		}
		replies[i] = completed(m)
	}
	if err := t.channel.d.repo.InsertMessages(ctx, replies); err != nil {
		t.channel.logger.Warn("failed to cache replies", "message_id", t.parentID, "err", err)
	}
	t.UpsertReplies(replies...)

	short := len(msgs) < limit
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	switch dir {
	case DirectionOlder:
		if short {
			t.state.endOfOlder.set(true)
		}
	case DirectionNewer:
		if short {
			t.state.endOfNewer.set(true)
		}
	default:
		t.state.endOfOlder.set(short)
		t.state.endOfNewer.set(true)
	}
	return nil
}

// UpsertReplies reconciles replies of this thread through IsMessageNewer.
func (t *ThreadLogic) UpsertReplies(msgs ...Message) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	m := maps.Clone(t.state.replyMap.Value())
	changed := false
	for _, msg := range msgs {
		if msg.ParentID != t.parentID {
			continue
		}
		if cur, ok := m[msg.ID]; ok && !IsMessageNewer(msg, cur) {
			continue
		}
		m[msg.ID] = msg
		changed = true
	}
	if changed {
		t.publishLocked(m)
	}
}

func (t *ThreadLogic) removeReply(id string) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	m := maps.Clone(t.state.replyMap.Value())
	delete(m, id)
	t.publishLocked(m)
}

func (t *ThreadLogic) publishLocked(m map[string]Message) {
	t.state.replyMap.set(m)
	list := make([]Message, 0, len(m))
	for _, msg := range m {
		list = append(list, msg)
	}
	sortMessages(list)
	t.state.messages.set(list)
}

func (t *ThreadLogic) setParent(msg Message) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()
	if cur := t.state.parent.Value(); cur != nil && !IsMessageNewer(msg, *cur) {
		return
	}
	p := msg
	t.state.parent.set(&p)
}

// anchor is the first reply id for older pages and the last one for newer pages.
func (t *ThreadLogic) anchor(dir Direction) string {
	msgs := t.state.messages.Value()
	if len(msgs) == 0 {
		return ""
	}
	if dir == DirectionNewer {
		return msgs[len(msgs)-1].ID
	}
	return msgs[0].ID
}

// ── Loads ───────────────────────────────────────────────

// GetReplies loads the newest page of replies.
func (t *ThreadLogic) GetReplies(ctx context.Context, limit int) ([]Message, error) {
	return t.load(ctx, DirectionLatest, limit)
}

// GetRepliesMore loads replies older than the first loaded one.
func (t *ThreadLogic) GetRepliesMore(ctx context.Context, limit int) ([]Message, error) {
	return t.load(ctx, DirectionOlder, limit)
}

// GetNewerReplies loads replies newer than the last loaded one.
func (t *ThreadLogic) GetNewerReplies(ctx context.Context, limit int) ([]Message, error) {
	return t.load(ctx, DirectionNewer, limit)
}

func (t *ThreadLogic) load(ctx context.Context, dir Direction, limit int) ([]Message, error) {
	if err := t.OnRepliesPrecondition(dir); err != nil {
		return nil, err
	}
	defer t.endLoad(dir)

	t.OnRepliesRequest(ctx, limit)
	d := t.channel.d
	if !d.global.IsOnline() {
		return t.state.messages.Value(), nil
	}

	var (
		msgs []Message
		err  error
	)
	switch anchor := t.anchor(dir); {
	case dir == DirectionOlder && anchor != "":
		msgs, err = d.api.GetRepliesMore(ctx, t.parentID, anchor, limit)
	case dir == DirectionNewer && anchor != "":
		msgs, err = d.api.GetNewerReplies(ctx, t.parentID, anchor, limit)
	default:
		msgs, err = d.api.GetReplies(ctx, t.parentID, limit)
	}
	if err := t.OnRepliesResult(ctx, msgs, err, dir, limit); err != nil {
		return nil, err
	}
	return t.state.messages.Value(), nil
}
