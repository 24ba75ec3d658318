package chatsync_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/LuminPulse-AI/chatsync/internal/testutil"
)

// ============================================================================
// Test Helpers
// ============================================================================

var me = chatsync.User{ID: "alice", Name: "Alice"}

// fakeAPI answers every request from the configured fields and records the
// name of each call.
type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	channel    chatsync.Channel
	channels   []chatsync.Channel
	replies    []chatsync.Message
	members    []chatsync.Member
	user       chatsync.User
	err        error
	queryGate  chan struct{}
	sendResult func(msg chatsync.Message) chatsync.Message
}

func (f *fakeAPI) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAPI) QueryChannel(ctx context.Context, cid string, req chatsync.QueryChannelRequest) (chatsync.Channel, error) {
	if f.queryGate != nil {
		select {
		case <-f.queryGate:
		case <-ctx.Done():
			return chatsync.Channel{}, ctx.Err()
		}
	}
	if err := f.record("QueryChannel"); err != nil {
		return chatsync.Channel{}, err
	}
	ch := f.channel
	if ch.CID == "" {
		ch.CID = cid
	}
	return ch, nil
}

func (f *fakeAPI) QueryChannels(_ context.Context, req chatsync.QueryChannelsRequest) ([]chatsync.Channel, error) {
	if err := f.record("QueryChannels"); err != nil {
		return nil, err
	}
	if req.Offset >= len(f.channels) {
		return nil, nil
	}
	end := min(len(f.channels), req.Offset+req.Limit)
	return append([]chatsync.Channel(nil), f.channels[req.Offset:end]...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, cid string, msg chatsync.Message) (chatsync.Message, error) {
	if err := f.record("SendMessage"); err != nil {
		return chatsync.Message{}, err
	}
	if f.sendResult != nil {
		return f.sendResult(msg), nil
	}
	msg.CreatedAt = msg.CreatedLocallyAt.Add(1)
	msg.UpdatedAt = msg.CreatedAt
	return msg, nil
}

func (f *fakeAPI) UpdateMessage(_ context.Context, msg chatsync.Message) (chatsync.Message, error) {
	if err := f.record("UpdateMessage"); err != nil {
		return chatsync.Message{}, err
	}
	msg.UpdatedAt = msg.UpdatedLocallyAt
	return msg, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, messageID string, _ bool) (chatsync.Message, error) {
	if err := f.record("DeleteMessage"); err != nil {
		return chatsync.Message{}, err
	}
	return chatsync.Message{ID: messageID}, nil
}

func (f *fakeAPI) GetMessage(_ context.Context, messageID string) (chatsync.Message, error) {
	if err := f.record("GetMessage"); err != nil {
		return chatsync.Message{}, err
	}
	return chatsync.Message{ID: messageID}, nil
}

func (f *fakeAPI) SendReaction(_ context.Context, r chatsync.Reaction, _ bool) (chatsync.Reaction, error) {
	if err := f.record("SendReaction"); err != nil {
		return chatsync.Reaction{}, err
	}
	return r, nil
}

func (f *fakeAPI) DeleteReaction(context.Context, string, string) (chatsync.Message, error) {
	if err := f.record("DeleteReaction"); err != nil {
		return chatsync.Message{}, err
	}
	return chatsync.Message{}, nil
}

func (f *fakeAPI) HideChannel(context.Context, string, bool) error { return f.record("HideChannel") }
func (f *fakeAPI) MarkRead(context.Context, string, string) error   { return f.record("MarkRead") }
func (f *fakeAPI) MarkAllRead(context.Context) error                { return f.record("MarkAllRead") }

func (f *fakeAPI) QueryMembers(context.Context, string, chatsync.QueryMembersRequest) ([]chatsync.Member, error) {
	if err := f.record("QueryMembers"); err != nil {
		return nil, err
	}
	return f.members, nil
}

func (f *fakeAPI) ShuffleGiphy(_ context.Context, msg chatsync.Message) (chatsync.Message, error) {
	if err := f.record("ShuffleGiphy"); err != nil {
		return chatsync.Message{}, err
	}
	return msg, nil
}

func (f *fakeAPI) SendGiphy(_ context.Context, msg chatsync.Message, _ chatsync.GiphyAction) (chatsync.Message, error) {
	if err := f.record("SendGiphy"); err != nil {
		return chatsync.Message{}, err
	}
	msg.Type = chatsync.MessageTypeRegular
	return msg, nil
}

func (f *fakeAPI) GetReplies(context.Context, string, int) ([]chatsync.Message, error) {
	if err := f.record("GetReplies"); err != nil {
		return nil, err
	}
	return f.replies, nil
}

func (f *fakeAPI) GetRepliesMore(context.Context, string, string, int) ([]chatsync.Message, error) {
	if err := f.record("GetRepliesMore"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAPI) GetNewerReplies(context.Context, string, string, int) ([]chatsync.Message, error) {
	if err := f.record("GetNewerReplies"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAPI) FetchCurrentUser(context.Context) (chatsync.User, error) {
	if err := f.record("FetchCurrentUser"); err != nil {
		return chatsync.User{}, err
	}
	if f.user.ID != "" {
		return f.user, nil
	}
	return me, nil
}

// harness is a connected client on a memory cache with a stub clock.
type harness struct {
	client *chatsync.Client
	api    *fakeAPI
	repo   *chatsync.MemoryRepository
	clock  *testutil.StubClock
}

func newHarness(t *testing.T, online bool, opts ...chatsync.ClientOption) *harness {
	t.Helper()
	h := &harness{
		api:   &fakeAPI{},
		repo:  chatsync.NewMemoryRepository(),
		clock: testutil.FixedClock(),
	}
	opts = append([]chatsync.ClientOption{
		chatsync.WithRepository(h.repo),
		chatsync.WithClock(h.clock),
		chatsync.WithIDGenerator(testutil.NewStubIDGenerator("local")),
	}, opts...)
	h.client = chatsync.NewClient(h.api, opts...)
	if err := h.client.ConnectUser(context.Background(), me); err != nil {
		t.Fatalf("ConnectUser error: %v", err)
	}
	h.client.SetOnline(online)
	return h
}

func (h *harness) state(t *testing.T, cid string) *chatsync.ChannelState {
	t.Helper()
	s, err := h.client.ChannelState(cid)
	if err != nil {
		t.Fatalf("ChannelState error: %v", err)
	}
	return s
}

func (h *harness) logic(t *testing.T, cid string) *chatsync.ChannelLogic {
	t.Helper()
	l, err := h.client.Channel(cid)
	if err != nil {
		t.Fatalf("Channel error: %v", err)
	}
	return l
}

func messageIDs(msgs []chatsync.Message) string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return fmt.Sprint(ids)
}
