// Package pebblestore is a chatsync.Repository on a Pebble key-value store.
//
// Key layout (parts separated by 0x00):
//
//	m  {id}                       message JSON
//	cm {cid} {created} {id}       channel message index -> id
//	t  {parentID} {created} {id}  thread index -> id
//	c  {cid}                      channel JSON
//	cfg {type}                    channel config JSON
//	q  {id}                       query channels JSON
//	r  {messageID} {userID} {type} reaction JSON
//	u  {id}                       user JSON
//
// {created} is the big-endian creation time with the sign bit flipped, so
// index keys sort by creation time then id.
package pebblestore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/LuminPulse-AI/chatsync"
)

const sep = 0x00

var (
	prefixMessage      = []byte("m\x00")
	prefixChannelIndex = []byte("cm\x00")
	prefixThreadIndex  = []byte("t\x00")
	prefixChannel      = []byte("c\x00")
	prefixConfig       = []byte("cfg\x00")
	prefixQuery        = []byte("q\x00")
	prefixReaction     = []byte("r\x00")
	prefixUser         = []byte("u\x00")
)

// Store implements chatsync.Repository.
type Store struct {
	db *pebble.DB
	// wmu serializes read-modify-write operations so index keys stay in
	// step with the documents they point to.
	wmu sync.Mutex
}

var _ chatsync.Repository = (*Store)(nil)

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	return open(dir, &pebble.Options{})
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// ============================================================================
// Keys
// ============================================================================

func key(prefix []byte, parts ...string) []byte {
	k := append([]byte(nil), prefix...)
	for i, p := range parts {
		if i > 0 {
			k = append(k, sep)
		}
		k = append(k, p...)
	}
	return k
}

func timeKey(t time.Time) string {
	var n int64
	if !t.IsZero() {
		n = t.UnixNano()
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n)^(1<<63))
	return string(b[:])
}

func channelIndexKey(m chatsync.Message) []byte {
	return key(prefixChannelIndex, m.CID, timeKey(m.CreatedTime()), m.ID)
}

func threadIndexKey(m chatsync.Message) []byte {
	return key(prefixThreadIndex, m.ParentID, timeKey(m.CreatedTime()), m.ID)
}

// scanPrefix is the key range of a prefix followed by a separator.
func scanPrefix(prefix []byte, parts ...string) *pebble.IterOptions {
	lower := append(key(prefix, parts...), sep)
	if len(parts) == 0 {
		lower = append([]byte(nil), prefix...)
	}
	upper := append([]byte(nil), lower...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func getDoc[T any](r reader, k []byte) (*T, error) {
	data, closer, err := r.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return &v, nil
}

func setDoc(b *pebble.Batch, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return b.Set(k, data, nil)
}

// scanDocs decodes every value in the range.
func scanDocs[T any](db *pebble.DB, opts *pebble.IterOptions) ([]T, error) {
	iter, err := db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T: %w", v, err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// scanIDs returns the values of an index range, which are ids.
func scanIDs(db *pebble.DB, opts *pebble.IterOptions, reverse bool, limit int) ([]string, error) {
	iter, err := db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	valid, step := iter.First, iter.Next
	if reverse {
		valid, step = iter.Last, iter.Prev
	}
	for ok := valid(); ok; ok = step() {
		ids = append(ids, string(iter.Value()))
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, iter.Error()
}

func (s *Store) write(fn func(b *pebble.Batch) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	b := s.db.NewIndexedBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// ============================================================================
// Messages
// ============================================================================

func (s *Store) SelectMessage(_ context.Context, id string) (*chatsync.Message, error) {
	m, err := getDoc[chatsync.Message](s.db, key(prefixMessage, id))
	if err != nil {
		return nil, fmt.Errorf("selecting message %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) messagesByID(ids []string) ([]chatsync.Message, error) {
	out := make([]chatsync.Message, 0, len(ids))
	for _, id := range ids {
		m, err := getDoc[chatsync.Message](s.db, key(prefixMessage, id))
		if err != nil {
			return nil, fmt.Errorf("selecting message %s: %w", id, err)
		}
		if m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) SelectMessagesForChannel(_ context.Context, cid string, p chatsync.MessagePagination) ([]chatsync.Message, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	ch, err := getDoc[chatsync.Channel](s.db, key(prefixChannel, cid))
	if err != nil {
		return nil, fmt.Errorf("selecting channel %s: %w", cid, err)
	}
	ids, err := scanIDs(s.db, scanPrefix(prefixChannelIndex, cid), false, 0)
	if err != nil {
		return nil, fmt.Errorf("scanning messages of %s: %w", cid, err)
	}
	msgs, err := s.messagesByID(ids)
	if err != nil {
		return nil, err
	}
	if ch != nil && !ch.HiddenMessagesBefore.IsZero() {
		msgs = slices.DeleteFunc(msgs, func(m chatsync.Message) bool {
			return !m.CreatedTime().After(ch.HiddenMessagesBefore)
		})
	}
	return chatsync.PaginateMessages(msgs, p), nil
}

func (s *Store) SelectMessagesForThread(_ context.Context, parentID string, limit int) ([]chatsync.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := scanIDs(s.db, scanPrefix(prefixThreadIndex, parentID), true, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning replies of %s: %w", parentID, err)
	}
	slices.Reverse(ids)
	return s.messagesByID(ids)
}

func (s *Store) SelectMessagesBySyncStatus(_ context.Context, status chatsync.SyncStatus) ([]chatsync.Message, error) {
	all, err := scanDocs[chatsync.Message](s.db, scanPrefix(prefixMessage))
	if err != nil {
		return nil, fmt.Errorf("scanning messages: %w", err)
	}
	out := slices.DeleteFunc(all, func(m chatsync.Message) bool { return m.SyncStatus != status })
	slices.SortFunc(out, func(a, b chatsync.Message) int {
		return cmp.Or(a.CreatedTime().Compare(b.CreatedTime()), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chatsync.Message) error {
	return s.InsertMessages(ctx, []chatsync.Message{msg})
}

func (s *Store) InsertMessages(_ context.Context, msgs []chatsync.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.write(func(b *pebble.Batch) error {
		return insertMessages(b, msgs)
	})
}

func insertMessages(b *pebble.Batch, msgs []chatsync.Message) error {
	for _, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("inserting message: %w: id", chatsync.ErrBlankField)
		}
		if err := deleteMessageIndexes(b, m.ID); err != nil {
			return err
		}
		if err := setDoc(b, key(prefixMessage, m.ID), m); err != nil {
			return err
		}
		if !m.IsThreadReply() {
			if err := b.Set(channelIndexKey(m), []byte(m.ID), nil); err != nil {
				return err
			}
		}
		if m.ParentID != "" {
			if err := b.Set(threadIndexKey(m), []byte(m.ID), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteMessageIndexes removes the index keys of the stored version of id.
func deleteMessageIndexes(b *pebble.Batch, id string) error {
	old, err := getDoc[chatsync.Message](b, key(prefixMessage, id))
	if err != nil || old == nil {
		return err
	}
	if err := b.Delete(channelIndexKey(*old), nil); err != nil {
		return err
	}
	if old.ParentID != "" {
		return b.Delete(threadIndexKey(*old), nil)
	}
	return nil
}

func (s *Store) DeleteChannelMessage(_ context.Context, msg chatsync.Message) error {
	return s.write(func(b *pebble.Batch) error {
		return deleteMessage(b, msg.ID)
	})
}

func deleteMessage(b *pebble.Batch, id string) error {
	if err := deleteMessageIndexes(b, id); err != nil {
		return err
	}
	if err := b.Delete(key(prefixMessage, id), nil); err != nil {
		return err
	}
	r := scanPrefix(prefixReaction, id)
	return b.DeleteRange(r.LowerBound, r.UpperBound, nil)
}

func (s *Store) DeleteChannelMessagesBefore(_ context.Context, cid string, t time.Time) error {
	return s.write(func(b *pebble.Batch) error {
		iter, err := b.NewIter(scanPrefix(prefixMessage))
		if err != nil {
			return err
		}
		var ids []string
		for iter.First(); iter.Valid(); iter.Next() {
			var m chatsync.Message
			if err := json.Unmarshal(iter.Value(), &m); err != nil {
				iter.Close()
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			if m.CID == cid && !m.CreatedTime().After(t) {
				ids = append(ids, m.ID)
			}
		}
		if err := errors.Join(iter.Error(), iter.Close()); err != nil {
			return err
		}
		for _, id := range ids {
			if err := deleteMessageIndexes(b, id); err != nil {
				return err
			}
			if err := b.Delete(key(prefixMessage, id), nil); err != nil {
				return fmt.Errorf("deleting message %s: %w", id, err)
			}
		}
		return nil
	})
}

// ============================================================================
// Channels
// ============================================================================

func (s *Store) SelectChannels(ctx context.Context, cids []string, p chatsync.MessagePagination) ([]chatsync.Channel, error) {
	out := make([]chatsync.Channel, 0, len(cids))
	for _, cid := range cids {
		ch, err := getDoc[chatsync.Channel](s.db, key(prefixChannel, cid))
		if err != nil {
			return nil, fmt.Errorf("selecting channel %s: %w", cid, err)
		}
		if ch == nil {
			continue
		}
		cfg, err := s.SelectChannelConfig(ctx, ch.Type)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			ch.Config = *cfg
		}
		if ch.Messages, err = s.SelectMessagesForChannel(ctx, cid, p); err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, nil
}

func (s *Store) InsertChannels(_ context.Context, channels []chatsync.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	return s.write(func(b *pebble.Batch) error {
		return insertChannels(b, channels)
	})
}

func insertChannels(b *pebble.Batch, channels []chatsync.Channel) error {
	for _, ch := range channels {
		if ch.CID == "" {
			return fmt.Errorf("inserting channel: %w: cid", chatsync.ErrBlankField)
		}
		ch.Messages = nil
		if err := setDoc(b, key(prefixChannel, ch.CID), ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetHiddenForChannel(_ context.Context, cid string, hidden bool, hideMessagesBefore time.Time) error {
	channelType, channelID, err := chatsync.ParseCID(cid)
	if err != nil {
		return err
	}
	return s.write(func(b *pebble.Batch) error {
		ch, err := getDoc[chatsync.Channel](b, key(prefixChannel, cid))
		if err != nil {
			return fmt.Errorf("selecting channel %s: %w", cid, err)
		}
		if ch == nil {
			ch = &chatsync.Channel{CID: cid, Type: channelType, ID: channelID}
		}
		ch.Hidden = hidden
		ch.HiddenMessagesBefore = hideMessagesBefore
		return setDoc(b, key(prefixChannel, cid), ch)
	})
}

func (s *Store) UpdateMembersForChannel(_ context.Context, cid string, members []chatsync.Member) error {
	return s.write(func(b *pebble.Batch) error {
		ch, err := getDoc[chatsync.Channel](b, key(prefixChannel, cid))
		if err != nil || ch == nil {
			return err
		}
		ch.Members = chatsync.MergeMembers(ch.Members, members)
		return setDoc(b, key(prefixChannel, cid), ch)
	})
}

func (s *Store) InsertChannelConfig(_ context.Context, cfg chatsync.ChannelConfig) error {
	return s.write(func(b *pebble.Batch) error {
		return setDoc(b, key(prefixConfig, cfg.Type), cfg)
	})
}

func (s *Store) SelectChannelConfig(_ context.Context, channelType string) (*chatsync.ChannelConfig, error) {
	cfg, err := getDoc[chatsync.ChannelConfig](s.db, key(prefixConfig, channelType))
	if err != nil {
		return nil, fmt.Errorf("selecting config %s: %w", channelType, err)
	}
	return cfg, nil
}

func (s *Store) StoreStateForChannels(_ context.Context, configs []chatsync.ChannelConfig, users []chatsync.User, channels []chatsync.Channel, messages []chatsync.Message) error {
	return s.write(func(b *pebble.Batch) error {
		for _, cfg := range configs {
			if err := setDoc(b, key(prefixConfig, cfg.Type), cfg); err != nil {
				return err
			}
		}
		if err := insertUsers(b, users); err != nil {
			return err
		}
		if err := insertChannels(b, channels); err != nil {
			return err
		}
		return insertMessages(b, messages)
	})
}

func (s *Store) InsertQueryChannels(_ context.Context, spec chatsync.QueryChannelsSpec) error {
	spec.CIDs = slices.Clone(spec.CIDs)
	return s.write(func(b *pebble.Batch) error {
		return setDoc(b, key(prefixQuery, spec.ID), spec)
	})
}

func (s *Store) SelectQueryChannels(_ context.Context, id string) (*chatsync.QueryChannelsSpec, error) {
	spec, err := getDoc[chatsync.QueryChannelsSpec](s.db, key(prefixQuery, id))
	if err != nil {
		return nil, fmt.Errorf("selecting query %s: %w", id, err)
	}
	return spec, nil
}

// ============================================================================
// Reactions
// ============================================================================

func reactionKey(r chatsync.Reaction) []byte {
	return key(prefixReaction, r.MessageID, r.UserID, r.Type)
}

func (s *Store) InsertReaction(_ context.Context, r chatsync.Reaction) error {
	return s.write(func(b *pebble.Batch) error {
		return setDoc(b, reactionKey(r), r)
	})
}

func (s *Store) SelectUserReactionToMessage(_ context.Context, reactionType, messageID, userID string) (*chatsync.Reaction, error) {
	k := reactionKey(chatsync.Reaction{MessageID: messageID, UserID: userID, Type: reactionType})
	r, err := getDoc[chatsync.Reaction](s.db, k)
	if err != nil {
		return nil, fmt.Errorf("selecting reaction %s on %s: %w", reactionType, messageID, err)
	}
	if r == nil || !r.DeletedAt.IsZero() {
		return nil, nil
	}
	return r, nil
}

func (s *Store) UpdateReactionsForMessageByDeletedDate(_ context.Context, userID, messageID string, deletedAt time.Time) error {
	return s.write(func(b *pebble.Batch) error {
		iter, err := b.NewIter(scanPrefix(prefixReaction, messageID, userID))
		if err != nil {
			return err
		}
		var reactions []chatsync.Reaction
		for iter.First(); iter.Valid(); iter.Next() {
			var r chatsync.Reaction
			if err := json.Unmarshal(iter.Value(), &r); err != nil {
				iter.Close()
				return fmt.Errorf("failed to unmarshal reaction: %w", err)
			}
			reactions = append(reactions, r)
		}
		if err := errors.Join(iter.Error(), iter.Close()); err != nil {
			return err
		}
		for _, r := range chatsync.SoftDeleteUserReactions(reactions, userID, messageID, deletedAt) {
			if err := setDoc(b, reactionKey(r), r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SelectReactionsBySyncStatus(_ context.Context, status chatsync.SyncStatus) ([]chatsync.Reaction, error) {
	all, err := scanDocs[chatsync.Reaction](s.db, scanPrefix(prefixReaction))
	if err != nil {
		return nil, fmt.Errorf("scanning reactions: %w", err)
	}
	out := slices.DeleteFunc(all, func(r chatsync.Reaction) bool { return r.SyncStatus != status })
	slices.SortStableFunc(out, func(a, b chatsync.Reaction) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), bytes.Compare(reactionKey(a), reactionKey(b)))
	})
	return out, nil
}

// ============================================================================
// Users
// ============================================================================

func (s *Store) InsertUsers(_ context.Context, users []chatsync.User) error {
	if len(users) == 0 {
		return nil
	}
	return s.write(func(b *pebble.Batch) error {
		return insertUsers(b, users)
	})
}

func insertUsers(b *pebble.Batch, users []chatsync.User) error {
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("inserting user: %w: id", chatsync.ErrBlankField)
		}
		if err := setDoc(b, key(prefixUser, u.ID), u); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SelectUser(_ context.Context, id string) (*chatsync.User, error) {
	u, err := getDoc[chatsync.User](s.db, key(prefixUser, id))
	if err != nil {
		return nil, fmt.Errorf("selecting user %s: %w", id, err)
	}
	return u, nil
}

// Clear deletes every key.
func (s *Store) Clear(_ context.Context) error {
	return s.write(func(b *pebble.Batch) error {
		for _, p := range [][]byte{
			prefixMessage, prefixChannelIndex, prefixThreadIndex, prefixChannel,
			prefixConfig, prefixQuery, prefixReaction, prefixUser,
		} {
			r := scanPrefix(p)
			if err := b.DeleteRange(r.LowerBound, r.UpperBound, nil); err != nil {
				return err
			}
		}
		return nil
	})
}
