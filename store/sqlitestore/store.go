// Package sqlitestore is a chatsync.Repository on SQLite.
//
// Entities are stored as JSON documents next to the columns used for lookup
// and ordering. The schema is managed by embedded golang-migrate migrations
// that Open applies.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/LuminPulse-AI/chatsync"
)

// Store implements chatsync.Repository.
type Store struct {
	db   *sql.DB
	path string
}

var _ chatsync.Repository = (*Store)(nil)

// Open opens the database at path, creating it and its directory if needed,
// and migrates it. path may be ":memory:".
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// OpenConnection opens a configured connection without migrating it.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and every ":memory:"
	// connection would be its own database.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (s *Store) DB() *sql.DB  { return s.db }
func (s *Store) Path() string { return s.path }
func (s *Store) Close() error { return s.db.Close() }

// ============================================================================
// Encoding helpers
// ============================================================================

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return string(b), nil
}

func decode[T any](data string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryDoc[T any](ctx context.Context, db *sql.DB, query string, args ...any) (*T, error) {
	var data string
	err := db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := decode[T](data)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ============================================================================
// Messages
// ============================================================================

func (s *Store) SelectMessage(ctx context.Context, id string) (*chatsync.Message, error) {
	m, err := queryDoc[chatsync.Message](ctx, s.db, `SELECT data FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("selecting message %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) SelectMessagesForChannel(ctx context.Context, cid string, p chatsync.MessagePagination) ([]chatsync.Message, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	msgs, err := queryDocs[chatsync.Message](ctx, s.db, `
		SELECT m.data FROM messages m
		LEFT JOIN channels c ON c.cid = m.cid
		WHERE m.cid = ? AND m.thread_only = 0
		  AND (c.hidden_before IS NULL OR c.hidden_before = 0 OR m.created_at > c.hidden_before)
		ORDER BY m.created_at, m.id`, cid)
	if err != nil {
		return nil, fmt.Errorf("selecting messages of %s: %w", cid, err)
	}
	return chatsync.PaginateMessages(msgs, p), nil
}

func (s *Store) SelectMessagesForThread(ctx context.Context, parentID string, limit int) ([]chatsync.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	msgs, err := queryDocs[chatsync.Message](ctx, s.db, `
		SELECT data FROM (
			SELECT data, created_at, id FROM messages
			WHERE parent_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at, id`, parentID, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting replies of %s: %w", parentID, err)
	}
	return msgs, nil
}

func (s *Store) SelectMessagesBySyncStatus(ctx context.Context, status chatsync.SyncStatus) ([]chatsync.Message, error) {
	msgs, err := queryDocs[chatsync.Message](ctx, s.db,
		`SELECT data FROM messages WHERE sync_status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("selecting messages with status %s: %w", status, err)
	}
	return msgs, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chatsync.Message) error {
	return s.InsertMessages(ctx, []chatsync.Message{msg})
}

func (s *Store) InsertMessages(ctx context.Context, msgs []chatsync.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertMessages(ctx, tx, msgs)
	})
}

func insertMessages(ctx context.Context, ex execer, msgs []chatsync.Message) error {
	for _, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("inserting message: %w: id", chatsync.ErrBlankField)
		}
		data, err := encode(m)
		if err != nil {
			return err
		}
		threadOnly := 0
		if m.IsThreadReply() {
			threadOnly = 1
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO messages (id, cid, parent_id, thread_only, created_at, sync_status, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				cid = excluded.cid, parent_id = excluded.parent_id, thread_only = excluded.thread_only,
				created_at = excluded.created_at, sync_status = excluded.sync_status, data = excluded.data`,
			m.ID, m.CID, m.ParentID, threadOnly, nanos(m.CreatedTime()), string(m.SyncStatus), data)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.ID, err)
		}
	}
	return nil
}

func (s *Store) DeleteChannelMessage(ctx context.Context, msg chatsync.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE message_id = ?`, msg.ID); err != nil {
			return fmt.Errorf("deleting reactions of %s: %w", msg.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, msg.ID); err != nil {
			return fmt.Errorf("deleting message %s: %w", msg.ID, err)
		}
		return nil
	})
}

func (s *Store) DeleteChannelMessagesBefore(ctx context.Context, cid string, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE cid = ? AND created_at <= ?`, cid, nanos(t)); err != nil {
		return fmt.Errorf("deleting messages of %s before %s: %w", cid, t, err)
	}
	return nil
}

// ============================================================================
// Channels
// ============================================================================

type channelRow struct {
	data         string
	hidden       bool
	hiddenBefore int64
}

func (r channelRow) channel() (chatsync.Channel, error) {
	ch, err := decode[chatsync.Channel](r.data)
	if err != nil {
		return ch, err
	}
	ch.Hidden = r.hidden
	ch.HiddenMessagesBefore = fromNanos(r.hiddenBefore)
	return ch, nil
}

func (s *Store) selectChannelRow(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, cid string) (*channelRow, error) {
	var r channelRow
	err := q.QueryRowContext(ctx, `SELECT data, hidden, hidden_before FROM channels WHERE cid = ?`, cid).
		Scan(&r.data, &r.hidden, &r.hiddenBefore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SelectChannels(ctx context.Context, cids []string, p chatsync.MessagePagination) ([]chatsync.Channel, error) {
	out := make([]chatsync.Channel, 0, len(cids))
	for _, cid := range cids {
		row, err := s.selectChannelRow(ctx, s.db, cid)
		if err != nil {
			return nil, fmt.Errorf("selecting channel %s: %w", cid, err)
		}
		if row == nil {
			continue
		}
		ch, err := row.channel()
		if err != nil {
			return nil, err
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
		out = append(out, ch)
	}
	return out, nil
}

func (s *Store) InsertChannels(ctx context.Context, channels []chatsync.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertChannels(ctx, tx, channels)
	})
}

func insertChannels(ctx context.Context, ex execer, channels []chatsync.Channel) error {
	for _, ch := range channels {
		if ch.CID == "" {
			return fmt.Errorf("inserting channel: %w: cid", chatsync.ErrBlankField)
		}
		ch.Messages = nil
		data, err := encode(ch)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO channels (cid, hidden, hidden_before, data) VALUES (?, ?, ?, ?)
			ON CONFLICT(cid) DO UPDATE SET
				hidden = excluded.hidden, hidden_before = excluded.hidden_before, data = excluded.data`,
			ch.CID, ch.Hidden, nanos(ch.HiddenMessagesBefore), data)
		if err != nil {
			return fmt.Errorf("inserting channel %s: %w", ch.CID, err)
		}
	}
	return nil
}

func (s *Store) SetHiddenForChannel(ctx context.Context, cid string, hidden bool, hideMessagesBefore time.Time) error {
	channelType, channelID, err := chatsync.ParseCID(cid)
	if err != nil {
		return err
	}
	data, err := encode(chatsync.Channel{CID: cid, Type: channelType, ID: channelID})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channels (cid, hidden, hidden_before, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET hidden = excluded.hidden, hidden_before = excluded.hidden_before`,
		cid, hidden, nanos(hideMessagesBefore), data)
	if err != nil {
		return fmt.Errorf("setting hidden for %s: %w", cid, err)
	}
	return nil
}

func (s *Store) UpdateMembersForChannel(ctx context.Context, cid string, members []chatsync.Member) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		row, err := s.selectChannelRow(ctx, tx, cid)
		if err != nil {
			return fmt.Errorf("selecting channel %s: %w", cid, err)
		}
		if row == nil {
			return nil
		}
		ch, err := decode[chatsync.Channel](row.data)
		if err != nil {
			return err
		}
		ch.Members = chatsync.MergeMembers(ch.Members, members)
		data, err := encode(ch)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE channels SET data = ? WHERE cid = ?`, data, cid); err != nil {
			return fmt.Errorf("updating members of %s: %w", cid, err)
		}
		return nil
	})
}

func (s *Store) InsertChannelConfig(ctx context.Context, cfg chatsync.ChannelConfig) error {
	return insertConfigs(ctx, s.db, []chatsync.ChannelConfig{cfg})
}

func insertConfigs(ctx context.Context, ex execer, configs []chatsync.ChannelConfig) error {
	for _, cfg := range configs {
		data, err := encode(cfg)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO channel_configs (type, data) VALUES (?, ?)
			ON CONFLICT(type) DO UPDATE SET data = excluded.data`, cfg.Type, data)
		if err != nil {
			return fmt.Errorf("inserting config %s: %w", cfg.Type, err)
		}
	}
	return nil
}

func (s *Store) SelectChannelConfig(ctx context.Context, channelType string) (*chatsync.ChannelConfig, error) {
	cfg, err := queryDoc[chatsync.ChannelConfig](ctx, s.db, `SELECT data FROM channel_configs WHERE type = ?`, channelType)
	if err != nil {
		return nil, fmt.Errorf("selecting config %s: %w", channelType, err)
	}
	return cfg, nil
}

func (s *Store) StoreStateForChannels(ctx context.Context, configs []chatsync.ChannelConfig, users []chatsync.User, channels []chatsync.Channel, messages []chatsync.Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertConfigs(ctx, tx, configs); err != nil {
			return err
		}
		if err := insertUsers(ctx, tx, users); err != nil {
			return err
		}
		if err := insertChannels(ctx, tx, channels); err != nil {
			return err
		}
		return insertMessages(ctx, tx, messages)
	})
}

func (s *Store) InsertQueryChannels(ctx context.Context, spec chatsync.QueryChannelsSpec) error {
	cids, err := encode(spec.CIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_channels (id, cids) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET cids = excluded.cids`, spec.ID, cids)
	if err != nil {
		return fmt.Errorf("inserting query %s: %w", spec.ID, err)
	}
	return nil
}

func (s *Store) SelectQueryChannels(ctx context.Context, id string) (*chatsync.QueryChannelsSpec, error) {
	cids, err := queryDoc[[]string](ctx, s.db, `SELECT cids FROM query_channels WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("selecting query %s: %w", id, err)
	}
	if cids == nil {
		return nil, nil
	}
	return &chatsync.QueryChannelsSpec{ID: id, CIDs: *cids}, nil
}

// ============================================================================
// Reactions
// ============================================================================

func (s *Store) InsertReaction(ctx context.Context, r chatsync.Reaction) error {
	return insertReaction(ctx, s.db, r)
}

func insertReaction(ctx context.Context, ex execer, r chatsync.Reaction) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO reactions (message_id, user_id, type, created_at, deleted_at, sync_status, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, user_id, type) DO UPDATE SET
			created_at = excluded.created_at, deleted_at = excluded.deleted_at,
			sync_status = excluded.sync_status, data = excluded.data`,
		r.MessageID, r.UserID, r.Type, nanos(r.CreatedAt), nanos(r.DeletedAt), string(r.SyncStatus), data)
	if err != nil {
		return fmt.Errorf("inserting reaction %s on %s: %w", r.Type, r.MessageID, err)
	}
	return nil
}

func (s *Store) SelectUserReactionToMessage(ctx context.Context, reactionType, messageID, userID string) (*chatsync.Reaction, error) {
	r, err := queryDoc[chatsync.Reaction](ctx, s.db, `
		SELECT data FROM reactions
		WHERE message_id = ? AND user_id = ? AND type = ? AND deleted_at = 0`,
		messageID, userID, reactionType)
	if err != nil {
		return nil, fmt.Errorf("selecting reaction %s on %s: %w", reactionType, messageID, err)
	}
	return r, nil
}

func (s *Store) UpdateReactionsForMessageByDeletedDate(ctx context.Context, userID, messageID string, deletedAt time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT data FROM reactions WHERE message_id = ? AND user_id = ?`, messageID, userID)
		if err != nil {
			return fmt.Errorf("selecting reactions on %s: %w", messageID, err)
		}
		var reactions []chatsync.Reaction
		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				rows.Close()
				return err
			}
			r, err := decode[chatsync.Reaction](data)
			if err != nil {
				rows.Close()
				return err
			}
			reactions = append(reactions, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, r := range chatsync.SoftDeleteUserReactions(reactions, userID, messageID, deletedAt) {
			if err := insertReaction(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) SelectReactionsBySyncStatus(ctx context.Context, status chatsync.SyncStatus) ([]chatsync.Reaction, error) {
	out, err := queryDocs[chatsync.Reaction](ctx, s.db, `
		SELECT data FROM reactions WHERE sync_status = ?
		ORDER BY created_at, message_id, user_id, type`, string(status))
	if err != nil {
		return nil, fmt.Errorf("selecting reactions with status %s: %w", status, err)
	}
	return out, nil
}

// ============================================================================
// Users
// ============================================================================

func (s *Store) InsertUsers(ctx context.Context, users []chatsync.User) error {
	if len(users) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertUsers(ctx, tx, users)
	})
}

func insertUsers(ctx context.Context, ex execer, users []chatsync.User) error {
	for _, u := range users {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("inserting user: %w: id", chatsync.ErrBlankField)
		}
		data, err := encode(u)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO users (id, data) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET data = excluded.data`, u.ID, data)
		if err != nil {
			return fmt.Errorf("inserting user %s: %w", u.ID, err)
		}
	}
	return nil
}

func (s *Store) SelectUser(ctx context.Context, id string) (*chatsync.User, error) {
	u, err := queryDoc[chatsync.User](ctx, s.db, `SELECT data FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("selecting user %s: %w", id, err)
	}
	return u, nil
}

// Clear empties every table, keeping the schema.
func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "channels", "channel_configs", "query_channels", "reactions", "users"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}
