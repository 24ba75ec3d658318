package chatsync

import (
	"context"
	"fmt"
	"time"
)

// HideChannel hides cid for the current user. The channel is hidden right
// away and shown again if the request fails. With clearHistory a successful
// request also removes every message up to now.
func (c *Client) HideChannel(ctx context.Context, cid string, clearHistory bool) error {
	l, err := c.Channel(cid)
	if err != nil {
		return err
	}
	unhide := func(ctx context.Context) {
		l.SetHidden(false, time.Time{})
		if err := c.d.repo.SetHiddenForChannel(ctx, cid, false, l.state.hideMessagesBefore.Value()); err != nil {
			c.d.logger.Warn("failed to cache hidden flag", "cid", cid, "err", err)
		}
	}
	_, err = runOperation(ctx, &c.d, operation[struct{}]{
		name: "hide_channel",
		precondition: func() error {
			if _, ok := c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("hide channel: %w", ErrNoCurrentUser)
			}
			return nil
		},
		request: func(ctx context.Context, _ bool) {
			l.SetHidden(true, time.Time{})
			if err := c.d.repo.SetHiddenForChannel(ctx, cid, true, l.state.hideMessagesBefore.Value()); err != nil {
				c.d.logger.Warn("failed to cache hidden flag", "cid", cid, "err", err)
			}
		},
		call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.d.api.HideChannel(ctx, cid, clearHistory)
		},
		result: func(ctx context.Context, _ struct{}, err error) (struct{}, error) {
			if err != nil {
				unhide(ctx)
				return struct{}{}, fmt.Errorf("hide channel %s: %w", cid, err)
			}
			if clearHistory {
				now := c.d.clock.Now()
				l.SetHidden(true, now)
				if err := c.d.repo.DeleteChannelMessagesBefore(ctx, cid, now); err != nil {
					c.d.logger.Warn("failed to clear cached history", "cid", cid, "err", err)
				}
				if err := c.d.repo.SetHiddenForChannel(ctx, cid, true, now); err != nil {
					c.d.logger.Warn("failed to cache hidden flag", "cid", cid, "err", err)
				}
			}
			return struct{}{}, nil
		},
		offline: func(ctx context.Context) (struct{}, error) {
			unhide(ctx)
			return struct{}{}, fmt.Errorf("hide channel %s: %w", cid, ErrOffline)
		},
	})
	return err
}

// MarkRead marks cid read up to its last message. It fails with
// ErrAlreadyRead when nothing is unread, without a remote call.
func (c *Client) MarkRead(ctx context.Context, cid string) error {
	l, err := c.Channel(cid)
	if err != nil {
		return err
	}
	_, err = runOperation(ctx, &c.d, operation[struct{}]{
		name: "mark_read",
		precondition: func() error {
			if _, ok := c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("mark read: %w", ErrNoCurrentUser)
			}
			if !l.MarkReadLocallyIfNeeded() {
				return fmt.Errorf("mark read %s: %w", cid, ErrAlreadyRead)
			}
			return nil
		},
		request: func(ctx context.Context, _ bool) {
			if err := c.persistChannelRow(ctx, l); err != nil {
				c.d.logger.Warn("failed to cache read state", "cid", cid, "err", err)
			}
		},
		call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.d.api.MarkRead(ctx, cid, l.state.read.Value().LastReadMessageID)
		},
		result: func(_ context.Context, _ struct{}, err error) (struct{}, error) {
			if err != nil {
				return struct{}{}, fmt.Errorf("mark read %s: %w", cid, err)
			}
			return struct{}{}, nil
		},
		offline: func(context.Context) (struct{}, error) {
			return struct{}{}, fmt.Errorf("mark read %s: %w", cid, ErrOffline)
		},
	})
	return err
}

// MarkAllRead marks every channel read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	_, err := runOperation(ctx, &c.d, operation[struct{}]{
		name: "mark_all_read",
		precondition: func() error {
			if _, ok := c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("mark all read: %w", ErrNoCurrentUser)
			}
			return nil
		},
		request: func(ctx context.Context, _ bool) {
			for _, l := range c.ActiveChannels() {
				if !l.MarkReadLocallyIfNeeded() {
					continue
				}
				if err := c.persistChannelRow(ctx, l); err != nil {
					c.d.logger.Warn("failed to cache read state", "cid", l.cid, "err", err)
				}
			}
			c.d.global.SetUnreadCounts(0, 0)
		},
		call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.d.api.MarkAllRead(ctx)
		},
		result: func(_ context.Context, _ struct{}, err error) (struct{}, error) {
			if err != nil {
				return struct{}{}, fmt.Errorf("mark all read: %w", err)
			}
			return struct{}{}, nil
		},
		offline: func(context.Context) (struct{}, error) {
			return struct{}{}, fmt.Errorf("mark all read: %w", ErrOffline)
		},
	})
	return err
}

// QueryMembers loads members of cid. Results are cached and merged into
// state; a transient failure or being offline answers from the cache.
func (c *Client) QueryMembers(ctx context.Context, cid string, req QueryMembersRequest) ([]Member, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return nil, err
	}
	return runOperation(ctx, &c.d, operation[[]Member]{
		name: "query_members",
		call: func(ctx context.Context) ([]Member, error) {
			return c.d.api.QueryMembers(ctx, cid, req)
		},
		result: func(ctx context.Context, members []Member, err error) ([]Member, error) {
			if err != nil {
				if IsPermanent(err) {
					return nil, fmt.Errorf("query members %s: %w", cid, err)
				}
				c.d.logger.Info("query members failed, using cache", "cid", cid, "err", err)
				return c.cachedMembers(ctx, cid, req)
			}
			if err := c.d.repo.UpdateMembersForChannel(ctx, cid, members); err != nil {
				c.d.logger.Warn("failed to cache members", "cid", cid, "err", err)
			}
			l.UpsertMembers(members...)
			return members, nil
		},
		offline: func(ctx context.Context) ([]Member, error) {
			return c.cachedMembers(ctx, cid, req)
		},
	})
}

func (c *Client) cachedMembers(ctx context.Context, cid string, req QueryMembersRequest) ([]Member, error) {
	channels, err := c.d.repo.SelectChannels(ctx, []string{cid}, MessagePagination{})
	if err != nil {
		return nil, fmt.Errorf("query members %s from cache: %w", cid, err)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	members := channels[0].Members
	if req.Offset >= len(members) {
		return nil, nil
	}
	members = members[req.Offset:]
	if req.Limit > 0 && len(members) > req.Limit {
		members = members[:req.Limit]
	}
	return members, nil
}
