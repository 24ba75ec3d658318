package chatsync

import (
	"context"
	"fmt"
)

// FetchCurrentUser refreshes the session user with its mutes and counters.
// Offline, the cached copy of the user is used.
func (c *Client) FetchCurrentUser(ctx context.Context) (User, error) {
	return runOperation(ctx, &c.d, operation[User]{
		name: "fetch_current_user",
		call: func(ctx context.Context) (User, error) {
			return c.d.api.FetchCurrentUser(ctx)
		},
		result: func(ctx context.Context, u User, err error) (User, error) {
			if err != nil {
				return User{}, fmt.Errorf("fetch current user: %w", err)
			}
			c.d.global.SetUser(u)
			if err := c.d.repo.InsertUsers(ctx, []User{u}); err != nil {
				c.d.logger.Warn("failed to cache user", "user_id", u.ID, "err", err)
			}
			return u, nil
		},
		offline: func(ctx context.Context) (User, error) {
			me, ok := c.d.global.CurrentUser()
			if !ok {
				return User{}, fmt.Errorf("fetch current user: %w", ErrNoCurrentUser)
			}
			cached, err := c.d.repo.SelectUser(ctx, me.ID)
			if err != nil {
				return me, fmt.Errorf("fetch current user from cache: %w", err)
			}
			if cached != nil {
				c.d.global.SetUser(*cached)
				return *cached, nil
			}
			return me, nil
		},
	})
}

// ============================================================================
// Giphy
// ============================================================================

// ShuffleGiphy asks for another image for an ephemeral giphy preview.
func (c *Client) ShuffleGiphy(ctx context.Context, msg Message) (Message, error) {
	var l *ChannelLogic
	return runOperation(ctx, &c.d, operation[Message]{
		name:         "shuffle_giphy",
		precondition: func() (err error) { l, err = c.giphyPrecondition("shuffle giphy", msg); return err },
		request: func(_ context.Context, online bool) {
			local := msg.clone()
			local.SyncStatus = SyncNeeded
			if online {
				local.SyncStatus = SyncInProgress
			}
			l.UpsertLocalMessage(local)
		},
		call: func(ctx context.Context) (Message, error) {
			return c.d.api.ShuffleGiphy(ctx, msg)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			return c.reconcileMessage(ctx, l, msg, res, err, "shuffle giphy")
		},
		offline: func(context.Context) (Message, error) {
			return msg, fmt.Errorf("shuffle giphy %s: %w", msg.ID, ErrOffline)
		},
	})
}

// SendGiphy settles an ephemeral giphy preview. Cancel only removes the
// preview locally.
func (c *Client) SendGiphy(ctx context.Context, msg Message, action GiphyAction) (Message, error) {
	switch action {
	case GiphyShuffle:
		return c.ShuffleGiphy(ctx, msg)
	case GiphyCancel:
		l, err := c.giphyPrecondition("cancel giphy", msg)
		if err != nil {
			return Message{}, err
		}
		l.RemoveMessage(msg.ID)
		return msg, nil
	}

	var l *ChannelLogic
	return runOperation(ctx, &c.d, operation[Message]{
		name:         "send_giphy",
		precondition: func() (err error) { l, err = c.giphyPrecondition("send giphy", msg); return err },
		call: func(ctx context.Context) (Message, error) {
			return c.d.api.SendGiphy(ctx, msg, GiphySend)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			if err != nil {
				return msg, fmt.Errorf("send giphy %s: %w", msg.ID, err)
			}
			if res.ID != msg.ID {
				l.RemoveMessage(msg.ID)
			}
			return c.reconcileMessage(ctx, l, msg, res, nil, "send giphy")
		},
		offline: func(context.Context) (Message, error) {
			return msg, fmt.Errorf("send giphy %s: %w", msg.ID, ErrOffline)
		},
	})
}

func (c *Client) giphyPrecondition(op string, msg Message) (*ChannelLogic, error) {
	if _, ok := c.d.global.CurrentUser(); !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrNoCurrentUser)
	}
	if msg.ID == "" {
		return nil, blankField(op, "id")
	}
	if msg.CID == "" {
		return nil, blankField(op, "cid")
	}
	return c.Channel(msg.CID)
}
