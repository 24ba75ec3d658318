package chatsync

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// SendReaction adds the current user's reaction to a message. With
// enforceUnique every other reaction of the user on that message is removed
// first, in the cache and in state.
func (c *Client) SendReaction(ctx context.Context, cid string, reaction Reaction, enforceUnique bool) (Reaction, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Reaction{}, err
	}
	var (
		me     User
		target Message
	)
	return runOperation(ctx, &c.d, operation[Reaction]{
		name: "send_reaction",
		precondition: func() error {
			var ok bool
			if me, ok = c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("send reaction: %w", ErrNoCurrentUser)
			}
			if reaction.Type == "" {
				return blankField("send reaction", "type")
			}
			if reaction.MessageID == "" {
				return blankField("send reaction", "message_id")
			}
			msg, err := c.findMessage(ctx, l, reaction.MessageID)
			if err != nil {
				return fmt.Errorf("send reaction to %s: %w", reaction.MessageID, err)
			}
			target = msg
			return nil
		},
		request: func(ctx context.Context, online bool) {
			now := c.d.clock.Now()
			reaction.UserID = me.ID
			u := me
			reaction.User = &u
			reaction.EnforceUnique = enforceUnique
			reaction.DeletedAt = time.Time{}
			if reaction.Score == 0 {
				reaction.Score = 1
			}
			if reaction.CreatedAt.IsZero() {
				reaction.CreatedAt = now
			}
			reaction.SyncStatus = SyncNeeded
			if online {
				reaction.SyncStatus = SyncInProgress
			}

			if enforceUnique {
				if err := c.d.repo.UpdateReactionsForMessageByDeletedDate(ctx, me.ID, reaction.MessageID, now); err != nil {
					c.d.logger.Warn("failed to clear cached reactions", "cid", cid, "message_id", reaction.MessageID, "err", err)
				}
			}
			c.storeReaction(ctx, reaction)
			c.applyReaction(ctx, l, target.ID, func(m Message) Message { return addOwnReaction(m, reaction, enforceUnique) })
		},
		call: func(ctx context.Context) (Reaction, error) {
			return c.d.api.SendReaction(ctx, reaction, enforceUnique)
		},
		result: func(ctx context.Context, res Reaction, err error) (Reaction, error) {
			if err != nil {
				reaction.SyncStatus = reactionFailureStatus(err)
				c.storeReaction(ctx, reaction)
				c.applyReaction(ctx, l, target.ID, func(m Message) Message { return replaceOwnReaction(m, reaction) })
				return reaction, fmt.Errorf("send reaction %s on %s: %w", reaction.Type, reaction.MessageID, err)
			}
			if res.MessageID == "" {
				res.MessageID = reaction.MessageID
			}
			if res.UserID == "" {
				res.UserID, res.User = reaction.UserID, reaction.User
			}
			if res.Type == "" {
				res.Type = reaction.Type
			}
			res.EnforceUnique = enforceUnique
			res.SyncStatus = SyncCompleted
			c.storeReaction(ctx, res)
			c.applyReaction(ctx, l, target.ID, func(m Message) Message { return replaceOwnReaction(m, res) })
			return res, nil
		},
		offline: func(context.Context) (Reaction, error) {
			return reaction, fmt.Errorf("send reaction %s on %s: %w", reaction.Type, reaction.MessageID, ErrOffline)
		},
	})
}

// DeleteReaction removes the current user's reaction of reactionType.
func (c *Client) DeleteReaction(ctx context.Context, cid, messageID, reactionType string) (Message, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Message{}, err
	}
	var (
		me      User
		removed Reaction
	)
	return runOperation(ctx, &c.d, operation[Message]{
		name: "delete_reaction",
		precondition: func() error {
			var ok bool
			if me, ok = c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("delete reaction: %w", ErrNoCurrentUser)
			}
			if reactionType == "" {
				return blankField("delete reaction", "type")
			}
			if messageID == "" {
				return blankField("delete reaction", "message_id")
			}
			if _, err := c.findMessage(ctx, l, messageID); err != nil {
				return fmt.Errorf("delete reaction from %s: %w", messageID, err)
			}
			return nil
		},
		request: func(ctx context.Context, online bool) {
			removed = Reaction{
				MessageID:  messageID,
				UserID:     me.ID,
				User:       &me,
				Type:       reactionType,
				DeletedAt:  c.d.clock.Now(),
				SyncStatus: SyncNeeded,
			}
			if cached, err := c.d.repo.SelectUserReactionToMessage(ctx, reactionType, messageID, me.ID); err == nil && cached != nil {
				removed.Score, removed.CreatedAt, removed.ExtraData = cached.Score, cached.CreatedAt, cached.ExtraData
			}
			if online {
				removed.SyncStatus = SyncInProgress
			}
			c.storeReaction(ctx, removed)
			c.applyReaction(ctx, l, messageID, func(m Message) Message { return removeOwnReaction(m, me.ID, reactionType) })
		},
		call: func(ctx context.Context) (Message, error) {
			return c.d.api.DeleteReaction(ctx, messageID, reactionType)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			if err != nil {
				removed.SyncStatus = reactionFailureStatus(err)
				c.storeReaction(ctx, removed)
				cur, _ := l.state.Message(messageID)
				return cur, fmt.Errorf("delete reaction %s on %s: %w", reactionType, messageID, err)
			}
			removed.SyncStatus = SyncCompleted
			c.storeReaction(ctx, removed)
			res = completed(res)
			if res.ID == "" {
				cur, _ := l.state.Message(messageID)
				return cur, nil
			}
			if res.CID == "" {
				res.CID = l.cid
			}
			l.UpsertMessages(res)
			stored, _ := l.state.Message(res.ID)
			if err := c.d.repo.InsertMessage(ctx, stored); err != nil {
				c.d.logger.Warn("failed to cache message", "cid", cid, "message_id", res.ID, "err", err)
			}
			return stored, nil
		},
		offline: func(context.Context) (Message, error) {
			cur, _ := l.state.Message(messageID)
			return cur, fmt.Errorf("delete reaction %s on %s: %w", reactionType, messageID, ErrOffline)
		},
	})
}

func reactionFailureStatus(err error) SyncStatus {
	if IsPermanent(err) {
		return SyncFailedPermanently
	}
	return SyncNeeded
}

func (c *Client) storeReaction(ctx context.Context, r Reaction) {
	if err := c.d.repo.InsertReaction(ctx, r); err != nil {
		c.d.logger.Warn("failed to cache reaction", "message_id", r.MessageID, "type", r.Type, "err", err)
	}
}

// applyReaction rewrites the reactions of a message in state and cache. The
// message version itself does not change, so the comparator is bypassed.
func (c *Client) applyReaction(ctx context.Context, l *ChannelLogic, messageID string, fn func(Message) Message) {
	msg, err := c.findMessage(ctx, l, messageID)
	if err != nil {
		return
	}
	msg = fn(msg)
	l.UpsertLocalMessage(msg)
	if err := c.d.repo.InsertMessage(ctx, msg); err != nil {
		c.d.logger.Warn("failed to cache message", "cid", l.cid, "message_id", msg.ID, "err", err)
	}
}

// ============================================================================
// Reaction bookkeeping
// ============================================================================

// addOwnReaction adds r to the message lists. With enforceUnique the other
// reactions of r.UserID are dropped and counts and scores follow.
func addOwnReaction(msg Message, r Reaction, enforceUnique bool) Message {
	msg = msg.clone()
	if msg.ReactionCounts == nil {
		msg.ReactionCounts = map[string]int{}
	}
	if msg.ReactionScores == nil {
		msg.ReactionScores = map[string]int{}
	}

	if enforceUnique {
		for _, old := range msg.OwnReactions {
			if old.UserID == r.UserID && old.Type != r.Type {
				uncount(msg, old)
			}
		}
		mine := func(x Reaction) bool { return x.UserID == r.UserID && x.Type != r.Type }
		msg.OwnReactions = slices.DeleteFunc(msg.OwnReactions, mine)
		msg.LatestReactions = slices.DeleteFunc(msg.LatestReactions, mine)
	}

	same := func(x Reaction) bool { return x.key() == r.key() }
	if i := slices.IndexFunc(msg.OwnReactions, same); i >= 0 {
		uncount(msg, msg.OwnReactions[i])
		msg.OwnReactions[i] = r
	} else {
		msg.OwnReactions = append(msg.OwnReactions, r)
	}
	msg.ReactionCounts[r.Type]++
	msg.ReactionScores[r.Type] += r.Score

	msg.LatestReactions = slices.DeleteFunc(msg.LatestReactions, same)
	msg.LatestReactions = append([]Reaction{r}, msg.LatestReactions...)
	return msg
}

// removeOwnReaction drops the reaction of userID with the given type.
func removeOwnReaction(msg Message, userID, reactionType string) Message {
	msg = msg.clone()
	match := func(x Reaction) bool { return x.UserID == userID && x.Type == reactionType }
	if i := slices.IndexFunc(msg.OwnReactions, match); i >= 0 {
		uncount(msg, msg.OwnReactions[i])
	}
	msg.OwnReactions = slices.DeleteFunc(msg.OwnReactions, match)
	msg.LatestReactions = slices.DeleteFunc(msg.LatestReactions, match)
	return msg
}

// replaceOwnReaction swaps the stored copy of r, keeping counts untouched.
func replaceOwnReaction(msg Message, r Reaction) Message {
	msg = msg.clone()
	for _, list := range [][]Reaction{msg.OwnReactions, msg.LatestReactions} {
		for i := range list {
			if list[i].key() == r.key() {
				list[i] = r
			}
		}
	}
	return msg
}

func uncount(msg Message, r Reaction) {
	if msg.ReactionCounts != nil {
		if msg.ReactionCounts[r.Type]--; msg.ReactionCounts[r.Type] <= 0 {
			delete(msg.ReactionCounts, r.Type)
		}
	}
	if msg.ReactionScores != nil {
		if msg.ReactionScores[r.Type] -= r.Score; msg.ReactionScores[r.Type] <= 0 {
			delete(msg.ReactionScores, r.Type)
		}
	}
}
