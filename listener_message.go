package chatsync

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// ============================================================================
// Send
// ============================================================================

// SendMessage sends msg to cid. The message shows up in state before the
// request is issued. While offline it is queued with SYNC_NEEDED and
// returned with an error wrapping ErrOffline.
//
// Sending a message that already exists locally (a failed or queued one)
// resends it under the same id.
func (c *Client) SendMessage(ctx context.Context, cid string, msg Message) (Message, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Message{}, err
	}
	var local Message
	return runOperation(ctx, &c.d, operation[Message]{
		name: "send_message",
		precondition: func() error {
			me, ok := c.d.global.CurrentUser()
			if !ok {
				return fmt.Errorf("send message: %w", ErrNoCurrentUser)
			}
			if strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0 && msg.Command == "" {
				return blankField("send message", "text")
			}
			local = c.prepareMessage(l, msg, me)
			return nil
		},
		request: func(ctx context.Context, online bool) {
			switch {
			case slices.ContainsFunc(local.Attachments, Attachment.pendingUpload):
				local.SyncStatus = SyncAwaitingAttachments
			case online:
				local.SyncStatus = SyncInProgress
			default:
				local.SyncStatus = SyncNeeded
			}
			c.storeLocalMessage(ctx, l, local)
		},
		call: func(ctx context.Context) (Message, error) {
			ready, err := c.uploadAttachments(ctx, l, local)
			local = ready
			if err != nil {
				return Message{}, err
			}
			return c.d.api.SendMessage(ctx, cid, ready)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			out, err := c.reconcileMessage(ctx, l, local, res, err, "send message")
			if err == nil {
				l.SetLastSentMessageDate(out.CreatedTime())
			}
			return out, err
		},
		offline: func(context.Context) (Message, error) {
			return local, fmt.Errorf("send message %s: %w", local.ID, ErrOffline)
		},
	})
}

// prepareMessage fills the fields of an outgoing message that only the
// client can know.
func (c *Client) prepareMessage(l *ChannelLogic, msg Message, me User) Message {
	if existing, ok := l.state.Message(msg.ID); ok && msg.ID != "" && existing.SyncStatus != SyncCompleted {
		msg.CreatedLocallyAt = existing.CreatedLocallyAt
	}
	msg = msg.clone()
	if msg.ID == "" {
		msg.ID = c.d.ids.NewID()
	}
	msg.CID = l.cid
	msg.User = me
	if msg.Type == "" {
		msg.Type = MessageTypeRegular
		if msg.ParentID != "" {
			msg.Type = MessageTypeReply
		}
	}
	if msg.CreatedLocallyAt.IsZero() {
		msg.CreatedLocallyAt = c.d.clock.Now()
	}
	for i, a := range msg.Attachments {
		if a.LocalPath != "" && a.UploadState == "" {
			msg.Attachments[i].UploadState = UploadIdle
		}
	}
	msg.SyncDescription = nil
	return msg
}

// uploadAttachments uploads every pending attachment, publishing each state
// change. The returned message is ready to send.
func (c *Client) uploadAttachments(ctx context.Context, l *ChannelLogic, msg Message) (Message, error) {
	if !slices.ContainsFunc(msg.Attachments, Attachment.pendingUpload) {
		return msg, nil
	}
	if c.d.uploader == nil {
		return msg, fmt.Errorf("%w: no uploader configured", ErrAttachmentUpload)
	}

	msg = msg.clone()
	for i, a := range msg.Attachments {
		if !a.pendingUpload() {
			continue
		}
		msg.Attachments[i].UploadState = UploadInProgress
		l.UpsertLocalMessage(msg.clone())

		uploaded, err := c.d.uploader.Upload(ctx, l.cid, a)
		if err != nil {
			msg.Attachments[i].UploadState = UploadFailed
			msg.Attachments[i].UploadError = err.Error()
			c.storeLocalMessage(ctx, l, msg.clone())
			return msg, fmt.Errorf("%w: %s: %w", ErrAttachmentUpload, a.Name, err)
		}
		uploaded.UploadState = UploadSuccess
		uploaded.UploadError = ""
		msg.Attachments[i] = uploaded
	}
	msg.SyncStatus = SyncInProgress
	c.storeLocalMessage(ctx, l, msg.clone())
	return msg, nil
}

// ============================================================================
// Edit
// ============================================================================

// EditMessage replaces the editable fields of a message.
func (c *Client) EditMessage(ctx context.Context, msg Message) (Message, error) {
	var (
		l      *ChannelLogic
		edited Message
	)
	return runOperation(ctx, &c.d, operation[Message]{
		name: "edit_message",
		precondition: func() error {
			if _, ok := c.d.global.CurrentUser(); !ok {
				return fmt.Errorf("edit message: %w", ErrNoCurrentUser)
			}
			if msg.ID == "" {
				return blankField("edit message", "id")
			}
			if msg.CID == "" {
				return blankField("edit message", "cid")
			}
			var err error
			if l, err = c.Channel(msg.CID); err != nil {
				return err
			}
			edited = msg.clone()
			edited.UpdatedLocallyAt = c.d.clock.Now()
			edited.SyncDescription = nil
			return nil
		},
		request: func(ctx context.Context, online bool) {
			edited.SyncStatus = SyncNeeded
			if online {
				edited.SyncStatus = SyncInProgress
			}
			c.storeLocalMessage(ctx, l, edited)
		},
		call: func(ctx context.Context) (Message, error) {
			return c.d.api.UpdateMessage(ctx, edited)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			return c.reconcileMessage(ctx, l, edited, res, err, "edit message")
		},
		offline: func(context.Context) (Message, error) {
			return edited, fmt.Errorf("edit message %s: %w", edited.ID, ErrOffline)
		},
	})
}

// ============================================================================
// Delete
// ============================================================================

// DeleteMessage deletes a message. A message the server never accepted (a
// moderation rejection of the current user, or one never sent) is removed
// locally without a remote call.
func (c *Client) DeleteMessage(ctx context.Context, cid, messageID string, hard bool) (Message, error) {
	l, err := c.Channel(cid)
	if err != nil {
		return Message{}, err
	}
	me, target, err := c.deletePrecondition(ctx, l, messageID)
	if err != nil {
		c.d.metrics.operation("delete_message", outcomeRejected)
		return Message{}, err
	}

	if neverAccepted(target, me) {
		l.RemoveMessage(target.ID)
		if err := c.d.repo.DeleteChannelMessage(ctx, target); err != nil {
			c.d.logger.Warn("failed to delete cached message", "cid", cid, "message_id", target.ID, "err", err)
		}
		c.d.metrics.operation("delete_message", outcomeSuccess)
		return target, nil
	}

	deleted := target.clone()
	return runOperation(ctx, &c.d, operation[Message]{
		name: "delete_message",
		request: func(ctx context.Context, online bool) {
			deleted.DeletedAt = c.d.clock.Now()
			deleted.SyncDescription = nil
			deleted.SyncStatus = SyncNeeded
			if online {
				deleted.SyncStatus = SyncInProgress
			}
			c.storeLocalMessage(ctx, l, deleted)
		},
		call: func(ctx context.Context) (Message, error) {
			return c.d.api.DeleteMessage(ctx, messageID, hard)
		},
		result: func(ctx context.Context, res Message, err error) (Message, error) {
			if err == nil && hard {
				l.RemoveMessage(messageID)
				if err := c.d.repo.DeleteChannelMessage(ctx, deleted); err != nil {
					c.d.logger.Warn("failed to delete cached message", "cid", cid, "message_id", messageID, "err", err)
				}
				return completed(res), nil
			}
			return c.reconcileMessage(ctx, l, deleted, res, err, "delete message")
		},
		offline: func(context.Context) (Message, error) {
			return deleted, fmt.Errorf("delete message %s: %w", messageID, ErrOffline)
		},
	})
}

func (c *Client) deletePrecondition(ctx context.Context, l *ChannelLogic, messageID string) (User, Message, error) {
	me, ok := c.d.global.CurrentUser()
	if !ok {
		return User{}, Message{}, fmt.Errorf("delete message: %w", ErrNoCurrentUser)
	}
	if messageID == "" {
		return User{}, Message{}, blankField("delete message", "id")
	}
	msg, err := c.findMessage(ctx, l, messageID)
	if err != nil {
		return User{}, Message{}, fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return me, msg, nil
}

// neverAccepted reports whether the server has no copy of the current user's message.
func neverAccepted(msg Message, me User) bool {
	if msg.User.ID != me.ID {
		return false
	}
	if msg.failedModeration() {
		return true
	}
	return msg.CreatedAt.IsZero() && msg.SyncStatus != SyncCompleted && msg.SyncStatus != SyncInProgress
}

// ============================================================================
// Shared
// ============================================================================

// findMessage looks a message up in state, then in the cache.
func (c *Client) findMessage(ctx context.Context, l *ChannelLogic, id string) (Message, error) {
	if msg, ok := l.state.Message(id); ok {
		return msg, nil
	}
	cached, err := c.d.repo.SelectMessage(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if cached == nil {
		return Message{}, ErrMessageNotFound
	}
	return *cached, nil
}

// storeLocalMessage writes an optimistic version to state and cache.
func (c *Client) storeLocalMessage(ctx context.Context, l *ChannelLogic, msg Message) {
	l.UpsertLocalMessage(msg)
	if msg.isEphemeral() {
		return
	}
	if err := c.d.repo.InsertMessage(ctx, msg); err != nil {
		c.d.logger.Warn("failed to cache message", "cid", l.cid, "message_id", msg.ID, "err", err)
	}
}

// reconcileMessage settles the outcome of a message request. A success is
// merged through IsMessageNewer so an event that already delivered a later
// version wins. A failure marks the local version with its sync status.
func (c *Client) reconcileMessage(ctx context.Context, l *ChannelLogic, local, res Message, err error, op string) (Message, error) {
	if err == nil {
		if res.ID == "" {
			res.ID = local.ID
		}
		if res.CID == "" {
			res.CID = local.CID
		}
		res.SyncStatus = SyncCompleted
		res.SyncDescription = nil
		res.CreatedLocallyAt = local.CreatedLocallyAt
		res.UpdatedLocallyAt = local.UpdatedLocallyAt
		l.UpsertMessages(res)

		stored, ok := l.state.Message(res.ID)
		if !ok {
			stored = res
		}
		if !stored.isEphemeral() {
			if err := c.d.repo.InsertMessage(ctx, stored); err != nil {
				c.d.logger.Warn("failed to cache message", "cid", l.cid, "message_id", stored.ID, "err", err)
			}
		}
		return stored, nil
	}

	failed, ok := l.state.Message(local.ID)
	if !ok {
		failed = local
	}
	if failed.SyncStatus == SyncCompleted && failed.lastUpdateTime().After(local.lastUpdateTime()) {
		return failed, fmt.Errorf("%s %s: %w", op, local.ID, err)
	}
	failed = local.clone()
	failed.SyncStatus, failed.SyncDescription = failureStatus(err)
	c.storeLocalMessage(ctx, l, failed)
	return failed, fmt.Errorf("%s %s: %w", op, local.ID, err)
}
