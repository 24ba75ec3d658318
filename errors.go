package chatsync

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ============================================================================
// Remote errors
// ============================================================================

// APIError represents an error returned by the chat backend.
type APIError struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return e.Code + ": " + e.Message
}

const (
	CodeNetwork          = "NETWORK_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInvalidInput     = "INPUT_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeModerationFailed = "MESSAGE_MODERATION_FAILED"
)

// Permanent reports whether resubmitting the same request can never succeed.
// Network, timeout, rate limit and server-side failures are transient.
func (e *APIError) Permanent() bool {
	if strings.Contains(e.Code, "TIMEOUT") || strings.Contains(e.Code, "NETWORK") || e.Code == CodeRateLimited {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError {
		return false
	}
	return true
}

// ============================================================================
// Precondition errors
// ============================================================================

var (
	ErrRequestInProgress = errors.New("request already in progress")
	ErrNoCurrentUser     = errors.New("current user is not set")
	ErrBlankField        = errors.New("required field is blank")
	ErrMessageNotFound   = errors.New("message not found")
	ErrAlreadyRead       = errors.New("channel is already read")
	ErrOffline           = errors.New("client is offline")
	ErrAttachmentUpload  = errors.New("attachment upload failed")
)

func blankField(op, field string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrBlankField, field)
}

// IsPrecondition reports whether err aborted an operation before any side effect.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrRequestInProgress) ||
		errors.Is(err, ErrNoCurrentUser) ||
		errors.Is(err, ErrBlankField) ||
		errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrAlreadyRead)
}

// IsPermanent classifies a failed remote call. Errors that are not an
// *APIError (transport failures, cancelled contexts) are transient.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAttachmentUpload) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return false
}

func isModerationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeModerationFailed
}

// failureStatus maps a failed remote call to the entity sync status and description.
func failureStatus(err error) (SyncStatus, *MessageSyncDescription) {
	switch {
	case isModerationError(err):
		return SyncFailedPermanently, &MessageSyncDescription{Type: SyncTypeFailedModeration, Reason: err.Error()}
	case IsPermanent(err):
		return SyncFailedPermanently, &MessageSyncDescription{Type: SyncTypePermanentError, Reason: err.Error()}
	default:
		return SyncNeeded, &MessageSyncDescription{Type: SyncTypeTransientError, Reason: err.Error()}
	}
}
