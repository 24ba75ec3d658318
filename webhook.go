package chatsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of a pushed request body,
// optionally prefixed with "sha256=".
const SignatureHeader = "X-Chat-Signature"

const maxWebhookBody = 1 << 20

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature matches body under secret.
// The comparison is constant time.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}
	expected := strings.TrimPrefix(SignWebhookBody(body, secret), "sha256=")
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// WebhookReceiver accepts events pushed by the server over HTTP, for
// deployments where a websocket cannot be held open. Each request body is a
// single encoded event.
type WebhookReceiver struct {
	secret string
	sink   EventSink
	logger *slog.Logger
}

// NewWebhookReceiver returns a receiver delivering verified events to sink.
func NewWebhookReceiver(secret string, sink EventSink, logger *slog.Logger) (*WebhookReceiver, error) {
	if secret == "" {
		return nil, blankField("webhook receiver", "secret")
	}
	if sink == nil {
		return nil, errors.New("webhook receiver: nil sink")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookReceiver{secret: secret, sink: sink, logger: logger}, nil
}

// ServeHTTP verifies, decodes and applies one pushed event.
func (w *WebhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeWebhookError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeWebhookError(rw, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		writeWebhookError(rw, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !VerifyWebhookSignature(body, r.Header.Get(SignatureHeader), w.secret) {
		w.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
		writeWebhookError(rw, http.StatusUnauthorized, "invalid signature")
		return
	}
	e, err := DecodeEvent(body)
	if err != nil {
		writeWebhookError(rw, http.StatusBadRequest, err.Error())
		return
	}

	w.sink.HandleEvent(r.Context(), e)
	w.logger.Debug("webhook event applied", "type", e.Type())

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(map[string]bool{"ok": true})
}

func writeWebhookError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": map[string]string{"message": msg}})
}
