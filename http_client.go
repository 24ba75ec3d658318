package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// ChatHTTPClient
// ============================================================================

// ChatHTTPClient is the REST implementation of ChatAPI and AttachmentUploader.
//
// Every response is an envelope:
//
//	{"ok": true, "data": ...}
//	{"ok": false, "error": {"code": "...", "message": "..."}}
type ChatHTTPClient struct {
	token      string
	baseURL    string
	agent      string
	httpClient *http.Client
}

var (
	_ ChatAPI            = (*ChatHTTPClient)(nil)
	_ AttachmentUploader = (*ChatHTTPClient)(nil)
)

type HTTPOption func(*ChatHTTPClient)

func WithToken(token string) HTTPOption {
	return func(c *ChatHTTPClient) { c.token = token }
}

func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *ChatHTTPClient) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *ChatHTTPClient) { c.httpClient = client }
}

// WithAgent sets the X-Chat-Agent header sent with every request.
func WithAgent(agent string) HTTPOption {
	return func(c *ChatHTTPClient) { c.agent = agent }
}

func NewChatHTTPClient(baseURL string, opts ...HTTPOption) *ChatHTTPClient {
	c := &ChatHTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a refresh.
func (c *ChatHTTPClient) SetToken(token string) {
	c.token = token
}

func (c *ChatHTTPClient) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helpers
// ============================================================================

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

func (c *ChatHTTPClient) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func (c *ChatHTTPClient) setAuthHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.agent != "" {
		req.Header.Set("X-Chat-Agent", c.agent)
	}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// do issues one request and unwraps the envelope into T. Failed envelopes
// and error statuses become *APIError.
func do[T any](ctx context.Context, c *ChatHTTPClient, method, path string, body any, query url.Values) (T, error) {
	var zero T
	data, status, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return zero, err
	}
	return unwrap[T](data, status)
}

func unwrap[T any](data []byte, status int) (T, error) {
	var zero T
	env, err := decodeJSON[envelope](data)
	if err != nil {
		if status >= http.StatusBadRequest {
			return zero, statusError(status, strings.TrimSpace(string(data)))
		}
		return zero, err
	}
	if !env.OK || status >= http.StatusBadRequest {
		if env.Error == nil {
			return zero, statusError(status, http.StatusText(status))
		}
		apiErr := *env.Error
		apiErr.StatusCode = status
		return zero, &apiErr
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return zero, nil
	}
	out, err := decodeJSON[T](env.Data)
	if err != nil {
		return zero, err
	}
	return *out, nil
}

func statusError(status int, message string) *APIError {
	code := "HTTP_ERROR"
	switch {
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = CodeInvalidInput
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		code = CodeTimeout
	}
	return &APIError{StatusCode: status, Code: code, Message: message}
}

func channelPath(cid string, suffix string) (string, error) {
	channelType, channelID, err := ParseCID(cid)
	if err != nil {
		return "", err
	}
	return "/channels/" + url.PathEscape(channelType) + "/" + url.PathEscape(channelID) + suffix, nil
}

func messagePath(id string, suffix string) string {
	return "/messages/" + url.PathEscape(id) + suffix
}

// ============================================================================
// Channels
// ============================================================================

func (c *ChatHTTPClient) QueryChannel(ctx context.Context, cid string, req QueryChannelRequest) (Channel, error) {
	path, err := channelPath(cid, "/query")
	if err != nil {
		return Channel{}, err
	}
	return do[Channel](ctx, c, http.MethodPost, path, req, nil)
}

func (c *ChatHTTPClient) QueryChannels(ctx context.Context, req QueryChannelsRequest) ([]Channel, error) {
	return do[[]Channel](ctx, c, http.MethodPost, "/channels", req, nil)
}

func (c *ChatHTTPClient) HideChannel(ctx context.Context, cid string, clearHistory bool) error {
	path, err := channelPath(cid, "/hide")
	if err != nil {
		return err
	}
	_, err = do[json.RawMessage](ctx, c, http.MethodPost, path, map[string]any{"clearHistory": clearHistory}, nil)
	return err
}

func (c *ChatHTTPClient) MarkRead(ctx context.Context, cid, messageID string) error {
	path, err := channelPath(cid, "/read")
	if err != nil {
		return err
	}
	var body any
	if messageID != "" {
		body = map[string]any{"messageId": messageID}
	}
	_, err = do[json.RawMessage](ctx, c, http.MethodPost, path, body, nil)
	return err
}

func (c *ChatHTTPClient) MarkAllRead(ctx context.Context) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodPost, "/channels/read", nil, nil)
	return err
}

func (c *ChatHTTPClient) QueryMembers(ctx context.Context, cid string, req QueryMembersRequest) ([]Member, error) {
	path, err := channelPath(cid, "/members")
	if err != nil {
		return nil, err
	}
	return do[[]Member](ctx, c, http.MethodPost, path, req, nil)
}

// ============================================================================
// Messages
// ============================================================================

func (c *ChatHTTPClient) SendMessage(ctx context.Context, cid string, msg Message) (Message, error) {
	path, err := channelPath(cid, "/message")
	if err != nil {
		return Message{}, err
	}
	return do[Message](ctx, c, http.MethodPost, path, map[string]any{"message": msg}, nil)
}

func (c *ChatHTTPClient) UpdateMessage(ctx context.Context, msg Message) (Message, error) {
	return do[Message](ctx, c, http.MethodPost, messagePath(msg.ID, ""), map[string]any{"message": msg}, nil)
}

func (c *ChatHTTPClient) DeleteMessage(ctx context.Context, messageID string, hard bool) (Message, error) {
	var query url.Values
	if hard {
		query = url.Values{"hard": {"true"}}
	}
	return do[Message](ctx, c, http.MethodDelete, messagePath(messageID, ""), nil, query)
}

func (c *ChatHTTPClient) GetMessage(ctx context.Context, messageID string) (Message, error) {
	return do[Message](ctx, c, http.MethodGet, messagePath(messageID, ""), nil, nil)
}

func (c *ChatHTTPClient) ShuffleGiphy(ctx context.Context, msg Message) (Message, error) {
	return c.SendGiphy(ctx, msg, GiphyShuffle)
}

func (c *ChatHTTPClient) SendGiphy(ctx context.Context, msg Message, action GiphyAction) (Message, error) {
	return do[Message](ctx, c, http.MethodPost, messagePath(msg.ID, "/action"), map[string]any{
		"cid":         msg.CID,
		"imageAction": action,
	}, nil)
}

// ── Replies ──

func (c *ChatHTTPClient) GetReplies(ctx context.Context, parentID string, limit int) ([]Message, error) {
	return c.replies(ctx, parentID, url.Values{"limit": {strconv.Itoa(limit)}})
}

func (c *ChatHTTPClient) GetRepliesMore(ctx context.Context, parentID, firstID string, limit int) ([]Message, error) {
	return c.replies(ctx, parentID, url.Values{"limit": {strconv.Itoa(limit)}, "idLt": {firstID}})
}

func (c *ChatHTTPClient) GetNewerReplies(ctx context.Context, parentID, lastID string, limit int) ([]Message, error) {
	return c.replies(ctx, parentID, url.Values{"limit": {strconv.Itoa(limit)}, "idGt": {lastID}})
}

func (c *ChatHTTPClient) replies(ctx context.Context, parentID string, query url.Values) ([]Message, error) {
	return do[[]Message](ctx, c, http.MethodGet, messagePath(parentID, "/replies"), nil, query)
}

// ============================================================================
// Reactions and users
// ============================================================================

func (c *ChatHTTPClient) SendReaction(ctx context.Context, reaction Reaction, enforceUnique bool) (Reaction, error) {
	return do[Reaction](ctx, c, http.MethodPost, messagePath(reaction.MessageID, "/reaction"), map[string]any{
		"reaction":      reaction,
		"enforceUnique": enforceUnique,
	}, nil)
}

func (c *ChatHTTPClient) DeleteReaction(ctx context.Context, messageID, reactionType string) (Message, error) {
	return do[Message](ctx, c, http.MethodDelete, messagePath(messageID, "/reaction/"+url.PathEscape(reactionType)), nil, nil)
}

func (c *ChatHTTPClient) FetchCurrentUser(ctx context.Context) (User, error) {
	return do[User](ctx, c, http.MethodGet, "/users/me", nil, nil)
}
