package relay

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

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/logging"
)

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// HTTP talks to the sync service.
type HTTP struct {
	Base   string
	HTTP   *http.Client
	Tokens TokenSource
	log    *logrus.Entry
}

// NewHTTP returns a client for base. A nil client means http.DefaultClient.
func NewHTTP(base string, client *http.Client, tokens TokenSource, log *logrus.Entry) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		Base:   strings.TrimRight(base, "/"),
		HTTP:   client,
		Tokens: tokens,
		log:    logging.OrDiscard(log, "transport"),
	}
}

// FetchConversations accepts either a JSON array of records or an object
// keyed by conversation id.
func (c *HTTP) FetchConversations(ctx context.Context) ([]domain.ConversationRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "fetch conversations", http.MethodGet, "/api/conversations", nil, &raw); err != nil {
		return nil, err
	}
	recs, err := decodeConversations(raw)
	if err != nil {
		return nil, scerrors.NewTransportError("fetch conversations", 0, err)
	}
	return recs, nil
}

func decodeConversations(raw json.RawMessage) ([]domain.ConversationRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []domain.ConversationRecord
		return list, json.Unmarshal(trimmed, &list)
	}
	var byID map[domain.ConversationID]domain.ConversationRecord
	if err := json.Unmarshal(trimmed, &byID); err != nil {
		return nil, err
	}
	list := make([]domain.ConversationRecord, 0, len(byID))
	for id, rec := range byID {
		if rec.ID == "" {
			rec.ID = id
		}
		list = append(list, rec)
	}
	return list, nil
}

// FetchMessages returns messages of conversation created after since.
func (c *HTTP) FetchMessages(
	ctx context.Context,
	conversation domain.ConversationID,
	since int64,
) ([]domain.Message, error) {
	path := "/api/conversations/" + url.PathEscape(string(conversation)) +
		"/messages?since=" + strconv.FormatInt(since, 10)
	var msgs []domain.Message
	if err := c.do(ctx, "fetch messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchSettings returns the user's settings document.
func (c *HTTP) FetchSettings(ctx context.Context) (domain.Settings, error) {
	var s domain.Settings
	if err := c.do(ctx, "fetch settings", http.MethodGet, "/api/user/settings", nil, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Push sends one queued change. The item's payload is the request body.
func (c *HTTP) Push(ctx context.Context, item domain.SyncQueueItem) error {
	var method, path string
	switch item.Kind {
	case domain.SyncKindMessage:
		method, path = http.MethodPost, "/api/messages"
	case domain.SyncKindConversation:
		method, path = http.MethodPost, "/api/conversations"
	case domain.SyncKindSettings:
		method, path = http.MethodPut, "/api/user/settings"
	default:
		return scerrors.NewTransportError("push", 0, fmt.Errorf("unknown item kind %q", item.Kind))
	}
	return c.do(ctx, "push "+string(item.Kind), method, path, []byte(item.Payload), nil)
}

// RegisterDevice announces this installation.
func (c *HTTP) RegisterDevice(ctx context.Context, info domain.DeviceInfo) error {
	body, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.do(ctx, "register device", http.MethodPost, "/api/devices/register", body, nil)
}

func (c *HTTP) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rd)
	if err != nil {
		return scerrors.NewTransportError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil {
			return scerrors.NewTransportError(op, 0, fmt.Errorf("auth token: %w", err))
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return scerrors.NewTransportError(op, 0, err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("sync request")
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return scerrors.NewTransportError(op, resp.StatusCode,
			fmt.Errorf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(snippet))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return scerrors.NewTransportError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

var _ domain.Transport = (*HTTP)(nil)
