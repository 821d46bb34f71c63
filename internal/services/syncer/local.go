package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
)

// ReadableMessage is a stored message with its decrypted body, or the reason
// it could not be read.
type ReadableMessage struct {
	domain.Message
	Body domain.MessageBody
	Err  error
}

// CreateConversation records a new local conversation and queues it for the
// sync service. It is a no-op for a conversation that already exists.
func (e *Engine) CreateConversation(ctx context.Context, id domain.ConversationID) (domain.ConversationRecord, error) {
	rec, created, err := e.ensureConversation(id)
	if err != nil || !created {
		return rec, err
	}
	if _, err := e.Enqueue(ctx, domain.SyncKindConversation, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Conversation returns the stored record of a conversation.
func (e *Engine) Conversation(id domain.ConversationID) (domain.ConversationRecord, bool, error) {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	return e.d.Conversations.Get(id)
}

// SealAttachment encrypts a file under the conversation key. The
// conversation is created first so the key never outlives a missing record.
func (e *Engine) SealAttachment(
	ctx context.Context,
	conversation domain.ConversationID,
	file domain.Attachment,
) (domain.EncryptedAttachment, error) {
	if _, err := e.CreateConversation(ctx, conversation); err != nil {
		return domain.EncryptedAttachment{}, err
	}
	return e.d.Cipher.SealBinary(ctx, conversation, file)
}

func (e *Engine) ensureConversation(id domain.ConversationID) (domain.ConversationRecord, bool, error) {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	rec, ok, err := e.d.Conversations.Get(id)
	if err != nil || ok {
		return rec, false, err
	}
	rec = domain.ConversationRecord{ID: id, LastModified: e.now().UnixMilli()}
	if err := e.d.Conversations.Put(rec); err != nil {
		return domain.ConversationRecord{}, false, err
	}
	return rec, true, nil
}

// SendMessage seals text for the conversation, stores the message locally
// and queues it for delivery. The conversation is created if needed.
func (e *Engine) SendMessage(
	ctx context.Context,
	conversation domain.ConversationID,
	sender, text string,
) (domain.Message, error) {
	if _, err := e.CreateConversation(ctx, conversation); err != nil {
		return domain.Message{}, err
	}

	now := e.now().UnixMilli()
	env, err := e.d.Cipher.Seal(ctx, conversation, domain.MessageBody{Text: text, Sender: sender, Timestamp: now})
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             domain.MessageID(newItemID()),
		ConversationID: conversation,
		Sender:         sender,
		Content:        env,
		CreatedAt:      now,
	}

	e.recordsMu.Lock()
	rec, ok, err := e.d.Conversations.Get(conversation)
	if err == nil {
		if !ok {
			rec = domain.ConversationRecord{ID: conversation}
		}
		rec.Messages = append(rec.Messages, msg)
		rec.LastModified = now
		err = e.d.Conversations.Put(rec)
	}
	e.recordsMu.Unlock()
	if err != nil {
		return domain.Message{}, fmt.Errorf("store message: %w", err)
	}

	if _, err := e.Enqueue(ctx, domain.SyncKindMessage, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// ReadConversation returns the stored messages of a conversation, decrypted
// where possible. A message that fails to open carries Err and does not
// affect the others.
func (e *Engine) ReadConversation(ctx context.Context, id domain.ConversationID) ([]ReadableMessage, error) {
	e.recordsMu.Lock()
	rec, ok, err := e.d.Conversations.Get(id)
	e.recordsMu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	out := make([]ReadableMessage, 0, len(rec.Messages))
	for _, m := range rec.Messages {
		rm := ReadableMessage{Message: m}
		rm.Err = e.d.Cipher.Open(ctx, id, m.Content, &rm.Body)
		out = append(out, rm)
	}
	return out, nil
}

// UpdateSettings overlays changes on the local settings and queues them.
func (e *Engine) UpdateSettings(ctx context.Context, changes domain.Settings) (domain.Settings, error) {
	e.recordsMu.Lock()
	local, err := e.d.Settings.Load()
	var merged domain.Settings
	if err == nil {
		merged = e.d.Resolver.MergeSettings(local, changes)
		err = e.d.Settings.Save(merged)
	}
	e.recordsMu.Unlock()
	if err != nil {
		return nil, err
	}
	if _, err := e.Enqueue(ctx, domain.SyncKindSettings, changes); err != nil {
		return nil, err
	}
	return merged, nil
}

// RegisterDevice announces this installation to the sync service. Network
// failures and 5xx answers are retried with exponential backoff; other
// failures are returned at once.
func (e *Engine) RegisterDevice(ctx context.Context) error {
	info := domain.DeviceInfo{DeviceID: e.deviceID, Platform: e.cfg.Platform, Timestamp: e.now().UnixMilli()}
	attempt := 0
	op := func() error {
		attempt++
		err := e.call(ctx, "register device", func(ctx context.Context) error {
			return e.d.Transport.RegisterDevice(ctx, info)
		})
		var te *scerrors.TransportError
		if errors.As(err, &te) && te.Status >= 400 && te.Status < 500 {
			return backoff.Permanent(err)
		}
		if err != nil {
			e.log.WithError(err).WithField("attempt", attempt).Debug("device registration failed")
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	if e.cfg.RetryInterval > 0 {
		eb.InitialInterval = e.cfg.RetryInterval
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)); err != nil {
		return err
	}
	e.log.WithField("device", e.deviceID).Info("device registered")
	return nil
}
