package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
)

// Outcome is how a cycle ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeSkipped // another cycle was already running
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// Report summarises one cycle. It is also the payload of the
// sync_completed and sync_failed events.
type Report struct {
	Outcome             Outcome
	Step                string // failing step, if any
	Err                 error
	ConversationsMerged int
	MessagesFetched     int
	MessagesUnreadable  int
	ItemsPushed         int
	ConsecutiveFailures int
	StartedAt           int64
	FinishedAt          int64
}

// MessageDecrypted is the payload of a message_decrypted event.
type MessageDecrypted struct {
	ConversationID domain.ConversationID
	MessageID      domain.MessageID
	Body           domain.MessageBody
}

// MessageUnreadable is the payload of a message_unreadable event.
type MessageUnreadable struct {
	ConversationID domain.ConversationID
	MessageID      domain.MessageID
	Err            error
}

type step struct {
	name string
	run  func(context.Context, *Report) error
}

// RunCycle performs one full cycle unless another is in flight, in which
// case it returns immediately with OutcomeSkipped.
func (e *Engine) RunCycle(ctx context.Context) Report {
	if !e.syncing.CompareAndSwap(false, true) {
		e.log.Debug("sync already in progress; skipping")
		return Report{Outcome: OutcomeSkipped}
	}
	defer e.syncing.Store(false)

	rep := Report{StartedAt: e.now().UnixMilli()}
	e.setState(domain.SyncSyncing)

	steps := []step{
		{"conversations", e.syncConversations},
		{"messages", e.syncMessages},
		{"settings", e.syncSettings},
		{"queue", e.drainQueue},
	}
	for _, s := range steps {
		if err := s.run(ctx, &rep); err != nil {
			rep.Outcome = OutcomeFailed
			rep.Step = s.name
			rep.Err = fmt.Errorf("sync %s: %w", s.name, err)
			rep.FinishedAt = e.now().UnixMilli()

			e.stateMu.Lock()
			e.failures++
			rep.ConsecutiveFailures = e.failures
			e.state, e.lastOutcome = domain.SyncIdle, domain.SyncFailed
			e.stateMu.Unlock()

			e.log.WithError(err).WithFields(logrus.Fields{
				"step":     s.name,
				"failures": rep.ConsecutiveFailures,
			}).Warn("sync cycle failed")
			e.d.Bus.Emit(domain.Event{Name: domain.EventSyncFailed, Payload: rep})
			return rep
		}
	}

	rep.Outcome = OutcomeCompleted
	rep.FinishedAt = e.now().UnixMilli()
	e.stateMu.Lock()
	e.failures = 0
	e.lastSyncTime = rep.FinishedAt
	e.state, e.lastOutcome = domain.SyncIdle, domain.SyncCompleted
	e.stateMu.Unlock()

	e.log.WithFields(logrus.Fields{
		"conversations": rep.ConversationsMerged,
		"messages":      rep.MessagesFetched,
		"pushed":        rep.ItemsPushed,
	}).Info("sync cycle completed")
	e.d.Bus.Emit(domain.Event{Name: domain.EventSyncCompleted, Payload: rep})
	return rep
}

func (e *Engine) setState(s domain.SyncState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// syncConversations merges remote conversation records into local storage.
func (e *Engine) syncConversations(ctx context.Context, rep *Report) error {
	var remote []domain.ConversationRecord
	err := e.call(ctx, "fetch conversations", func(ctx context.Context) error {
		var err error
		remote, err = e.d.Transport.FetchConversations(ctx)
		return err
	})
	if err != nil {
		return err
	}

	byID := make(map[domain.ConversationID]domain.ConversationRecord, len(remote))
	for _, rec := range remote {
		if rec.ID == "" {
			e.log.Warn("remote conversation without id ignored")
			continue
		}
		byID[rec.ID] = rec
	}
	if len(byID) == 0 {
		return nil
	}

	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	local, err := e.d.Conversations.All()
	if err != nil {
		return err
	}
	merged := e.d.Resolver.MergeConversations(local, byID)
	for id := range byID {
		if err := e.d.Conversations.Put(merged[id]); err != nil {
			return err
		}
		rep.ConversationsMerged++
	}
	return nil
}

// syncMessages pulls messages newer than each conversation's cursor.
func (e *Engine) syncMessages(ctx context.Context, rep *Report) error {
	e.recordsMu.Lock()
	local, err := e.d.Conversations.All()
	e.recordsMu.Unlock()
	if err != nil {
		return err
	}

	ids := make([]domain.ConversationID, 0, len(local))
	for id := range local {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		var fetched []domain.Message
		err := e.call(ctx, "fetch messages", func(ctx context.Context) error {
			var err error
			fetched, err = e.d.Transport.FetchMessages(ctx, id, local[id].LastSync)
			return err
		})
		if err != nil {
			return fmt.Errorf("conversation %s: %w", id, err)
		}
		if len(fetched) == 0 {
			continue
		}
		rep.MessagesFetched += len(fetched)

		var cursor int64
		for i := range fetched {
			if fetched[i].ConversationID == "" {
				fetched[i].ConversationID = id
			}
			if fetched[i].CreatedAt > cursor {
				cursor = fetched[i].CreatedAt
			}
			key := string(id) + "/" + string(fetched[i].ID)
			if e.announced.Contains(key) {
				continue
			}
			if e.announce(ctx, id, fetched[i]) {
				e.announced.Add(key, struct{}{})
			} else {
				rep.MessagesUnreadable++
			}
		}

		if err := e.mergeMessages(id, fetched, cursor); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) mergeMessages(id domain.ConversationID, fetched []domain.Message, cursor int64) error {
	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	rec, ok, err := e.d.Conversations.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		rec = domain.ConversationRecord{ID: id}
	}
	rec.Messages = e.d.Resolver.MergeMessages(rec.Messages, fetched)
	if cursor > rec.LastSync {
		rec.LastSync = cursor
	}
	return e.d.Conversations.Put(rec)
}

// announce decrypts m for subscribers. An unreadable message is reported
// and stored like any other; it never stops the cycle.
func (e *Engine) announce(ctx context.Context, id domain.ConversationID, m domain.Message) bool {
	var body domain.MessageBody
	if err := e.d.Cipher.Open(ctx, id, m.Content, &body); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"conversation": id,
			"message":      m.ID,
		}).Debug("message unreadable")
		e.d.Bus.Emit(domain.Event{
			Name:    domain.EventMessageUnreadable,
			Payload: MessageUnreadable{ConversationID: id, MessageID: m.ID, Err: err},
		})
		return false
	}
	e.d.Bus.Emit(domain.Event{
		Name:    domain.EventMessageDecrypted,
		Payload: MessageDecrypted{ConversationID: id, MessageID: m.ID, Body: body},
	})
	return true
}

// syncSettings overlays remote settings on local ones.
func (e *Engine) syncSettings(ctx context.Context, _ *Report) error {
	var remote domain.Settings
	err := e.call(ctx, "fetch settings", func(ctx context.Context) error {
		var err error
		remote, err = e.d.Transport.FetchSettings(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		return nil
	}

	e.recordsMu.Lock()
	defer e.recordsMu.Unlock()
	local, err := e.d.Settings.Load()
	if err != nil {
		return err
	}
	return e.d.Settings.Save(e.d.Resolver.MergeSettings(local, remote))
}
