package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
)

// Enqueue records a local change for delivery on a later cycle. The queue is
// persisted before Enqueue returns.
func (e *Engine) Enqueue(ctx context.Context, kind domain.SyncKind, payload any) (domain.SyncQueueItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.SyncQueueItem{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.SyncQueueItem{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	item := domain.SyncQueueItem{
		ID:        newItemID(),
		Kind:      kind,
		Payload:   data,
		Timestamp: e.now().UnixMilli(),
		DeviceID:  e.deviceID,
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	next := append(append([]domain.SyncQueueItem(nil), e.queue...), item)
	if err := e.d.Queue.Save(next); err != nil {
		return domain.SyncQueueItem{}, fmt.Errorf("persist sync queue: %w", err)
	}
	e.queue = next
	e.log.WithFields(logrus.Fields{"item": item.ID, "kind": kind}).Debug("change queued")
	return item, nil
}

// Pending returns a snapshot of the outbound queue, head first.
func (e *Engine) Pending() []domain.SyncQueueItem {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return append([]domain.SyncQueueItem(nil), e.queue...)
}

// drainQueue pushes queued items strictly in order, stopping at the first
// failure with that item still at the head. The queue lock is held
// throughout so concurrent enqueues land behind the drain.
func (e *Engine) drainQueue(ctx context.Context, rep *Report) error {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	for len(e.queue) > 0 {
		item := e.queue[0]
		switch item.Kind {
		case domain.SyncKindMessage, domain.SyncKindConversation, domain.SyncKindSettings:
			err := e.call(ctx, "push "+string(item.Kind), func(ctx context.Context) error {
				return e.d.Transport.Push(ctx, item)
			})
			if err != nil {
				return fmt.Errorf("item %s: %w", item.ID, err)
			}
			rep.ItemsPushed++
		default:
			e.log.WithFields(logrus.Fields{"item": item.ID, "kind": item.Kind}).Warn("unknown queue item kind dropped")
		}

		rest := e.queue[1:]
		if err := e.d.Queue.Save(rest); err != nil {
			return fmt.Errorf("persist sync queue: %w", err)
		}
		e.queue = rest
	}
	return nil
}
