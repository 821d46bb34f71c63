package conflict

import (
	"bytes"
	"cmp"
	"encoding/json"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/logging"
)

// Resolver is stateless apart from its logger. Inputs are never mutated.
type Resolver struct {
	log *logrus.Entry
}

// New returns a Resolver. A nil logger discards output.
func New(log *logrus.Entry) *Resolver {
	return &Resolver{log: logging.OrDiscard(log, "conflict")}
}

// MergeConversations returns every conversation known to either side.
// For an id present on both sides the remote record wins only when its
// lastModified is strictly greater; ties keep the local record.
func (r *Resolver) MergeConversations(
	local, remote map[domain.ConversationID]domain.ConversationRecord,
) map[domain.ConversationID]domain.ConversationRecord {
	out := make(map[domain.ConversationID]domain.ConversationRecord, len(local)+len(remote))
	for id, rec := range local {
		out[id] = rec.Clone()
	}
	for id, rem := range remote {
		if rem.ID == "" {
			rem.ID = id
		}
		loc, ok := out[id]
		if !ok {
			out[id] = rem.Clone()
			continue
		}
		if rem.LastModified > loc.LastModified {
			out[id] = overlay(loc, rem)
		}
	}
	return out
}

// overlay lays every field present on remote over local.
func overlay(local, remote domain.ConversationRecord) domain.ConversationRecord {
	out := local
	out.LastModified = remote.LastModified
	if remote.Messages != nil {
		out.Messages = append([]domain.Message(nil), remote.Messages...)
	}
	if remote.LastSync != 0 {
		out.LastSync = remote.LastSync
	}
	if len(remote.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage, len(remote.Extra))
		} else {
			out.Extra = maps.Clone(out.Extra)
		}
		maps.Copy(out.Extra, remote.Extra)
	}
	return out
}

// MergeMessages unions the two lists by id and sorts the result by creation
// time. Local copies win on duplicate ids; a duplicate whose content differs
// is logged as ambiguous. Messages with equal timestamps keep input order,
// local before remote.
func (r *Resolver) MergeMessages(local, remote []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(local)+len(remote))
	seen := make(map[domain.MessageID]domain.Message, len(local)+len(remote))
	add := func(m domain.Message, source string) {
		if prev, dup := seen[m.ID]; dup {
			if !sameMessage(prev, m) {
				r.log.WithError(scerrors.ErrMergeConflictAmbiguous).WithFields(logrus.Fields{
					"message": m.ID,
					"source":  source,
				}).Warn("divergent copies of message; keeping the first")
			}
			return
		}
		seen[m.ID] = m
		out = append(out, m)
	}
	for _, m := range local {
		add(m, "local")
	}
	for _, m := range remote {
		add(m, "remote")
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int { return cmp.Compare(a.CreatedAt, b.CreatedAt) })
	return out
}

func sameMessage(a, b domain.Message) bool {
	return a.ConversationID == b.ConversationID &&
		a.Sender == b.Sender &&
		a.CreatedAt == b.CreatedAt &&
		a.Content.ConversationID == b.Content.ConversationID &&
		a.Content.KeyVersion == b.Content.KeyVersion &&
		a.Content.Algorithm == b.Content.Algorithm &&
		a.Content.CreatedAt == b.Content.CreatedAt &&
		bytes.Equal(a.Content.Nonce, b.Content.Nonce) &&
		bytes.Equal(a.Content.Ciphertext, b.Content.Ciphertext)
}

// MergeSettings overlays remote keys on local ones.
func (r *Resolver) MergeSettings(local, remote domain.Settings) domain.Settings {
	out := make(domain.Settings, len(local)+len(remote))
	maps.Copy(out, local)
	maps.Copy(out, remote)
	return out
}

var _ domain.ConflictResolver = (*Resolver)(nil)
