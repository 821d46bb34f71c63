package conflict_test

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/services/conflict"
)

func msg(id string, ts int64) domain.Message {
	return domain.Message{ID: domain.MessageID(id), CreatedAt: ts, Content: domain.Envelope{Ciphertext: []byte(id)}}
}

func ids(ms []domain.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, string(m.ID))
	}
	return out
}

func TestMergeConversations_LastWriterWins(t *testing.T) {
	r := conflict.New(nil)

	t.Run("remote newer", func(t *testing.T) {
		local := map[domain.ConversationID]domain.ConversationRecord{
			"A": {ID: "A", LastModified: 10, Extra: map[string]json.RawMessage{"x": json.RawMessage("1")}},
		}
		remote := map[domain.ConversationID]domain.ConversationRecord{
			"A": {ID: "A", LastModified: 20, Extra: map[string]json.RawMessage{"x": json.RawMessage("2")}},
		}
		got := r.MergeConversations(local, remote)
		assert.EqualValues(t, 20, got["A"].LastModified)
		assert.JSONEq(t, "2", string(got["A"].Extra["x"]))
		assert.JSONEq(t, "1", string(local["A"].Extra["x"]), "inputs are not mutated")
	})

	t.Run("local newer", func(t *testing.T) {
		local := map[domain.ConversationID]domain.ConversationRecord{"A": {ID: "A", LastModified: 30}}
		remote := map[domain.ConversationID]domain.ConversationRecord{"A": {ID: "A", LastModified: 20}}
		assert.EqualValues(t, 30, r.MergeConversations(local, remote)["A"].LastModified)
	})

	t.Run("tie keeps local", func(t *testing.T) {
		local := map[domain.ConversationID]domain.ConversationRecord{
			"A": {ID: "A", LastModified: 10, Extra: map[string]json.RawMessage{"title": json.RawMessage(`"mine"`)}},
		}
		remote := map[domain.ConversationID]domain.ConversationRecord{
			"A": {ID: "A", LastModified: 10, Extra: map[string]json.RawMessage{"title": json.RawMessage(`"theirs"`)}},
		}
		assert.JSONEq(t, `"mine"`, string(r.MergeConversations(local, remote)["A"].Extra["title"]))
	})

	t.Run("overlay keeps fields remote lacks", func(t *testing.T) {
		local := map[domain.ConversationID]domain.ConversationRecord{
			"A": {
				ID: "A", LastModified: 1, LastSync: 7,
				Messages: []domain.Message{msg("m1", 1)},
				Extra:    map[string]json.RawMessage{"title": json.RawMessage(`"t"`)},
			},
		}
		remote := map[domain.ConversationID]domain.ConversationRecord{
			"A": {ID: "A", LastModified: 2, Extra: map[string]json.RawMessage{"muted": json.RawMessage("true")}},
		}
		got := r.MergeConversations(local, remote)["A"]
		assert.EqualValues(t, 2, got.LastModified)
		assert.EqualValues(t, 7, got.LastSync)
		assert.Equal(t, []string{"m1"}, ids(got.Messages))
		assert.Len(t, got.Extra, 2)
	})

	t.Run("union of ids", func(t *testing.T) {
		local := map[domain.ConversationID]domain.ConversationRecord{"A": {ID: "A"}}
		remote := map[domain.ConversationID]domain.ConversationRecord{"B": {LastModified: 4}}
		got := r.MergeConversations(local, remote)
		assert.Len(t, got, 2)
		assert.Equal(t, domain.ConversationID("B"), got["B"].ID)
	})

	t.Run("empty sides", func(t *testing.T) {
		assert.Empty(t, r.MergeConversations(nil, nil))
		assert.Len(t, r.MergeConversations(nil, map[domain.ConversationID]domain.ConversationRecord{"A": {}}), 1)
	})
}

func TestMergeMessages_UnionSortedByTime(t *testing.T) {
	r := conflict.New(nil)

	got := r.MergeMessages(
		[]domain.Message{msg("1", 5)},
		[]domain.Message{msg("1", 5), msg("2", 1)},
	)
	assert.Equal(t, []string{"2", "1"}, ids(got))
}

func TestMergeMessages_EdgeCases(t *testing.T) {
	r := conflict.New(nil)

	assert.Empty(t, r.MergeMessages(nil, nil))
	assert.Equal(t, []string{"a", "b"}, ids(r.MergeMessages(nil, []domain.Message{msg("a", 1), msg("b", 2)})))
	assert.Equal(t, []string{"a", "b"}, ids(r.MergeMessages([]domain.Message{msg("a", 1), msg("b", 2)}, nil)))

	t.Run("equal timestamps are stable", func(t *testing.T) {
		got := r.MergeMessages([]domain.Message{msg("l", 3)}, []domain.Message{msg("r", 3)})
		assert.Equal(t, []string{"l", "r"}, ids(got))
	})

	t.Run("divergent duplicate keeps local", func(t *testing.T) {
		local := msg("x", 1)
		remote := msg("x", 1)
		remote.Content.Ciphertext = []byte("different")
		logger, hook := logtest.NewNullLogger()
		got := conflict.New(logrus.NewEntry(logger)).MergeMessages([]domain.Message{local}, []domain.Message{remote})
		assert.Len(t, got, 1)
		assert.Equal(t, []byte("x"), got[0].Content.Ciphertext)

		require.Len(t, hook.AllEntries(), 1)
		entry := hook.LastEntry()
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, scerrors.ErrMergeConflictAmbiguous, entry.Data[logrus.ErrorKey])
		assert.Equal(t, domain.MessageID("x"), entry.Data["message"])
	})

	t.Run("identical duplicate is silent", func(t *testing.T) {
		logger, hook := logtest.NewNullLogger()
		got := conflict.New(logrus.NewEntry(logger)).MergeMessages([]domain.Message{msg("y", 1)}, []domain.Message{msg("y", 1)})
		assert.Len(t, got, 1)
		assert.Empty(t, hook.AllEntries())
	})
}

func TestMergeSettings_RemoteOverlay(t *testing.T) {
	r := conflict.New(nil)
	local := domain.Settings{"theme": json.RawMessage(`"dark"`), "sound": json.RawMessage("true")}
	remote := domain.Settings{"theme": json.RawMessage(`"light"`)}

	got := r.MergeSettings(local, remote)
	assert.JSONEq(t, `"light"`, string(got["theme"]))
	assert.JSONEq(t, "true", string(got["sound"]))
	assert.JSONEq(t, `"dark"`, string(local["theme"]))
}
