package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/events"
	"securechat/internal/services/cipher"
	"securechat/internal/services/conflict"
	"securechat/internal/services/keys"
	"securechat/internal/services/syncer"
	"securechat/internal/store"
)

type fakeTransport struct {
	mu sync.Mutex

	convs    []domain.ConversationRecord
	convErr  error
	msgs     map[domain.ConversationID][]domain.Message
	since    map[domain.ConversationID]int64
	settings domain.Settings

	settingsCalls int
	blockSettings bool

	pushed   []domain.SyncQueueItem
	failPush map[string]error

	entered chan struct{}
	release chan struct{}

	devices     []domain.DeviceInfo
	registerErr []error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgs:     make(map[domain.ConversationID][]domain.Message),
		since:    make(map[domain.ConversationID]int64),
		failPush: make(map[string]error),
	}
}

func (f *fakeTransport) FetchConversations(ctx context.Context) ([]domain.ConversationRecord, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs, f.convErr
}

func (f *fakeTransport) FetchMessages(ctx context.Context, id domain.ConversationID, since int64) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since[id] = since
	var out []domain.Message
	for _, m := range f.msgs[id] {
		if m.CreatedAt > since {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTransport) FetchSettings(ctx context.Context) (domain.Settings, error) {
	f.mu.Lock()
	f.settingsCalls++
	block := f.blockSettings
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.settings, nil
}

func (f *fakeTransport) Push(ctx context.Context, item domain.SyncQueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failPush[item.ID]; err != nil {
		return scerrors.NewTransportError("push", 503, err)
	}
	f.pushed = append(f.pushed, item)
	return nil
}

func (f *fakeTransport) RegisterDevice(ctx context.Context, info domain.DeviceInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append(f.devices, info)
	if len(f.registerErr) > 0 {
		err := f.registerErr[0]
		f.registerErr = f.registerErr[1:]
		return err
	}
	return nil
}

type harness struct {
	kv     *store.MemoryKV
	keys   *keys.Manager
	cipher *cipher.Cipher
	bus    *events.Bus
	convs  *store.ConversationStore
	engine *syncer.Engine
}

func newHarness(t *testing.T, ft *fakeTransport, cfg syncer.Config) *harness {
	t.Helper()
	kv := store.NewMemoryKV()
	km := keys.New(store.NewKeyStore(kv), keys.Options{})
	_, _, err := km.EnsureIdentity(context.Background())
	require.NoError(t, err)
	c, err := cipher.New(km, cipher.Options{})
	require.NoError(t, err)
	h := &harness{kv: kv, keys: km, cipher: c, bus: events.NewBus(nil), convs: store.NewConversationStore(kv)}
	h.engine = h.build(t, ft, cfg)
	return h
}

func (h *harness) build(t *testing.T, ft *fakeTransport, cfg syncer.Config) *syncer.Engine {
	t.Helper()
	e, err := syncer.New(syncer.Deps{
		Transport:     ft,
		Cipher:        h.cipher,
		Resolver:      conflict.New(nil),
		Conversations: h.convs,
		Settings:      store.NewSettingsStore(h.kv),
		Queue:         store.NewQueueStore(h.kv),
		Devices:       store.NewDeviceStore(h.kv),
		Bus:           h.bus,
	}, cfg)
	require.NoError(t, err)
	return e
}

func drain(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func names(evs []domain.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Name)
	}
	return out
}

func TestRunCycle_MergesRemoteState(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})
	sub, cancel := h.bus.Subscribe(16)
	defer cancel()

	env, err := h.cipher.Seal(ctx, "A", domain.MessageBody{Text: "hi", Sender: "bob"})
	require.NoError(t, err)
	ft.convs = []domain.ConversationRecord{{ID: "A", LastModified: 20}}
	ft.msgs["A"] = []domain.Message{
		{ID: "m2", Content: env, CreatedAt: 200},
		{ID: "m1", Content: domain.Envelope{ConversationID: "A", Algorithm: "junk"}, CreatedAt: 100},
	}
	ft.settings = domain.Settings{"theme": json.RawMessage(`"dark"`)}

	rep := h.engine.RunCycle(ctx)
	require.NoError(t, rep.Err)
	assert.Equal(t, syncer.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, 1, rep.ConversationsMerged)
	assert.Equal(t, 2, rep.MessagesFetched)
	assert.Equal(t, 1, rep.MessagesUnreadable)

	rec, ok, err := h.convs.Get("A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, domain.MessageID("m1"), rec.Messages[0].ID, "sorted by creation time")
	assert.EqualValues(t, 200, rec.LastSync)

	settings, err := store.NewSettingsStore(h.kv).Load()
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(settings["theme"]))

	got := names(drain(sub))
	assert.Contains(t, got, domain.EventMessageDecrypted)
	assert.Contains(t, got, domain.EventMessageUnreadable)
	assert.Equal(t, domain.EventSyncCompleted, got[len(got)-1])

	st := h.engine.Status()
	assert.Equal(t, domain.SyncIdle, st.State)
	assert.Equal(t, domain.SyncCompleted, st.LastOutcome)
	assert.NotZero(t, st.LastSyncTime)

	// The cursor advances: the next cycle asks only for newer messages.
	h.engine.RunCycle(ctx)
	assert.EqualValues(t, 200, ft.since["A"])
}

func TestDrainQueue_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})

	var items []domain.SyncQueueItem
	for i := 0; i < 5; i++ {
		it, err := h.engine.Enqueue(ctx, domain.SyncKindSettings, map[string]int{"n": i})
		require.NoError(t, err)
		items = append(items, it)
	}
	ft.failPush[items[2].ID] = errors.New("unavailable")

	rep := h.engine.RunCycle(ctx)
	assert.Equal(t, syncer.OutcomeFailed, rep.Outcome)
	assert.Equal(t, "queue", rep.Step)
	assert.ErrorIs(t, rep.Err, scerrors.ErrTransport)
	assert.Equal(t, 2, rep.ItemsPushed)

	pending := h.engine.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, items[2].ID, pending[0].ID, "failed item stays at the head")

	// The persisted queue matches: a restarted engine sees the same head.
	restarted := h.build(t, ft, syncer.Config{})
	assert.Equal(t, items[2].ID, restarted.Pending()[0].ID)

	delete(ft.failPush, items[2].ID)
	rep = h.engine.RunCycle(ctx)
	require.NoError(t, rep.Err)
	assert.Empty(t, h.engine.Pending())

	var order []string
	for _, p := range ft.pushed {
		order = append(order, p.ID)
	}
	want := []string{items[0].ID, items[1].ID, items[2].ID, items[3].ID, items[4].ID}
	assert.Equal(t, want, order)
}

func TestDrainQueue_DropsUnknownKinds(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})

	require.NoError(t, store.NewQueueStore(h.kv).Save([]domain.SyncQueueItem{
		{ID: "odd", Kind: "telemetry", Payload: json.RawMessage(`{}`)},
		{ID: "ok", Kind: domain.SyncKindSettings, Payload: json.RawMessage(`{}`)},
	}))
	e := h.build(t, ft, syncer.Config{})

	rep := e.RunCycle(ctx)
	require.NoError(t, rep.Err)
	require.Len(t, ft.pushed, 1)
	assert.Equal(t, "ok", ft.pushed[0].ID)
	assert.Empty(t, e.Pending())
}

func TestRunCycle_SkipsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	ft.entered = make(chan struct{})
	ft.release = make(chan struct{})
	h := newHarness(t, ft, syncer.Config{})

	done := make(chan syncer.Report)
	go func() { done <- h.engine.RunCycle(ctx) }()
	<-ft.entered

	assert.Equal(t, domain.SyncSyncing, h.engine.Status().State)
	assert.Equal(t, syncer.OutcomeSkipped, h.engine.RunCycle(ctx).Outcome)

	ft.entered = nil
	close(ft.release)
	first := <-done
	assert.Equal(t, syncer.OutcomeCompleted, first.Outcome)
}

func TestRunCycle_StepFailureEndsCycle(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	ft.convErr = errors.New("boom")
	h := newHarness(t, ft, syncer.Config{})
	sub, cancel := h.bus.Subscribe(8, domain.EventSyncFailed)
	defer cancel()

	rep := h.engine.RunCycle(ctx)
	assert.Equal(t, syncer.OutcomeFailed, rep.Outcome)
	assert.Equal(t, "conversations", rep.Step)
	assert.Equal(t, 0, ft.settingsCalls, "later steps do not run")

	rep = h.engine.RunCycle(ctx)
	assert.Equal(t, 2, rep.ConsecutiveFailures)
	assert.Equal(t, 2, h.engine.Status().ConsecutiveFailures)
	assert.Len(t, drain(sub), 2)

	ft.convErr = nil
	require.NoError(t, h.engine.RunCycle(ctx).Err)
	assert.Equal(t, 0, h.engine.Status().ConsecutiveFailures)
}

func TestRunCycle_RequestTimeout(t *testing.T) {
	ft := newFakeTransport()
	ft.blockSettings = true
	h := newHarness(t, ft, syncer.Config{RequestTimeout: 20 * time.Millisecond})

	rep := h.engine.RunCycle(context.Background())
	assert.Equal(t, syncer.OutcomeFailed, rep.Outcome)
	assert.Equal(t, "settings", rep.Step)
	assert.ErrorIs(t, rep.Err, scerrors.ErrTransport)
	assert.ErrorIs(t, rep.Err, context.DeadlineExceeded)
}

func TestSendMessage_StoresAndQueues(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})

	msg, err := h.engine.SendMessage(ctx, "chat", "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationID("chat"), msg.ConversationID)

	read, err := h.engine.ReadConversation(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, read, 1)
	require.NoError(t, read[0].Err)
	assert.Equal(t, "hello", read[0].Body.Text)

	pending := h.engine.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, domain.SyncKindConversation, pending[0].Kind)
	assert.Equal(t, domain.SyncKindMessage, pending[1].Kind)
	assert.Equal(t, h.engine.DeviceID(), pending[1].DeviceID)

	require.NoError(t, h.engine.RunCycle(ctx).Err)
	require.Len(t, ft.pushed, 2)
	var pushed domain.Message
	require.NoError(t, json.Unmarshal(ft.pushed[1].Payload, &pushed))
	assert.Equal(t, msg.ID, pushed.ID)
	assert.NotContains(t, string(ft.pushed[1].Payload), "hello")
}

func TestSealAttachment_RecordsConversationFirst(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})

	_, ok, err := h.engine.Conversation("files")
	require.NoError(t, err)
	require.False(t, ok)

	sealed, err := h.engine.SealAttachment(ctx, "files", domain.Attachment{Name: "a.txt", Data: []byte("body")})
	require.NoError(t, err)

	_, ok, err = h.engine.Conversation("files")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = h.keys.LookupSessionKey("files")
	require.NoError(t, err)
	assert.True(t, ok)
	pending := h.engine.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.SyncKindConversation, pending[0].Kind)

	got, err := h.cipher.OpenBinary(ctx, "files", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got.Data)
}

func TestReadConversation_UnreadableDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})

	_, err := h.engine.SendMessage(ctx, "chat", "alice", "one")
	require.NoError(t, err)
	rec, _, err := h.convs.Get("chat")
	require.NoError(t, err)
	broken := rec.Messages[0]
	broken.ID = "broken"
	broken.Content.Ciphertext = append([]byte(nil), broken.Content.Ciphertext...)
	broken.Content.Ciphertext[0] ^= 0xff
	rec.Messages = append([]domain.Message{broken}, rec.Messages...)
	require.NoError(t, h.convs.Put(rec))

	read, err := h.engine.ReadConversation(ctx, "chat")
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.ErrorIs(t, read[0].Err, scerrors.ErrDecryption)
	require.NoError(t, read[1].Err)
	assert.Equal(t, "one", read[1].Body.Text)
}

func TestDeviceID_StableAcrossRestarts(t *testing.T) {
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{Platform: "linux"})
	id := h.engine.DeviceID()
	assert.Regexp(t, `^linux-[0-9a-f-]{36}$`, string(id))
	assert.Equal(t, id, h.build(t, ft, syncer.Config{Platform: "linux"}).DeviceID())

	require.NoError(t, h.engine.RegisterDevice(context.Background()))
	require.Len(t, ft.devices, 1)
	assert.Equal(t, id, ft.devices[0].DeviceID)
}

func TestStart_NetworkRestoredTriggersCycle(t *testing.T) {
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{Interval: time.Hour})
	sub, cancel := h.bus.Subscribe(8, domain.EventSyncCompleted)
	defer cancel()

	h.engine.Start(context.Background())
	defer h.engine.Stop()

	h.engine.SetEnabled(false)
	h.engine.NotifyNetworkRestored()
	assert.Never(t, func() bool { return len(sub) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	h.engine.SetEnabled(true)
	h.engine.NotifyNetworkRestored()
	select {
	case <-sub:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle after network restored")
	}
}

func TestRegisterDevice_RetriesTransientFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.registerErr = []error{
		scerrors.NewTransportError("register", 503, errors.New("busy")),
		errors.New("connection reset"),
	}
	h := newHarness(t, ft, syncer.Config{RetryInterval: time.Millisecond})

	require.NoError(t, h.engine.RegisterDevice(context.Background()))
	assert.Len(t, ft.devices, 3)
}

func TestRegisterDevice_ClientErrorIsFinal(t *testing.T) {
	ft := newFakeTransport()
	ft.registerErr = []error{scerrors.NewTransportError("register", 401, errors.New("unauthorized"))}
	h := newHarness(t, ft, syncer.Config{RetryInterval: time.Millisecond})

	err := h.engine.RegisterDevice(context.Background())
	var te *scerrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 401, te.Status)
	assert.Len(t, ft.devices, 1)
}

func TestRunCycle_AnnouncesEachMessageOnce(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTransport()
	h := newHarness(t, ft, syncer.Config{})
	sub, cancel := h.bus.Subscribe(16, domain.EventMessageDecrypted)
	defer cancel()

	env, err := h.cipher.Seal(ctx, "A", domain.MessageBody{Text: "once"})
	require.NoError(t, err)
	ft.convs = []domain.ConversationRecord{{ID: "A", LastModified: 1}}
	ft.msgs["A"] = []domain.Message{{ID: "m1", Content: env, CreatedAt: 10}}
	require.NoError(t, h.engine.RunCycle(ctx).Err)

	// Rewind the cursor as a server with inclusive "since" semantics would.
	rec, _, err := h.convs.Get("A")
	require.NoError(t, err)
	rec.LastSync = 0
	require.NoError(t, h.convs.Put(rec))
	require.NoError(t, h.engine.RunCycle(ctx).Err)

	assert.Len(t, drain(sub), 1)
	rec, _, err = h.convs.Get("A")
	require.NoError(t, err)
	assert.Len(t, rec.Messages, 1)
}
