package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
	scerrors "securechat/internal/errors"
	"securechat/internal/logging"
)

const (
	// DefaultInterval is the period between automatic cycles.
	DefaultInterval = 30 * time.Second
	// DefaultRequestTimeout bounds every remote call.
	DefaultRequestTimeout = 15 * time.Second

	announcedCacheSize = 4096
)

// ConversationRepo persists conversation records.
type ConversationRepo interface {
	All() (map[domain.ConversationID]domain.ConversationRecord, error)
	Get(id domain.ConversationID) (domain.ConversationRecord, bool, error)
	Put(rec domain.ConversationRecord) error
}

// SettingsRepo persists the settings document.
type SettingsRepo interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// QueueRepo persists the outbound queue.
type QueueRepo interface {
	Load() ([]domain.SyncQueueItem, error)
	Save([]domain.SyncQueueItem) error
}

// DeviceRepo persists this installation's device id.
type DeviceRepo interface {
	Load() (domain.DeviceID, bool, error)
	Save(domain.DeviceID) error
}

// Deps are the collaborators an Engine needs. Logger and Clock are optional.
type Deps struct {
	Transport     domain.Transport
	Cipher        domain.MessageCipher
	Resolver      domain.ConflictResolver
	Conversations ConversationRepo
	Settings      SettingsRepo
	Queue         QueueRepo
	Devices       DeviceRepo
	Bus           domain.EventBus
	Logger        *logrus.Entry
	Clock         func() time.Time
}

// Config tunes an Engine.
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	Platform       string
	// RetryInterval is the first backoff delay for device registration;
	// zero keeps the backoff library default.
	RetryInterval  time.Duration
}

// Engine is the sync engine.
type Engine struct {
	d        Deps
	cfg      Config
	log      *logrus.Entry
	now      func() time.Time
	deviceID domain.DeviceID

	syncing atomic.Bool
	enabled atomic.Bool

	// announced remembers recently decrypted messages so overlapping
	// fetches do not announce them twice.
	announced *lru.Cache

	stateMu      sync.Mutex
	state        domain.SyncState
	lastOutcome  domain.SyncState
	lastSyncTime int64
	failures     int

	// recordsMu serialises every read-modify-write of conversation records
	// and settings, whether from a cycle or from a local send.
	recordsMu sync.Mutex

	queueMu sync.Mutex
	queue   []domain.SyncQueueItem

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	trigger chan struct{}
}

// New builds an Engine, restoring the persisted queue and device id
// (creating the id on first run). Automatic sync starts enabled but idle
// until Start is called.
func New(d Deps, cfg Config) (*Engine, error) {
	switch {
	case d.Transport == nil, d.Cipher == nil, d.Resolver == nil:
		return nil, errors.New("syncer: transport, cipher and resolver are required")
	case d.Conversations == nil, d.Settings == nil, d.Queue == nil, d.Devices == nil:
		return nil, errors.New("syncer: repositories are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Platform == "" {
		cfg.Platform = "go"
	}
	if d.Bus == nil {
		d.Bus = nopBus{}
	}
	var err error
	e := &Engine{
		d:       d,
		cfg:     cfg,
		log:     logging.OrDiscard(d.Logger, "sync"),
		now:     d.Clock,
		state:   domain.SyncIdle,
		trigger: make(chan struct{}, 1),
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.enabled.Store(true)
	if e.announced, err = lru.New(announcedCacheSize); err != nil {
		return nil, err
	}

	queue, err := d.Queue.Load()
	if err != nil {
		return nil, fmt.Errorf("load sync queue: %w", err)
	}
	e.queue = queue

	id, ok, err := d.Devices.Load()
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}
	if !ok {
		id = domain.DeviceID(cfg.Platform + "-" + uuid.NewString())
		if err := d.Devices.Save(id); err != nil {
			return nil, fmt.Errorf("save device id: %w", err)
		}
		e.log.WithField("device", id).Info("device id created")
	}
	e.deviceID = id
	return e, nil
}

// DeviceID identifies this installation to the sync service.
func (e *Engine) DeviceID() domain.DeviceID { return e.deviceID }

// SetEnabled turns automatic (periodic and network-triggered) cycles on or
// off. Explicit RunCycle calls are unaffected.
func (e *Engine) SetEnabled(on bool) {
	e.enabled.Store(on)
	e.log.WithField("enabled", on).Info("automatic sync toggled")
}

// Status reports the engine's observable state.
func (e *Engine) Status() domain.SyncStatus {
	e.queueMu.Lock()
	qlen := len(e.queue)
	e.queueMu.Unlock()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return domain.SyncStatus{
		Enabled:             e.enabled.Load(),
		State:               e.state,
		LastOutcome:         e.lastOutcome,
		LastSyncTime:        e.lastSyncTime,
		QueueLength:         qlen,
		DeviceID:            e.deviceID,
		ConsecutiveFailures: e.failures,
	}
}

// Start launches the periodic loop. It is a no-op if already running.
// The loop stops when ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(ctx, e.done)
	e.log.WithField("interval", e.cfg.Interval).Info("sync loop started")
}

// Stop halts the periodic loop and waits for an in-flight cycle to return.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.log.Info("sync loop stopped")
}

// NotifyNetworkRestored requests an immediate cycle from the running loop.
func (e *Engine) NotifyNetworkRestored() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		if !e.enabled.Load() {
			continue
		}
		e.RunCycle(ctx)
	}
}

type nopBus struct{}

func (nopBus) Emit(domain.Event) {}

// newItemID names queue items and locally sent messages.
func newItemID() string { return uuid.NewString() }

// call runs one remote operation under the request timeout, normalising its
// error to a TransportError.
func (e *Engine) call(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()
	err := fn(cctx)
	if err != nil && !errors.Is(err, scerrors.ErrTransport) {
		err = scerrors.NewTransportError(op, 0, err)
	}
	return err
}
