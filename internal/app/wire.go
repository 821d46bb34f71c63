package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"securechat/internal/domain"
	"securechat/internal/events"
	"securechat/internal/logging"
	"securechat/internal/relay"
	ciphersvc "securechat/internal/services/cipher"
	conflictsvc "securechat/internal/services/conflict"
	keysvc "securechat/internal/services/keys"
	"securechat/internal/services/syncer"
	"securechat/internal/store"
)

// ErrPassphraseRequired is returned when no passphrase is available to open
// the sealed store.
var ErrPassphraseRequired = errors.New("passphrase required")

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config    Config
	Logger    *logrus.Logger
	KV        domain.KeyValueStore
	Keys      *keysvc.Manager
	Cipher    *ciphersvc.Cipher
	Resolver  *conflictsvc.Resolver
	Transport *relay.HTTP
	Bus       *events.Bus
	Engine    *syncer.Engine
	HTTP      *http.Client

	closer io.Closer
}

// NewWire constructs the dependency graph from cfg. Logs go to logOut
// (stderr when nil).
func NewWire(cfg Config, passphrase string, logOut io.Writer) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: logOut})
	if err != nil {
		return nil, err
	}

	// Backing store, sealed under the passphrase
	var (
		inner  domain.KeyValueStore
		closer io.Closer
	)
	switch cfg.Storage {
	case StorageMemory:
		inner = store.NewMemoryKV()
	default:
		if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
			return nil, err
		}
		db, err := store.OpenLevelDB(filepath.Join(cfg.Home, "data"))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		inner, closer = db, db
	}
	wired := false
	defer func() {
		if !wired && closer != nil {
			_ = closer.Close()
		}
	}()
	kv, err := store.OpenSealedKV(inner, passphrase, cfg.scryptParams())
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}

	// Services
	keys := keysvc.New(store.NewKeyStore(kv), keysvc.Options{
		RSABits: cfg.RSABits,
		Logger:  logging.Component(logger, "keys"),
	})
	cph, err := ciphersvc.New(keys, ciphersvc.Options{Logger: logging.Component(logger, "cipher")})
	if err != nil {
		return nil, err
	}
	resolver := conflictsvc.New(logging.Component(logger, "conflict"))
	bus := events.NewBus(logging.Component(logger, "events"))
	transport := relay.NewHTTP(cfg.ServerURL, httpClient, relay.StaticToken(cfg.Token), logging.Component(logger, "transport"))

	engine, err := syncer.New(syncer.Deps{
		Transport:     transport,
		Cipher:        cph,
		Resolver:      resolver,
		Conversations: store.NewConversationStore(kv),
		Settings:      store.NewSettingsStore(kv),
		Queue:         store.NewQueueStore(kv),
		Devices:       store.NewDeviceStore(kv),
		Bus:           bus,
		Logger:        logging.Component(logger, "sync"),
	}, syncer.Config{
		Interval:       cfg.SyncInterval.Duration,
		RequestTimeout: cfg.RequestTimeout.Duration,
		Platform:       cfg.Platform,
	})
	if err != nil {
		return nil, err
	}

	wired = true
	return &Wire{
		Config:    cfg,
		Logger:    logger,
		KV:        kv,
		Keys:      keys,
		Cipher:    cph,
		Resolver:  resolver,
		Transport: transport,
		Bus:       bus,
		Engine:    engine,
		HTTP:      httpClient,
		closer:    closer,
	}, nil
}

// Purge destroys all key material and announces it on the bus.
func (w *Wire) Purge(ctx context.Context) error {
	err := w.Keys.PurgeAllKeys(ctx)
	w.Bus.Emit(domain.Event{Name: domain.EventKeysPurged, Payload: err})
	return err
}

// Close stops the sync loop and releases the store.
func (w *Wire) Close() error {
	w.Engine.Stop()
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
