// Package app is the composition root: it loads configuration, opens
// the local cache, builds the gateway, auth provider, identity manager,
// sync engine, and shortcut dispatcher, and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tasksmint/tasksmint/internal/auth"
	"github.com/tasksmint/tasksmint/internal/cache"
	"github.com/tasksmint/tasksmint/internal/identity"
	"github.com/tasksmint/tasksmint/internal/keys"
	"github.com/tasksmint/tasksmint/internal/model"
	"github.com/tasksmint/tasksmint/internal/remote"
	"github.com/tasksmint/tasksmint/internal/shortcut"
	syncengine "github.com/tasksmint/tasksmint/internal/sync"
)

// Hooks let the presentation layer observe the core without the core
// knowing anything about rendering.
type Hooks struct {
	// OnStateChange fires after any engine state change worth redrawing for.
	OnStateChange func()

	// OnError receives surfaced, user-visible errors (rolled-back
	// writes, reownership failures). A toast is a fine destination.
	OnError func(error)
}

// App wires the core together and owns its lifecycle.
type App struct {
	Config     *model.AppConfig
	Store      *cache.SQLiteStore
	Gateway    *remote.HTTPGateway
	Provider   *auth.HTTPProvider
	Identity   *identity.Manager
	Engine     *syncengine.Engine
	Dispatcher *shortcut.Dispatcher
	KeyMap     *keys.KeyMap

	log *logrus.Logger
}

// New builds the application from the config file at cfgPath. hooks
// fields may be nil.
func New(cfgPath string, hooks Hooks) (*App, error) {
	if hooks.OnStateChange == nil {
		hooks.OnStateChange = func() {}
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if hooks.OnError == nil {
		hooks.OnError = func(err error) {
			log.WithError(err).Error("surfaced error")
		}
	}

	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", cfg.DataDir, err)
	}

	store, err := cache.NewSQLiteStore(filepath.Join(cfg.DataDir, "cache.db"), log)
	if err != nil {
		return nil, err
	}

	// The gateway asks the identity manager for the session token per
	// request; the manager is created just after, so go through a
	// late-bound reference.
	var mgr *identity.Manager
	gateway := remote.NewHTTPGateway(
		cfg.Remote.BaseURL,
		func() string {
			if mgr == nil {
				return ""
			}
			return mgr.Token()
		},
		time.Duration(cfg.Remote.FeedPollIntervalSec)*time.Second,
		log,
	)

	provider := auth.NewHTTPProvider(cfg.Remote.AuthURL, log)

	engine := syncengine.NewEngine(store, gateway, log, hooks.OnStateChange, hooks.OnError)

	mgr = identity.NewManager(store, gateway, provider, log,
		func(id model.Identity) {
			// Every identity transition restarts the engine session.
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			engine.Initialize(ctx, id)
		},
		hooks.OnError,
	)

	a := &App{
		Config:     cfg,
		Store:      store,
		Gateway:    gateway,
		Provider:   provider,
		Identity:   mgr,
		Engine:     engine,
		Dispatcher: shortcut.New(),
		KeyMap:     keys.DefaultKeyMap(),
		log:        log,
	}
	a.registerShortcuts()
	return a, nil
}

// Start resolves the acting identity and brings the engine to Ready.
func (a *App) Start(ctx context.Context) error {
	id, err := a.Identity.EnsureIdentity(ctx)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}
	a.Engine.Initialize(ctx, id)
	return nil
}

// Close tears everything down in dependency order.
func (a *App) Close() error {
	a.Engine.Close()
	a.Identity.Close()
	a.Provider.Close()
	return a.Store.Close()
}

// registerShortcuts wires the default keymap to engine operations.
// Edit-surface actions (submit/cancel) are left for the presentation
// layer to register against its own state.
func (a *App) registerShortcuts() {
	km := a.KeyMap

	a.Dispatcher.Register(km.NewBoard.ID, km.NewBoard.Binding, func(shortcut.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Engine.CreateBoard(ctx, "Untitled board", "", "mint")
	})

	a.Dispatcher.Register(km.Refresh.ID, km.Refresh.Binding, func(shortcut.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		a.Engine.Refresh(ctx)
	})
}
