package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrijs2005/lockbox/internal/client/api"
	"github.com/dmitrijs2005/lockbox/internal/client/auth"
	"github.com/dmitrijs2005/lockbox/internal/client/config"
	"github.com/dmitrijs2005/lockbox/internal/client/keyconnector"
	"github.com/dmitrijs2005/lockbox/internal/client/messaging"
	"github.com/dmitrijs2005/lockbox/internal/client/migration"
	"github.com/dmitrijs2005/lockbox/internal/client/state"
	"github.com/dmitrijs2005/lockbox/internal/client/storage"
	clientsync "github.com/dmitrijs2005/lockbox/internal/client/sync"
	"github.com/dmitrijs2005/lockbox/internal/client/vaulttimeout"
	"github.com/dmitrijs2005/lockbox/internal/logging"
)

type App struct {
	config  *config.Config
	db      *sql.DB
	store   *state.Store
	bus     *messaging.Bus
	api     api.Client
	auth    *auth.Service
	sync    *clientsync.Service
	timeout *vaulttimeout.Service
	log     logging.Logger
	reader  *bufio.Reader
}

// NewApp wires storage, state, transport and the session services together.
// Pending state migrations run before anything touches the store.
func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	db, local, session, err := storage.InitDatabase(ctx, c.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	secure, err := storage.NewFileSecure(c.SecureDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init secure store: %w", err)
	}

	bus := messaging.NewBus()
	store := state.NewStore(local, session, secure, bus, log)
	store.UseDB(db)
	if err := store.Init(ctx, migration.NewMigrator(local, secure, log)); err != nil {
		db.Close()
		return nil, err
	}

	urls := store.EnvironmentURLs()
	if urls.Base == "" {
		urls = c.EnvironmentURLs()
		if err := store.SetEnvironmentURLs(ctx, urls); err != nil {
			db.Close()
			return nil, err
		}
	}

	apiClient := api.NewHTTPClient(urls)
	if userID := store.ActiveUserID(); userID != "" {
		apiClient.SetTokens(store.AccessToken(userID), store.RefreshToken(userID))
	}

	kc := keyconnector.NewService(apiClient, store, log)
	authSvc := auth.NewService(apiClient, store, kc, bus, log)
	syncSvc := clientsync.NewService(apiClient, store, kc, bus, authSvc.LogOut, log)
	timeoutSvc := vaulttimeout.NewService(store, bus, authSvc.LogOut, log)

	return &App{
		config:  c,
		db:      db,
		store:   store,
		bus:     bus,
		api:     apiClient,
		auth:    authSvc,
		sync:    syncSvc,
		timeout: timeoutSvc,
		log:     log,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background workers and blocks in the REPL until the user
// exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.db.Close()

	go a.timeout.Run(ctx)
	go a.watchSignals(ctx)
	go a.backgroundSync(ctx)

	printlnFn("Lockbox CLI (type 'help' for commands)")
	runREPL(ctx, a, a.status, bufio.NewScanner(os.Stdin))
}

func (a *App) isLoggedIn() bool {
	userID := a.store.ActiveUserID()
	return userID != "" && a.store.IsAuthenticated(userID)
}

func (a *App) status() string {
	userID := a.store.ActiveUserID()
	if userID == "" {
		return ""
	}
	account, ok := a.store.Account(userID)
	if !ok {
		return ""
	}
	s := account.Profile.Email
	if a.store.IsLocked(userID) {
		s += " locked"
	}
	return fmt.Sprintf("(%s)", s)
}

// watchSignals surfaces lifecycle events that happen off the command path,
// e.g. the timeout sweep locking the vault mid-session.
func (a *App) watchSignals(ctx context.Context) {
	ch, cancel := a.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			switch msg.Topic {
			case messaging.TopicLocked:
				printlnFn("Vault locked")
			case messaging.TopicLoggedOut:
				printlnFn("Logged out")
			case messaging.TopicConvertAccountToKeyConnector:
				printlnFn("Your organization requires key connector; run 'sync' after contacting your administrator")
			}
		}
	}
}

func (a *App) backgroundSync(ctx context.Context) {
	if a.config.SyncInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.sync.FullSync(ctx, false, false)
		}
	}
}

// touch stamps activity for the active account so the timeout sweep counts
// from the last command, not from login.
func (a *App) touch(ctx context.Context) {
	if userID := a.store.ActiveUserID(); userID != "" {
		_ = a.store.SetLastActive(ctx, userID, time.Now())
	}
}