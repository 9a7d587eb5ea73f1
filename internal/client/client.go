// Package client wires the configured store, live feed and profile directory into
// conversation sessions. The chat and send commands and the management server all
// go through a Client.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/ticket-chat/internal/chat"
	"github.com/chirino/ticket-chat/internal/config"
	"github.com/chirino/ticket-chat/internal/metrics"
	"github.com/chirino/ticket-chat/internal/plugin/profile/cached"
	"github.com/chirino/ticket-chat/internal/plugin/route/conversations"
	routesystem "github.com/chirino/ticket-chat/internal/plugin/route/system"
	"github.com/chirino/ticket-chat/internal/plugin/store/broadcast"
	storemetrics "github.com/chirino/ticket-chat/internal/plugin/store/metrics"
	registryfeed "github.com/chirino/ticket-chat/internal/registry/feed"
	registrymigrate "github.com/chirino/ticket-chat/internal/registry/migrate"
	registryprofile "github.com/chirino/ticket-chat/internal/registry/profile"
	registryroute "github.com/chirino/ticket-chat/internal/registry/route"
	registrystore "github.com/chirino/ticket-chat/internal/registry/store"
	"github.com/gin-gonic/gin"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/ticket-chat/internal/plugin/feed/memory"
	_ "github.com/chirino/ticket-chat/internal/plugin/feed/postgres"
	_ "github.com/chirino/ticket-chat/internal/plugin/feed/redis"
	_ "github.com/chirino/ticket-chat/internal/plugin/profile/db"
	_ "github.com/chirino/ticket-chat/internal/plugin/profile/static"
	_ "github.com/chirino/ticket-chat/internal/plugin/store/postgres"
	_ "github.com/chirino/ticket-chat/internal/plugin/store/sqlite"
)

const profileCacheEntries = 10_000

// Client holds the connected backends of one chat process.
type Client struct {
	Config    *config.Config
	Store     registrystore.MessageStore
	Feed      registryfeed.Feed
	Directory registryprofile.Directory
	Sender    *chat.StoreSender
	Router    *gin.Engine

	// ManagementAddr is set when the management listener is running.
	ManagementAddr string

	closeManagement func(context.Context) error
	closeDirectory  func()
	backend         registrystore.MessageStore

	mu      sync.Mutex
	session *chat.Session
}

// Start connects every configured backend. On error, whatever was already
// connected is closed again.
func Start(ctx context.Context, cfg *config.Config) (*Client, error) {
	log.Info("Starting ticket chat client",
		"user", cfg.UserID,
		"db", cfg.DatastoreType,
		"feed", cfg.FeedType,
		"profiles", cfg.ProfileType,
		"mode", cfg.Mode,
	)

	metricsLabels, err := metrics.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.InitMetrics(metricsLabels)

	ctx = config.WithContext(ctx, cfg)
	c := &Client{Config: cfg}
	if err := c.start(ctx); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	routesystem.MarkReady(map[string]routesystem.Check{
		"store":   c.checkStore,
		"session": c.checkSession,
	})
	return c, nil
}

var errNotLive = errors.New("live feed is not connected")

// checkStore pings the datastore when the backend supports it.
func (c *Client) checkStore(ctx context.Context) (string, error) {
	pinger, ok := c.backend.(registrystore.Pinger)
	if !ok {
		return "ok", nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return "unreachable", err
	}
	return "ok", nil
}

// checkSession reports the open conversation's feed state. Having no conversation
// open is not a failure.
func (c *Client) checkSession(context.Context) (string, error) {
	s := c.Session()
	if s == nil {
		return "idle", nil
	}
	status := s.Status()
	if status != chat.StatusLive {
		return string(status), errNotLive
	}
	return string(status), nil
}

func (c *Client) start(ctx context.Context) error {
	cfg := c.Config
	if cfg.DatastoreMigrateAtStart {
		if _, err := registrymigrate.RunAll(ctx); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	c.backend = store
	c.Store = storemetrics.Wrap(store)

	feedLoader, err := registryfeed.Select(cfg.FeedType)
	if err != nil {
		return err
	}
	if c.Feed, err = feedLoader(ctx); err != nil {
		return fmt.Errorf("failed to initialize feed: %w", err)
	}
	// Every durable insert is published so that the other participants see it live.
	c.Store = broadcast.Wrap(c.Store, c.Feed)

	profileLoader, err := registryprofile.Select(cfg.ProfileType)
	if err != nil {
		return err
	}
	directory, err := profileLoader(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize profile directory: %w", err)
	}
	c.Directory = directory
	if closer, ok := directory.(io.Closer); ok {
		c.closeDirectory = func() { _ = closer.Close() }
	}
	if cfg.ProfileCacheTTL > 0 {
		shared, err := cached.Wrap(directory, cfg.ProfileCacheTTL, profileCacheEntries)
		if err != nil {
			return err
		}
		inner := c.closeDirectory
		c.Directory = shared
		c.closeDirectory = func() {
			shared.Close()
			if inner != nil {
				inner()
			}
		}
	}

	c.Sender = chat.NewStoreSender(c.Store, cfg.SendTimeout)

	gin.SetMode(gin.ReleaseMode)
	c.Router = gin.New()
	c.Router.Use(gin.Recovery())
	if err := registryroute.Mount(c.Router); err != nil {
		return fmt.Errorf("failed to load management routes: %w", err)
	}
	conversations.MountRoutes(c.Router, c.Session)

	if cfg.ManagementListener.Port > 0 {
		addr, closeFn, err := startManagementServer(cfg.ManagementListener, c.Router)
		if err != nil {
			return fmt.Errorf("failed to start management server: %w", err)
		}
		c.ManagementAddr = addr.String()
		c.closeManagement = closeFn
	}
	return nil
}

// NewReconciler creates a reconciler for the configured user reporting to cb.
func (c *Client) NewReconciler(cb chat.Callbacks) (*chat.Reconciler, error) {
	return chat.NewReconciler(chat.ReconcilerOptions{
		UserID:        c.Config.UserID,
		Sender:        c.Sender,
		Directory:     c.Directory,
		Callbacks:     cb,
		PreviewLength: c.Config.PreviewLength,
		Placeholder:   c.Config.ProfilePlaceholder,
	})
}

// OpenConversation closes the current session, if any, and opens conversationID
// on rec.
func (c *Client) OpenConversation(ctx context.Context, rec *chat.Reconciler, conversationID string) (*chat.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	s, err := chat.OpenSession(ctx, rec, chat.SessionOptions{
		ConversationID: conversationID,
		Feed:           c.Feed,
		Backlog:        c.Store,
		BacklogLimit:   c.Config.BacklogLimit,
		MinBackoff:     c.Config.ReconnectMinBackoff,
		MaxBackoff:     c.Config.ReconnectMaxBackoff,
	})
	if err != nil {
		return nil, err
	}
	c.session = s
	log.Info("Opened conversation", "conversationId", conversationID)
	return s, nil
}

// Session returns the open session or nil.
func (c *Client) Session() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Handler exposes the management routes, whether or not a listener is running.
func (c *Client) Handler() http.Handler { return c.Router }

// Shutdown closes the session, the management listener and every backend.
func (c *Client) Shutdown(ctx context.Context) error {
	routesystem.MarkNotReady()

	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	var errs []error
	if session != nil {
		errs = append(errs, session.Close())
	}
	if c.closeManagement != nil {
		errs = append(errs, c.closeManagement(ctx))
	}
	if c.Feed != nil {
		errs = append(errs, c.Feed.Close())
	}
	if c.closeDirectory != nil {
		c.closeDirectory()
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
