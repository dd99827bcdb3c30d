// Package app assembles the client: session, gateway, entity cache, state
// containers, membership workflow and the live channel, and owns their
// startup and teardown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"loopline/internal/config"
	"loopline/internal/entitycache"
	"loopline/internal/featureflags"
	"loopline/internal/gateway"
	"loopline/internal/live"
	"loopline/internal/media"
	"loopline/internal/membership"
	"loopline/internal/models"
	"loopline/internal/observability"
	"loopline/internal/session"
	"loopline/internal/store"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Options customize New.
type Options struct {
	// Store replaces the session store chosen by SESSION_STORE.
	Store session.Store
	// Confirmer answers destructive membership prompts. Without one every
	// group deletion is cancelled.
	Confirmer  membership.Confirmer
	HTTPClient *http.Client
	// OnEvent is called for every live event once its container applied it.
	OnEvent func(live.Event)
}

// Runtime is one signed-in (or signed-out) client.
type Runtime struct {
	Config *config.Config

	Session       *session.Session
	Gateway       *gateway.Gateway
	Cache         *entitycache.Cache
	Auth          *store.AuthStore
	Feed          *store.FeedStore
	Profile       *store.ProfileStore
	Groups        *store.GroupStore
	Notifications *store.NotificationStore
	Comments      *store.CommentStore
	Search        *store.SearchStore
	Moderation    *store.ModerationStore
	Membership    *membership.Workflow
	Live          *live.Channel
	Media         *media.Preparer
	Flags         *featureflags.Manager

	store   session.Store
	redis   *redis.Client
	watcher *session.Watcher
	log     *observability.ChannelLogger
}

// New wires a runtime from cfg. Nothing touches the network until Init.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	rt := &Runtime{
		Config: cfg,
		Cache:  entitycache.New(),
		Media:  media.NewPreparer(),
		Flags:  featureflags.NewManager(cfg.FeatureFlags),
		log:    observability.NewChannelLogger("runtime"),
	}

	st, err := rt.sessionStore(opts.Store)
	if err != nil {
		return nil, err
	}
	rt.store = st
	rt.Session = session.New(st)

	var gwOpts []gateway.Option
	if opts.HTTPClient != nil {
		gwOpts = append(gwOpts, gateway.WithHTTPClient(opts.HTTPClient))
	}
	gwOpts = append(gwOpts,
		gateway.WithTimeout(cfg.RequestTimeout()),
		gateway.WithUnauthorizedHandler(func(ctx context.Context) { rt.Auth.ForceLogout(ctx) }),
	)
	gw, err := gateway.New(cfg.APIBaseURL, rt.Session, gwOpts...)
	if err != nil {
		rt.closeRedis()
		return nil, err
	}
	rt.Gateway = gw

	rt.Auth = store.NewAuthStore(gw, rt.Session)
	rt.Feed = store.NewFeedStore(gw, rt.Cache)
	rt.Profile = store.NewProfileStore(gw, rt.Cache)
	rt.Groups = store.NewGroupStore(gw, rt.Cache)
	rt.Notifications = store.NewNotificationStore(gw, cfg.NotificationsPageSize)
	rt.Comments = store.NewCommentStore(gw, rt.Cache)
	rt.Search = store.NewSearchStore(gw)
	rt.Moderation = store.NewModerationStore(gw)

	confirm := opts.Confirmer
	if confirm == nil {
		confirm = membership.ConfirmFunc(func(context.Context, models.Group) (bool, error) { return false, nil })
	}
	rt.Membership = membership.New(gw, rt.Groups, rt.Session, confirm)
	rt.Live = live.New(cfg.ActivityURL, rt.Session, &Router{
		Feed:          rt.Feed,
		Notifications: rt.Notifications,
		Observe:       opts.OnEvent,
		Flags:         rt.Flags,
		UserID:        rt.Session.UserID,
	})

	rt.Session.OnLogout(rt.purge)
	return rt, nil
}

func (rt *Runtime) sessionStore(override session.Store) (session.Store, error) {
	if override != nil {
		return override, nil
	}
	switch rt.Config.SessionStore {
	case config.SessionStoreRedis:
		client, err := session.NewRedisClient(rt.Config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("session redis: %w", err)
		}
		rt.redis = client
		return session.NewRedisStore(client, rt.Config.SessionKey), nil
	case config.SessionStoreFile:
		return session.NewFileStore(rt.Config.SessionFile, rt.Config.SessionKey)
	default:
		return session.NewMemoryStore(), nil
	}
}

// purge runs on every logout. No data of the previous user survives it.
func (rt *Runtime) purge(ctx context.Context, reason string) {
	if err := rt.Live.Disconnect(); err != nil {
		rt.log.LogError(ctx, err, "disconnect on logout")
	}
	rt.Cache.Reset()
	rt.Feed.Reset()
	rt.Profile.Reset()
	rt.Groups.Reset()
	rt.Notifications.Reset()
	rt.Comments.Reset()
	rt.Search.Reset()
	rt.Moderation.Reset()
	rt.Membership.Reset()
	rt.log.LogLifecycle(ctx, "purged", map[string]interface{}{"reason": reason})
}

// Init restores a persisted session, watches the credential file and opens
// the live channel. It reports whether a session was restored.
func (rt *Runtime) Init(ctx context.Context) (bool, error) {
	if fs, ok := rt.store.(*session.FileStore); ok && rt.watcher == nil {
		w, err := fs.Watch(func() {
			rt.Session.Clear(context.Background(), session.ReasonCredentialRemoved)
		})
		if err != nil {
			rt.log.LogError(ctx, err, "watch session file")
		} else {
			rt.watcher = w
		}
	}

	ok, err := rt.Auth.Rehydrate(ctx)
	if err != nil || !ok {
		return false, err
	}
	rt.connectLive(ctx)
	return true, nil
}

// Login signs in and opens the live channel.
func (rt *Runtime) Login(ctx context.Context, creds models.Credentials) error {
	if err := rt.Auth.Login(ctx, creds); err != nil {
		return err
	}
	rt.connectLive(ctx)
	return nil
}

// UseToken adopts an existing token, as the test harness hands out.
func (rt *Runtime) UseToken(ctx context.Context, token string) error {
	if err := rt.Auth.UseToken(ctx, token); err != nil {
		return err
	}
	rt.connectLive(ctx)
	return nil
}

// Logout signs out. The logout hook purges all state.
func (rt *Runtime) Logout(ctx context.Context) error {
	return rt.Auth.Logout(ctx)
}

// Guard checks the persisted credential before a navigation.
func (rt *Runtime) Guard(ctx context.Context) error {
	return rt.Session.EnsureSession(ctx)
}

func (rt *Runtime) connectLive(ctx context.Context) {
	if err := rt.Live.Connect(ctx); err != nil {
		rt.log.LogError(ctx, err, "connect live channel")
	}
}

// Refresh reloads the feed and notifications concurrently.
func (rt *Runtime) Refresh(ctx context.Context) error {
	if !rt.Session.Authenticated() {
		return models.ErrNoCredential
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Feed.Load(ctx) })
	g.Go(func() error { return rt.Notifications.Load(ctx, 1) })
	g.Go(func() error { return rt.Notifications.LoadUnreadCount(ctx) })
	return g.Wait()
}

// Close releases the watcher, the live channel and any Redis connection.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.watcher != nil {
		errs = append(errs, rt.watcher.Close())
		rt.watcher = nil
	}
	errs = append(errs, rt.Live.Disconnect())
	errs = append(errs, rt.closeRedis())
	return errors.Join(errs...)
}

func (rt *Runtime) closeRedis() error {
	if rt.redis == nil {
		return nil
	}
	err := rt.redis.Close()
	rt.redis = nil
	return err
}
