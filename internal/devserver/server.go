// Package devserver is a development backend that speaks the Loopline REST
// and push protocol. It persists to SQLite or Postgres through GORM, issues
// JWT session tokens and fans push frames out through Redis.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"loopline/internal/config"
	"loopline/internal/featureflags"
	"loopline/internal/media"
	"loopline/internal/models"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server owns the fiber app and its dependencies.
type Server struct {
	config   *config.Config
	db       *gorm.DB
	redis    *redis.Client
	users    UserRepository
	groups   GroupRepository
	flags    *featureflags.Manager
	hub      *Hub
	notifier *Notifier
	images   *media.Preparer
	prom     *fiberprometheus.FiberPrometheus
	log      *slog.Logger

	appOnce     sync.Once
	app         *fiber.App
	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// NewServer builds a server over an open database. redisClient may be nil.
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if db == nil {
		return nil, errors.New("devserver: database is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("devserver: JWT_SECRET is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		db:          db,
		redis:       redisClient,
		users:       NewUserRepository(db),
		groups:      NewGroupRepository(db),
		flags:       featureflags.NewManager(cfg.FeatureFlags),
		hub:         NewHub(),
		images:      media.NewPreparer(media.WithMaxDimension(profilePictureSize)),
		prom:        fiberprometheus.NewWithRegistry(prometheus.NewRegistry(), "loopline-devserver", "http", "", nil),
		log:         newLogger(),
		shutdownCtx: ctx,
		shutdownFn:  cancel,
	}
	if redisClient != nil {
		s.notifier = NewNotifier(redisClient)
	}
	return s, nil
}

// App returns the configured fiber app, building it on first use.
func (s *Server) App() *fiber.App {
	s.appOnce.Do(func() {
		app := fiber.New(fiber.Config{
			AppName:               "Loopline Dev Server",
			DisableStartupMessage: true,
			BodyLimit:             16 * 1024 * 1024,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				var fe *fiber.Error
				if errors.As(err, &fe) {
					return RespondWithError(c, fe.Code, errors.New(fe.Message))
				}
				s.log.ErrorContext(c.UserContext(), "unhandled error", slog.String("error", err.Error()))
				return RespondWithError(c, fiber.StatusInternalServerError,
					models.NewTransientError(fiber.StatusInternalServerError, err))
			},
		})
		s.SetupMiddleware(app)
		s.SetupRoutes(app)
		s.app = app
	})
	return s.app
}

// SetupMiddleware installs the middleware chain.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(ContextMiddleware())
	s.prom.RegisterAt(app, "/metrics")
	app.Use(s.prom.Middleware)
	app.Use(helmet.New())
	app.Use(StructuredLogger(s.log))

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		MaxAge:       86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.HarnessEnabled
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes mounts the API under /api and the push endpoint under /ws.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health", s.Health)
	app.Get("/media/:id", s.ServeMedia)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", s.Login)
	auth.Post("/registration", s.Register)
	auth.Get("/user", s.AuthRequired(), s.CurrentUser)
	auth.Post("/logout", s.AuthRequired(), s.Logout)

	if s.config.HarnessEnabled {
		api.Post("/e2e", s.Harness)
	}

	protected := api.Group("", s.AuthRequired())

	protected.Get("/feed", s.Feed)
	protected.Get("/posts", s.ListPosts)
	protected.Post("/posts", s.CreatePost)
	protected.Get("/posts/saved", s.SavedPosts)
	protected.Get("/posts/:id", s.GetPost)
	protected.Patch("/posts/:id", s.UpdatePost)
	protected.Delete("/posts/:id", s.DeletePost)
	protected.Post("/posts/:id/save", s.ToggleSave)
	protected.Post("/content/:ct/:obj/like", s.ToggleLike)
	protected.Post("/content/:ct/:obj/report", s.Report)
	protected.Post("/polls/:poll/options/:option/vote", s.Vote)
	protected.Delete("/polls/:poll/options/:option/vote", s.RetractVote)

	protected.Get("/comments/:type/:obj", s.ListComments)
	protected.Post("/comments/:type/:obj", s.CreateComment)
	protected.Put("/comments/:id", s.UpdateComment)
	protected.Delete("/comments/:id", s.DeleteComment)

	protected.Get("/notifications", s.ListNotifications)
	protected.Get("/notifications/unread-count", s.UnreadCount)
	protected.Post("/notifications/mark-as-read", s.MarkRead)
	protected.Post("/notifications/mark-all-as-read", s.MarkAllRead)

	protected.Get("/profiles/:username", s.GetProfile)
	protected.Patch("/profiles/:username", s.UpdateProfile)
	protected.Get("/users/:username/posts", s.UserPosts)
	protected.Post("/users/:username/follow", s.Follow)
	protected.Delete("/users/:username/follow", s.Unfollow)
	protected.Get("/search/users", s.SearchUsers)

	protected.Get("/groups", s.ListGroups)
	protected.Post("/groups", s.CreateGroup)
	protected.Get("/groups/:slug", s.GetGroup)
	protected.Delete("/groups/:slug", s.DeleteGroup)
	protected.Get("/groups/:slug/status-posts", s.GroupPosts)
	protected.Post("/groups/:slug/status-posts", s.CreateGroupPost)
	protected.Get("/groups/:slug/members", s.GroupMembers)
	protected.Post("/groups/:slug/membership", s.JoinGroup)
	protected.Delete("/groups/:slug/membership", s.LeaveGroup)
	protected.Get("/groups/:slug/requests", s.JoinRequests)
	protected.Patch("/groups/:slug/requests/:id", s.ReviewJoinRequest)
	protected.Post("/groups/:slug/transfer-ownership", s.TransferOwnership)

	ws := app.Group("/ws", s.RequireUpgrade, s.AuthRequired())
	ws.Get("/activity", s.ActivityHandler())
}

// Health reports database and Redis reachability.
func (s *Server) Health(c *fiber.Ctx) error {
	status := fiber.Map{"status": "ok", "database": "ok"}
	code := fiber.StatusOK
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
		status["database"] = "unavailable"
		status["status"] = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	if s.redis != nil {
		if err := s.redis.Ping(c.UserContext()).Err(); err != nil {
			status["redis"] = "unavailable"
			status["status"] = "degraded"
			code = fiber.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}
	return c.Status(code).JSON(status)
}

// Serve wires the push fan-out and serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	app := s.App()
	if s.notifier != nil {
		if err := s.hub.StartWiring(s.shutdownCtx, s.notifier); err != nil {
			return fmt.Errorf("start hub wiring: %w", err)
		}
	}
	s.log.Info("devserver listening", slog.String("addr", ln.Addr().String()))
	return app.Listener(ln)
}

// Start listens on the configured port.
func (s *Server) Start() error {
	port := strings.TrimPrefix(s.config.Port, ":")
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", port, err)
	}
	return s.Serve(ln)
}

// Shutdown closes push connections and stops the app.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownFn()
	var errs []error
	errs = append(errs, s.hub.Shutdown(ctx))
	if s.app != nil {
		errs = append(errs, s.app.ShutdownWithContext(ctx))
	}
	return errors.Join(errs...)
}

// ActiveConnections reports how many push connections userID has open on
// this instance.
func (s *Server) ActiveConnections(userID uint) int {
	return s.hub.Connected(userID)
}

// baseURL is the scheme and host the request arrived on.
func baseURL(c *fiber.Ctx) string {
	return c.BaseURL()
}
