package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locshare/backend/internal/auth"
	"locshare/backend/internal/config"
	"locshare/backend/internal/database"
	"locshare/backend/internal/fanout"
	"locshare/backend/internal/friendship"
	"locshare/backend/internal/handler"
	"locshare/backend/internal/hub"
	"locshare/backend/internal/location"
	"locshare/backend/internal/logging"
	"locshare/backend/internal/store"
	"locshare/backend/internal/store/memory"
	"locshare/backend/internal/watch"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	// Swagger imports
	_ "locshare/backend/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	limiterCleanupInterval = time.Minute
	limiterIdleTimeout     = 10 * time.Minute
)

type profileStore interface {
	handler.ProfileStore
	friendship.ProfileReader
	watch.Store
}

type locationStore interface {
	location.Store
	fanout.LocationReader
}

type stores struct {
	profiles    profileStore
	friendships friendship.EdgeStore
	locations   locationStore
	contacts    handler.ContactStore
}

// openStores connects to postgres, or falls back to the in-memory store when
// no DATABASE_URL is configured.
func openStores(dsn string) (stores, error) {
	if dsn == "" {
		logging.Warn().Msg("DATABASE_URL not set, using in-memory store; data is lost on restart")
		db := memory.New()
		return stores{
			profiles:    db.Profiles(),
			friendships: db.Friendships(),
			locations:   db.Locations(),
			contacts:    db.Contacts(),
		}, nil
	}

	db, err := database.Connect(dsn)
	if err != nil {
		return stores{}, err
	}
	return stores{
		profiles:    store.NewProfiles(db),
		friendships: store.NewFriendships(db),
		locations:   store.NewLocations(db),
		contacts:    store.NewContacts(db),
	}, nil
}

// checkOrigin allows the configured origins. With none configured the
// upgrader's same-origin check applies.
func checkOrigin(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

func init() {
	config.LoadConfig()
}

// @title           Locshare API
// @version         1.0
// @description     Realtime location sharing between friends.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.AppConfig
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg); err != nil {
		logging.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	logging.Info().Msg("server stopped")
}

// run wires the server and blocks until it shuts down.
func run(cfg *config.Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	st, err := openStores(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	events := hub.NewHub()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		bridge := hub.NewRedisBridge(rdb, events, cfg.RedisChannel)
		g.Go(func() error {
			if err := bridge.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("redis bridge: %w", err)
			}
			return nil
		})
	}

	friends := friendship.NewManager(st.profiles, st.friendships, events)
	ledger := location.NewLedger(st.locations, events, location.Options{
		Throttle:      cfg.LocationThrottle,
		RetryAttempts: cfg.LocationRetryAttempts,
		RetryBase:     cfg.LocationRetryBase,
	})
	api := handler.New(handler.Deps{
		Profiles:               st.profiles,
		Contacts:               st.contacts,
		Friends:                friends,
		Ledger:                 ledger,
		Router:                 fanout.NewRouter(friends, st.locations, events),
		Tracker:                watch.NewTracker(st.profiles, friends, events),
		ReconcileInterval:      cfg.ReconcileInterval,
		WatchReconcileInterval: cfg.WatchReconcileInterval,
		CheckOrigin:            checkOrigin(cfg.Origins()),
	})
	limiter := auth.NewRateLimiter(cfg.RateLimitPerMinute)

	router := gin.Default()

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes (protected)
	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth.AuthMiddleware(cfg.JWTSecret), limiter.Middleware())
	api.Register(apiV1)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked streams outlive Shutdown; their contexts end with the group.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logging.Info().Str("addr", cfg.HTTPAddr).Msg("server listening")
		logging.Info().Msgf("Swagger UI is available at http://localhost%s/swagger/index.html", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(limiterCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup(limiterIdleTimeout)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("http shutdown")
		}
		// Pending trailing fixes are written before exit.
		return ledger.Close(shutdownCtx)
	})

	return g.Wait()
}
