// Package app wires configuration, storage, workers, and the HTTP
// server into a running gateway.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/probegate/probegate/internal/config"
	"github.com/probegate/probegate/internal/db"
	"github.com/probegate/probegate/internal/gateway"
	"github.com/probegate/probegate/internal/http/api/admin"
	"github.com/probegate/probegate/internal/http/api/proxyapi"
	"github.com/probegate/probegate/internal/progress"
	"github.com/probegate/probegate/internal/queue"
	"github.com/probegate/probegate/internal/scheduler"
	"github.com/probegate/probegate/internal/security"
	"github.com/probegate/probegate/internal/transport"
	"github.com/probegate/probegate/internal/webdav"
	"github.com/probegate/probegate/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// RunServer boots the gateway and blocks until the context is
// cancelled or a termination signal arrives.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	gdb, errOpen := db.Open(cfg.DatabaseURL)
	if errOpen != nil {
		return fmt.Errorf("open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(gdb); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}

	redisOpts, errRedis := redis.ParseURL(cfg.RedisURL)
	if errRedis != nil {
		return fmt.Errorf("parse redis url: %w", errRedis)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if errPing := rdb.Ping(ctx).Err(); errPing != nil {
		return fmt.Errorf("redis ping: %w", errPing)
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		log.Warn("JWT_SECRET not set, sessions will not survive a restart")
	}
	builtinKey := cfg.ProxyAPIKey
	if builtinKey == "" {
		generated, errGenerate := security.GenerateProxyKey()
		if errGenerate != nil {
			return fmt.Errorf("generate builtin proxy key: %w", errGenerate)
		}
		builtinKey = generated
		log.WithField("key", builtinKey).Info("PROXY_API_KEY not set, generated a builtin key for this run")
	}

	store := queue.NewStore(rdb)
	bus := progress.NewBus(rdb)
	client := transport.NewClient(cfg.GlobalProxy)
	router := gateway.NewRouter(gdb, rdb)
	keys := gateway.NewKeyService(gdb, builtinKey)
	mirror := webdav.NewMirror(gdb, cfg.WebDAVURL, cfg.WebDAVUsername, cfg.WebDAVPassword)

	sched := scheduler.New(gdb, store, client, cfg)
	if errStart := sched.Start(ctx); errStart != nil {
		return fmt.Errorf("start scheduler: %w", errStart)
	}
	defer sched.Stop()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool := worker.NewPool(store, bus, gdb, client, cfg.WorkerCount, sched.Settings)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(runCtx)
	}()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:        gdb,
		Store:     store,
		Bus:       bus,
		Scheduler: sched,
		Router:    router,
		Mirror:    mirror,
		Config:    cfg,
	})
	proxyapi.RegisterProxyRoutes(engine,
		proxyapi.NewProxyHandler(keys, router, client, cfg.GlobalProxy))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("gateway listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		cancel()
		<-poolDone
		return fmt.Errorf("http server: %w", errServe)
	case <-runCtx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil && !errors.Is(errShutdown, context.DeadlineExceeded) {
		log.WithError(errShutdown).Warn("http shutdown failed")
	}
	<-poolDone
	return nil
}

// requestID tags every response with an id for log correlation,
// honoring one supplied by an upstream proxy.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// randomSecret returns a per-boot hex secret.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failures are unrecoverable anyway.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
