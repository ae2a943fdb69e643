// Command composeforge is the control-plane process: it serves the wire
// protocol over a websocket, the bundled single-page application over
// plain HTTP, and runs the broadcast scheduler alongside them in the same
// process. Grounded on the teacher's cmd-less single main.go (Gin +
// gin-contrib/cors + SPA static serving), extended with the websocket
// upgrade route and reset-password subcommand original_source splits into
// a separate binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/config"
	"github.com/composeforge/composeforge/internal/database"
	"github.com/composeforge/composeforge/internal/handler"
	"github.com/composeforge/composeforge/internal/router"
	"github.com/composeforge/composeforge/internal/scheduler"
	"github.com/composeforge/composeforge/internal/service"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
	"github.com/composeforge/composeforge/internal/wire"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "reset-password" {
		if err := runResetPassword(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "reset-password:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Init(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("settings cache backed by redis", "addr", cfg.RedisAddr)
	}
	settingsStore := settings.New(db, rdb)

	sessions := session.NewRegistry()
	terminals := terminal.NewRegistry(slog.Default())
	engine := stack.NewEngine(terminals)
	totpSvc := service.NewTOTPService(db, settingsStore)
	limiters := auth.NewLimiters()

	sched := scheduler.New(sessions, terminals, settingsStore, cfg.StacksDir, cfg.GlobalEnvPath(), slog.Default())

	h := handler.New(db, settingsStore, sessions, terminals, engine, totpSvc, limiters, cfg, sched, slog.Default())
	r := router.New(slog.Default())
	handler.Register(r, h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	web := gin.Default()
	web.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	registerHTTPRoutes(web, cfg, settingsStore)
	registerWebSocketRoute(web, sessions, r, h)

	addr := cfg.Hostname + ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: web}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("composeforge listening", "addr", addr, "stacksDir", cfg.StacksDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigCh:
		slog.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerWebSocketRoute upgrades GET /socket to the wire protocol,
// stamping the connection's context with its client IP (internal/handler's
// login/2FA rate limiters read it back) before handing frames to the
// router.
func registerWebSocketRoute(g *gin.Engine, sessions *session.Registry, r *router.Router, h *handler.Handlers) {
	g.GET("/socket", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}

		conn := wire.NewConn(ws, slog.Default())
		sess := session.New(conn)
		sess.SetEndpoint(c.GetHeader("X-Composeforge-Endpoint"))
		sessions.Add(sess)

		ctx := handler.WithClientIP(c.Request.Context(), auth.ClientIP(c.Request.RemoteAddr))

		go func() { _ = conn.WriteLoop(ctx) }()

		_ = conn.ReadLoop(ctx, func(ctx context.Context, msg wire.ClientMessage, _ *wire.Conn) {
			r.Dispatch(ctx, sess, msg, conn)
		})

		h.DropSession(sess)
	})
}
