package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kiliankoe/jemimas-asking/internal/api"
	"github.com/kiliankoe/jemimas-asking/internal/auth"
	"github.com/kiliankoe/jemimas-asking/internal/config"
	"github.com/kiliankoe/jemimas-asking/internal/game"
	"github.com/kiliankoe/jemimas-asking/internal/store"
	"github.com/kiliankoe/jemimas-asking/internal/ws"
)

const version = "v0.3.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Jemima's Asking - two-player quiz room server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables (also read from .env):
  PORT                Port to listen on (default: 8080)
  LOG_LEVEL           debug, info, warn, error (default: info)
  STORE_DRIVER        "memory" or "sqlite" (default: memory)
  SQLITE_PATH         SQLite database file (default: ./data/jemima.db)
  JWT_SECRET          Secret for player tokens
  PACK_PASSWORD       Password for sealed packs (default: DEMO-ONLY)
  COUNTDOWN_SECONDS   Countdown before each round (default: 3)
  GM_USER             Username guarding pack uploads (basic auth)
  GM_PASS             Password guarding pack uploads (basic auth)
  EXPORT_ENABLED      Export finished games to file (default: true)
  EXPORT_FILE         Path to export results (default: ./jemima-results.txt)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("jemimas-asking %s\n", version)
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}
	cfg := config.FromEnv()
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	// zerolog setup (human-friendly console)
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(cfg); err != nil {
		zerologlog.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	st, err := store.Open(cfg.StoreDriver, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	zerologlog.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	machine := game.NewMachine(cfg.Countdown)
	issuer := auth.NewIssuer(cfg.JWTSecret, auth.DefaultMaxAge)

	// Gin setup with custom logger (skip /socket.io noise)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		zerologlog.Info().Str("path", path).Int("status", status).Dur("dur", dur).Msg("http")
	})

	var gm gin.HandlerFunc
	if cfg.GMUser != "" && cfg.GMPass != "" {
		gm = gin.BasicAuth(gin.Accounts{cfg.GMUser: cfg.GMPass})
	}
	api.New(st, machine, issuer, cfg.PackPassword).Register(r, gm)

	sock := ws.New(st, machine, issuer, cfg)
	defer sock.Close()
	io := sock.Mount(r)
	defer io.Close()

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zerologlog.Info().Str("port", cfg.Port).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zerologlog.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
