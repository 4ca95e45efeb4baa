package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicehub/internal/adapters/http"
	"github.com/dkeye/voicehub/internal/adapters/membership"
	"github.com/dkeye/voicehub/internal/adapters/session"
	wssignal "github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	validator, store, closeSessions, err := buildSessions(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("session backend")
	}
	defer closeSessions()

	members, closeMembers, err := buildMembership(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("membership backend")
	}
	defer closeMembers()

	clk := clock.New()
	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Channels:   app.NewChannels(),
		Membership: members,
		Policy:     app.SimplePolicy{},
		Clock:      clk,
	}

	limiter := wssignal.NewUserRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window, clk)
	ctl := wssignal.NewSignalWSController(o, validator, limiter, wssignal.Options{
		ReadLimit:         cfg.ReadLimit,
		SendBuffer:        cfg.SendBuffer,
		WriteWait:         cfg.WriteWait,
		MembershipTimeout: cfg.Membership.Timeout,
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{Orch: o, Signal: ctl, SessionStore: store})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	supervisor := app.NewSupervisor(o.Registry, clk, cfg.PingInterval, cfg.PongWait, o.Terminate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice hub started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return supervisor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		o.Shutdown()
		ctl.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func buildSessions(ctx context.Context, cfg *config.Config) (core.SessionValidator, cookie.Store, func(), error) {
	switch cfg.Session.Backend {
	case "redis":
		client, err := session.NewRedisClient(ctx, cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		v, err := session.NewRedisValidator(client, cfg.Session.CookieName, cfg.Session.RedisPrefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		log.Info().Str("addr", cfg.Session.RedisAddr).Msg("redis sessions")
		return v, nil, func() { _ = client.Close() }, nil
	default:
		store := session.NewCookieStore(cfg.Secret, cfg.Session.MaxAge)
		return session.NewCookieValidator(store, cfg.Session.CookieName), store, func() {}, nil
	}
}

func buildMembership(ctx context.Context, cfg *config.Config) (core.MembershipService, func(), error) {
	switch cfg.Membership.Backend {
	case "postgres":
		pool, err := membership.Connect(ctx, cfg.Membership.DSN, cfg.Membership.MinConns, cfg.Membership.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return membership.NewPostgres(pool), pool.Close, nil
	default:
		log.Info().Int("channels", len(cfg.Membership.Channels)).Msg("static membership")
		return membership.NewStatic(cfg.Membership.Channels), func() {}, nil
	}
}
