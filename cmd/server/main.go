package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/ribbonhq/ribbon/internal/adapters/http"
	signalws "github.com/ribbonhq/ribbon/internal/adapters/signal"
	"github.com/ribbonhq/ribbon/internal/app/orch"
	"github.com/ribbonhq/ribbon/internal/config"
	"github.com/ribbonhq/ribbon/internal/engine"
	"github.com/ribbonhq/ribbon/internal/invite"
	"github.com/ribbonhq/ribbon/internal/session"
	"github.com/ribbonhq/ribbon/internal/store"
	"github.com/ribbonhq/ribbon/internal/turncred"
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

	st, err := store.Open(cfg.DBPath, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	eng := engine.New(cfg.EngineSocket, cfg.EngineCallTimeout)
	invites := invite.NewService(st)
	reg := session.NewRegistry()

	o := orch.New(reg, eng, invites, st, cfg.EngineWorkers, cfg.MaxParticipants)
	eng.SetNotificationHandler(o)

	turn := turncred.NewGenerator(turncred.Config{
		Secret:  cfg.TURNSecret,
		Host:    cfg.TURNHost,
		Port:    cfg.TURNPort,
		TLSPort: cfg.TURNTLSPort,
		TTL:     cfg.TURNCredTTL,
	})

	sig := signalws.NewController(o, turn, cfg.ReadLimit, cfg.PingPeriod)
	o.SetNotifier(sig)

	go o.RunReconciler(ctx, cfg.ReconcileInterval)
	go expireLoop(ctx, st)

	r := router.SetupRouter(ctx, router.Deps{
		Cfg:     cfg,
		Orch:    o,
		Store:   st,
		Invites: invites,
		Turn:    turn,
		Signal:  sig,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Ribbon server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := eng.Close(); err != nil {
		log.Error().Err(err).Msg("engine close")
	}
	log.Info().Msg("Server exited gracefully")
}

// expireLoop sweeps persisted rooms past their TTL.
func expireLoop(ctx context.Context, st *store.Store) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := st.ExpireRooms(ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("expire rooms")
				continue
			}
			if n > 0 {
				log.Info().Int("rooms", n).Msg("expired stale rooms")
			}
		}
	}
}
