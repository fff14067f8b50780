package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	_ "go.uber.org/automaxprocs"

	"grimhollow/internal/auth"
	"grimhollow/internal/bus"
	"grimhollow/internal/config"
	"grimhollow/internal/dispatch"
	"grimhollow/internal/logging"
	"grimhollow/internal/metrics"
	"grimhollow/internal/presence"
	"grimhollow/internal/protocol"
	"grimhollow/internal/store"
	"grimhollow/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging)

	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer closeStore()

	// Nobody can be online before the first heartbeat after a restart.
	if err := st.ResetAllOffline(ctx); err != nil {
		log.Fatal().Err(err).Msg("reset online flags")
	}

	tracker := presence.New(cfg.Presence.OfflineThreshold, st, log,
		presence.WithOnlineGauge(func(n int) {
			reg.Connections.OnlinePlayers.Set(float64(n))
		}))
	go tracker.Run(ctx, cfg.Presence.SweepInterval)

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var feed *bus.Feed
	if cfg.NATS.Enabled {
		feed, err = bus.Connect(bus.Config{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect market feed")
		}
		defer feed.Close()
	}

	dispatcher := dispatch.New(st, tracker, tokens, feed, reg, log)
	ws := transport.NewServer(cfg.Server, dispatcher, tokens, reg, log)

	// Fan market events back out to connected clients under the well-known
	// feed listener key; clients that never subscribe it drop them.
	if err := feed.SubscribeMarketEvents(func(ev protocol.MarketEvent) {
		env, err := protocol.NewRequest(protocol.KindMarket, protocol.ListenerMarketFeed, ev)
		if err != nil {
			log.Error().Err(err).Msg("encode feed event")
			return
		}
		ws.Broadcast(env)
	}); err != nil {
		log.Fatal().Err(err).Msg("subscribe market feed")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, ws.HandleWS)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("path", cfg.Server.WSPath).Msg("websocket server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	if cfg.Metrics.Enabled {
		go func() {
			errCh <- runMetricsServer(ctx, cfg.Metrics, reg, ws, log)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	ws.Shutdown()
	log.Info().Msg("server stopped")
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "memory", "":
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func runMetricsServer(ctx context.Context, cfg config.MetricsConfig, reg *metrics.Registry, ws *transport.Server, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, healthSnapshot(ws))
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func healthSnapshot(ws *transport.Server) map[string]any {
	health := map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"connections": ws.ConnCount(),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		health["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	return health
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
