package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbull/internal/config"
	"chatbull/internal/db"
	"chatbull/internal/hub"
	clog "chatbull/internal/log"
	"chatbull/internal/metrics"
	"chatbull/internal/push"
	"chatbull/internal/server"
	"chatbull/internal/store"
	"chatbull/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志与持久层、启动 HTTP 服务，并在收到信号后优雅关停。
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open store")
	}

	h := hub.New(st, hub.Options{
		Notifier:           push.LogNotifier{},
		RateWindow:         cfg.RateWindow,
		PrivateMessageTTL:  cfg.PrivateMessageTTL,
		CallRingTimeout:    cfg.CallRingTimeout,
		CallConnectTimeout: cfg.CallConnectTimeout,
	})
	tracker := ws.NewTracker()
	limiters := server.NewLimiters(cfg)
	r := server.SetupRouter(cfg, st, h, tracker, limiters)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := store.NewSweeper(st, cfg.TTLSweepInterval, func(res store.SweepResult) {
		metrics.PrivateWipedTotal.Add(float64(res.Messages))
	})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("store", cfg.StoreDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// 被劫持的 WebSocket 连接不受 srv.Shutdown 管理，单独关闭并等待断线清理。
	tracker.CloseAll()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("hub shutdown")
	}
	limiters.Stop()
	<-sweepDone
	log.Info().Msg("bye")
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return store.NewGorm(gdb), nil
}
