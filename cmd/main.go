package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reflex-hall/rooms-service/config"
	"github.com/reflex-hall/rooms-service/internal/postgres"
	"github.com/reflex-hall/rooms-service/internal/service"
	"github.com/reflex-hall/rooms-service/internal/store"
	httpx "github.com/reflex-hall/rooms-service/internal/transport/http"
	"github.com/reflex-hall/rooms-service/internal/transport/ws"
	"github.com/reflex-hall/rooms-service/pkg/logger"
)

func main() {
	// --- config ---
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file, using environment")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting rooms-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres (опционально: без DSN каталог выключен) ---
	ctx := context.Background()
	var dir *service.DirectoryService
	if cfg.Postgres.DSN != "" {
		db, err := postgres.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		dir = service.NewDirectoryService(postgres.NewUserRepository(db.Pool))
	} else {
		slog.Info("postgres.dsn not set, user directory disabled")
	}

	// --- общее дерево ---
	st := store.New()
	// серверная сессия переживает все клиентские и не несёт
	// disconnect-операций
	serverSess := st.NewSession()

	// --- WS Hub & Server ---
	hub := ws.NewHub()
	wsServer := ws.NewServer(hub, st)
	wsServer.SetPingInterval(cfg.PingEvery())

	// --- HTTP ---
	handler := httpx.NewHandler(serverSess, dir)
	router := httpx.NewRouter(handler, wsServer, cfg.HTTP.AllowedOrigins)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// рвём ws-соединения первыми: их сессии снимут присутствие
	hub.CloseAll()
	serverSess.Close()
	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
