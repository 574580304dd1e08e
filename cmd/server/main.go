package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Tyrowin/mycord/internal/history"
	"github.com/Tyrowin/mycord/internal/logger"
	"github.com/Tyrowin/mycord/internal/server"
)

const (
	httpShutdownTimeout = 5 * time.Second
	drainWaitTimeout    = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mycord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	addr := flag.String("addr", "", "TCP listen address (overrides SERVER_ADDR)")
	httpAddr := flag.String("http", "", "HTTP listen address for /ws, /metrics and health (overrides HTTP_ADDR)")
	cfgPath := flag.String("config", "", "Path to YAML config file")
	historyPath := flag.String("history", "", "History log file (overrides HISTORY_FILE)")
	flag.Parse()

	cfg, err := server.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *historyPath != "" {
		cfg.HistoryFile = *historyPath
	}
	// A bare positional argument is the TCP port.
	if port := flag.Arg(0); port != "" {
		cfg.Addr = ":" + port
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Log

	metrics := server.NewMetrics()

	opts := []history.Option{
		history.WithLogger(log.Named("history")),
		history.WithFailureHook(metrics.HistoryFailureHook()),
	}
	if cfg.SeedHistory {
		opts = append(opts, history.WithSeed(currentUser()))
	}
	log.Info("loading history", zap.String("path", cfg.HistoryFile))
	store, err := history.Open(cfg.HistoryFile, opts...)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing history", zap.Error(err))
		}
	}()
	log.Info("history ready", zap.Int("entries", store.Len()))

	srv := server.NewServer(cfg, store, server.WithLogger(log.Named("server")), server.WithMetrics(metrics))

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	log.Info("mycord server listening", zap.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 2)
	go func() { serveErr <- srv.Serve(ln) }()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = server.CreateServer(cfg.HTTPAddr, server.SetupRoutes(srv))
		go func() { serveErr <- server.StartServer(httpServer) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			log.Error("listener failed", zap.Error(err))
		}
	}

	if httpServer != nil {
		_ = server.ShutdownServer(httpServer, httpShutdownTimeout)
	}
	if err := srv.Shutdown(drainWaitTimeout); err != nil {
		log.Warn("sessions still running after drain", zap.Error(err))
	}
	log.Info("bye")
	return nil
}

func currentUser() string {
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
