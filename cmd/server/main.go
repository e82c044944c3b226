// Command chat-server starts the secure chat relay.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sudostealth/SecureChatApp/internal/config"
	"github.com/sudostealth/SecureChatApp/internal/registry"
	"github.com/sudostealth/SecureChatApp/internal/server"
	"github.com/sudostealth/SecureChatApp/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration and runs the TCP relay, optionally with a
// websocket listener alongside.
func main() {
	env := config.Load()

	// Flags override environment.
	addr := flag.String("addr", env.ListenAddr, "TCP listen address")
	wsAddr := flag.String("ws-addr", env.WSAddr, "websocket HTTP listen address (empty disables)")
	fileDir := flag.String("file-dir", env.FileDir, "directory for relayed file payloads")
	typingWindow := flag.Duration("typing-window", env.TypingWindow, "typing inactivity window")
	destroyGrace := flag.Duration("destroy-grace", env.DestroyGrace, "delay between destroy directive and teardown")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	files, err := store.NewFileStore(*fileDir)
	if err != nil {
		logger.Fatal("file store", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	srv := server.New(server.Config{
		TypingWindow: *typingWindow,
		DestroyGrace: *destroyGrace,
	}, reg, files, logger)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.Serve(lis)
	}()

	var httpSrv *http.Server
	if *wsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", srv.ServeWS)
		httpSrv = &http.Server{Addr: *wsAddr, Handler: mux}
		go func() {
			logger.Info("websocket listening", zap.String("addr", *wsAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
		_ = lis.Close()
		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpSrv.Shutdown(shutdownCtx)
			cancel()
		}
		srv.Shutdown()
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
