package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/chat"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/dispatch"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/room"
	"github.com/wilsonzlin/aero/proxy/signal-chat-relay/internal/wsconn"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-signal-chat-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"send_queue_bytes", cfg.SendQueueBytes,
		"ws_write_timeout", cfg.WSWriteTimeout,
		"ice_servers", len(cfg.ICEServers),
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	m := metrics.New()
	rooms := room.NewRegistry(logger.With("component", "rooms"), m)
	sessions := chat.NewRegistry(logger.With("component", "chat"), m)

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Deps{
		Rooms:    rooms,
		Sessions: sessions,
		Metrics:  m,
	})
	mountRelay(srv.Mux(), cfg, logger, m, rooms, sessions)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received",
			"rooms", rooms.Count(),
			"chat_sessions", sessions.Count(),
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// mountRelay registers the /signal and /ws WebSocket endpoints on mux.
func mountRelay(mux *http.ServeMux, cfg config.Config, logger *slog.Logger, m *metrics.Metrics, rooms *room.Registry, sessions *chat.Registry) {
	opts := dispatch.Options{
		Log:     logger,
		Metrics: m,
		Origins: origin.Policy{AllowedOrigins: cfg.AllowedOrigins},
		Conn: wsconn.Options{
			MaxMessageBytes: cfg.MaxMessageBytes,
			SendQueueBytes:  cfg.SendQueueBytes,
			WriteTimeout:    cfg.WSWriteTimeout,
		},
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}

	mux.Handle("GET /signal/{"+dispatch.RoomIDPathValue+"}", dispatch.NewSignalHandler(rooms, opts))
	mux.Handle("GET /ws", dispatch.NewChatHandler(sessions, chat.ClassifyUserAgent, opts))
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
