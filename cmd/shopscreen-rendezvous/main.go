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
	"sort"
	"sync"
	"syscall"

	"github.com/shopscreen/rendezvous/internal/config"
	"github.com/shopscreen/rendezvous/internal/httpserver"
	"github.com/shopscreen/rendezvous/internal/metrics"
	"github.com/shopscreen/rendezvous/internal/relay"
	"github.com/shopscreen/rendezvous/internal/rooms"
	"github.com/shopscreen/rendezvous/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
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

	logger.Info("starting shopscreen-rendezvous",
		"listen_addr", cfg.ListenAddr,
		"role_listeners", cfg.RoleListeners(),
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"permission_request_ttl", cfg.PermissionRequestTTL,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Error("invalid ICE server configuration; /readyz will fail", "err", err)
	}

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)

	m := metrics.New()
	router := relay.NewRouter(relay.Config{
		Logger:               logger.With("component", "relay"),
		Metrics:              m,
		PermissionRequestTTL: cfg.PermissionRequestTTL,
		SweepInterval:        cfg.PendingSweepInterval,
	})
	hub := rooms.NewHub(logger.With("component", "rooms"), m)
	sig := signaling.NewServer(signaling.Config{
		Router:               router,
		Rooms:                hub,
		Logger:               logger.With("component", "signaling"),
		Metrics:              m,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLength:      cfg.SendQueueLength,
	})

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})
	srv.SetMetrics(m)
	srv.SetDirectory(router)
	sig.RegisterRoutes(srv.Mux())

	roleServers, roleListeners, err := listenRoles(srv, sig, cfg.RoleListeners())
	if err != nil {
		logger.Error("failed to listen", "err", err)
		_ = ln.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = router.Run(ctx)
	}()

	errCh := make(chan error, 1+len(roleServers))
	go func() {
		errCh <- srv.Serve(ln)
	}()
	for i, rs := range roleServers {
		rs, l := rs, roleListeners[i]
		logger.Info("role listener serving", "addr", l.Addr().String())
		go func() {
			errCh <- rs.Serve(l)
		}()
	}

	var exitErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			exitErr = err
			logger.Error("http server exited", "err", err)
		}
		stop()
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked connections, so the signaling
	// sockets are closed explicitly once the listeners stop accepting.
	var wg sync.WaitGroup
	for _, rs := range roleServers {
		wg.Add(1)
		go func(rs *http.Server) {
			defer wg.Done()
			if err := rs.Shutdown(shutdownCtx); err != nil {
				logger.Error("role listener shutdown failed", "addr", rs.Addr, "err", err)
			}
		}(rs)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	wg.Wait()
	sig.Close()
	<-sweepDone

	if exitErr != nil {
		os.Exit(1)
	}
}

// listenRoles binds the dedicated per-role listeners in a stable order.
func listenRoles(srv *httpserver.Server, sig *signaling.Server, addrs map[string]string) ([]*http.Server, []net.Listener, error) {
	roles := make([]string, 0, len(addrs))
	for role := range addrs {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var (
		servers   []*http.Server
		listeners []net.Listener
	)
	for _, role := range roles {
		l, err := net.Listen("tcp", addrs[role])
		if err != nil {
			for _, prev := range listeners {
				_ = prev.Close()
			}
			return nil, nil, fmt.Errorf("%s listener: %w", role, err)
		}
		servers = append(servers, srv.RoleServer(addrs[role], sig.RoleHandler(role)))
		listeners = append(listeners, l)
	}
	return servers, listeners, nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
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
