package main

import (
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/shopscreen/rendezvous/internal/config"
	"github.com/shopscreen/rendezvous/internal/turnrest"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset while --mode=prod (only same-host browser pages can connect)",
			"warning_code", "allowed_origins_unset_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.PermissionRequestTTL <= 0 {
		logger.Warn("startup security warning: PERMISSION_REQUEST_TTL is 0 while --mode=prod (unanswered sharing requests are kept until the device disconnects)",
			"warning_code", "permission_request_ttl_disabled_in_prod",
			"permission_request_ttl", cfg.PermissionRequestTTL,
			"mode", cfg.Mode,
		)
	}

	for _, server := range cfg.ICEServers {
		if cfg.TURNREST.Enabled() || !turnrest.HasTURNURL(server) || iceServerHasCredentials(server) {
			continue
		}
		logger.Warn("startup warning: TURN server configured without credentials (browsers will fail to allocate relays)",
			"warning_code", "turn_server_missing_credentials",
			"urls", server.URLs,
			"mode", cfg.Mode,
		)
	}
}

func iceServerHasCredentials(server webrtc.ICEServer) bool {
	if strings.TrimSpace(server.Username) == "" {
		return false
	}
	cred, ok := server.Credential.(string)
	return ok && strings.TrimSpace(cred) != ""
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
