package config

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if len(cfg.RoleListeners()) != 0 {
		t.Fatalf("RoleListeners=%v, want none", cfg.RoleListeners())
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("SignalingWSIdleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("SignalingWSPingInterval=%v, want %v", cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.SendQueueLength != DefaultSendQueueLength {
		t.Fatalf("SendQueueLength=%d, want %d", cfg.SendQueueLength, DefaultSendQueueLength)
	}
	if cfg.PermissionRequestTTL != 0 {
		t.Fatalf("PermissionRequestTTL=%v, want 0", cfg.PermissionRequestTTL)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod", "--log-format", "text"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:           "0.0.0.0:9000",
		envVarPermissionRequestTTL: "30s",
	}), []string{"--listen-addr", "127.0.0.1:9001"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, "127.0.0.1:9001")
	}
	if cfg.PermissionRequestTTL != 30*time.Second {
		t.Fatalf("PermissionRequestTTL=%v, want 30s", cfg.PermissionRequestTTL)
	}
}

func TestRoleListeners(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarDeviceListenAddr: "0.0.0.0:3002",
		envVarAdminListenAddr:  "0.0.0.0:3003",
	}), []string{"--room-listen-addr", "0.0.0.0:4000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.RoleListeners()
	want := map[string]string{"device": "0.0.0.0:3002", "admin": "0.0.0.0:3003", "room": "0.0.0.0:4000"}
	if len(got) != len(want) {
		t.Fatalf("RoleListeners=%v, want %v", got, want)
	}
	for role, addr := range want {
		if got[role] != addr {
			t.Fatalf("RoleListeners[%q]=%q, want %q", role, got[role], addr)
		}
	}
}

func TestInvalidListenAddr(t *testing.T) {
	if _, err := load(noEnv, []string{"--device-listen-addr", "nope"}); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestPingIntervalMustBeBelowIdleTimeout(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:  "10s",
		envVarSignalingWSPingInterval: "10s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), envVarSignalingWSPingInterval) {
		t.Fatalf("err=%v, expected mention of %s", err, envVarSignalingWSPingInterval)
	}
}

func TestRejectsNonPositiveLimits(t *testing.T) {
	cases := []map[string]string{
		{envVarMaxSignalingMessageBytes: "0"},
		{envVarMaxSignalingMessagesPerSecond: "-1"},
		{envVarSendQueueLength: "0"},
		{envVarPermissionRequestTTL: "-5s"},
		{envVarPendingSweepInterval: "0s"},
		{envVarShutdownTimeout: "0s"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("expected error for %v, got nil", env)
		}
	}
}

func TestInvalidDurationEnv(t *testing.T) {
	_, err := load(lookupMap(map[string]string{envVarShutdownTimeout: "soon"}), nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestICEServersFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envStunURLs: "stun:stun.l.google.com:19302",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers=%v, want 1 entry", cfg.ICEServers)
	}
}

func TestICEConfigErrorIsNotFatal(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: "{not json",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICEConfigError, got nil")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
}

func TestTURNRESTAllowsTURNWithoutStaticCredentials(t *testing.T) {
	env := map[string]string{
		envTurnURLs: "turn:turn.example.com:3478",
	}

	cfg, err := load(lookupMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !errors.Is(cfg.ICEConfigError(), errTURNCredentials) {
		t.Fatalf("ICEConfigError=%v, want %v", cfg.ICEConfigError(), errTURNCredentials)
	}

	env[envVarTURNRESTSharedSecret] = "s3cret"
	cfg, err = load(lookupMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v, want nil", cfg.ICEConfigError())
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURNREST not enabled")
	}
	if cfg.TURNREST.TTL != DefaultTURNRESTTTL || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v, want defaults", cfg.TURNREST)
	}
}

func TestTURNRESTValidation(t *testing.T) {
	for _, args := range [][]string{
		{"--turn-rest-shared-secret", "s", "--turn-rest-ttl", "500ms"},
		{"--turn-rest-shared-secret", "s", "--turn-rest-username-prefix", "a:b"},
	} {
		if _, err := load(noEnv, args); err == nil {
			t.Fatalf("load(%v) succeeded, want error", args)
		}
	}

	// Without a secret the other TURN REST settings are not checked.
	if _, err := load(noEnv, []string{"--turn-rest-ttl", "0s"}); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	got, err := parseAllowedOrigins("HTTPS://Example.COM, http://localhost:5173/")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2 (%v)", len(got), got)
	}
	if got[0] != "https://example.com" {
		t.Fatalf("got[0]=%q, want %q", got[0], "https://example.com")
	}
	if got[1] != "http://localhost:5173" {
		t.Fatalf("got[1]=%q, want %q", got[1], "http://localhost:5173")
	}
}

func TestParseAllowedOrigins_AllowsStarAndNull(t *testing.T) {
	got, err := parseAllowedOrigins("*,null")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	if len(got) != 2 || got[0] != "*" || got[1] != "null" {
		t.Fatalf("got=%v, want [* null]", got)
	}
}

func TestParseAllowedOrigins_RejectsPathQueryAndCredentials(t *testing.T) {
	cases := []string{
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://user@example.com",
		"https://example.com/#frag",
	}
	for _, raw := range cases {
		if _, err := parseAllowedOrigins(raw); err == nil {
			t.Fatalf("expected error for %q, got nil", raw)
		}
	}
}
