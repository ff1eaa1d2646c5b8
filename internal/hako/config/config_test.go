package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/Hako/common/environment"
	"github.com/bdobrica/Hako/internal/hako/config"
	"github.com/bdobrica/Hako/internal/hako/store"
)

func newTestStore(t *testing.T) config.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "hako-config-test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return config.New(s)
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), config.KeyPort)
	if !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, config.KeyTransport, "stdio"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, config.KeyTransport, "sse"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := s.Get(ctx, config.KeyTransport)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sse" {
		t.Errorf("got %q, want %q", got, "sse")
	}
}

func TestSetValidates(t *testing.T) {
	cases := []struct {
		key, value string
		wantErr    error
	}{
		{config.KeyTransport, "sse", nil},
		{config.KeyTransport, "SSE", config.ErrInvalidValue},
		{config.KeyTransport, "websocket", config.ErrInvalidValue},
		{config.KeyPort, "8080", nil},
		{config.KeyPort, "0", config.ErrInvalidValue},
		{config.KeyPort, "65536", config.ErrInvalidValue},
		{config.KeyPort, "http", config.ErrInvalidValue},
		{config.KeyPermissionProfile, "network", nil},
		{config.KeyPermissionProfile, "", config.ErrInvalidValue},
		{"run.image", "alpine", config.ErrUnknownKey},
	}
	s := newTestStore(t)
	for _, tc := range cases {
		err := s.Set(context.Background(), tc.key, tc.value)
		if tc.wantErr == nil {
			if err != nil {
				t.Errorf("Set(%s=%q): unexpected error %v", tc.key, tc.value, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("Set(%s=%q): got %v, want %v", tc.key, tc.value, err, tc.wantErr)
		}
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, config.KeyPort); err != nil {
		t.Fatalf("Delete unset key: %v", err)
	}
	if err := s.Set(ctx, config.KeyPort, "9000"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(ctx, config.KeyPort); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, config.KeyPort); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got: %v", err)
	}
}

func TestLoadRunDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := config.LoadRunDefaults(ctx, s)
	if err != nil {
		t.Fatalf("LoadRunDefaults empty: %v", err)
	}
	if d != (config.RunDefaults{}) {
		t.Errorf("expected zero defaults, got %+v", d)
	}

	for k, v := range map[string]string{
		config.KeyTransport:         "sse",
		config.KeyPort:              "8080",
		config.KeyPermissionProfile: "/etc/hako/fs.yaml",
	} {
		if err := s.Set(ctx, k, v); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	d, err = config.LoadRunDefaults(ctx, s)
	if err != nil {
		t.Fatalf("LoadRunDefaults: %v", err)
	}
	want := config.RunDefaults{Transport: "sse", Port: 8080, PermissionProfile: "/etc/hako/fs.yaml"}
	if d != want {
		t.Errorf("got %+v, want %+v", d, want)
	}
}

func getenvMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	home := t.TempDir()
	s, err := config.LoadFrom(environment.FromMap(config.EnvPrefix, nil), getenvMap(nil), home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if s.Path != "" {
		t.Errorf("Path = %q, want empty when no file exists", s.Path)
	}
	if want := filepath.Join(home, ".local", "share", "hako", "hako.db"); s.DBPath != want {
		t.Errorf("DBPath = %q, want %q", s.DBPath, want)
	}
	if s.LogLevel != "info" || s.LogFormat != "text" {
		t.Errorf("log = %s/%s, want info/text", s.LogLevel, s.LogFormat)
	}
	if s.Runtime.ProbeAttempts != 30 || s.Runtime.ProbeInterval.Duration != 200*time.Millisecond {
		t.Errorf("probe = %d/%s", s.Runtime.ProbeAttempts, s.Runtime.ProbeInterval)
	}
	if s.Matrix.Enabled() {
		t.Error("matrix should be disabled by default")
	}
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	home := t.TempDir()
	cfgHome := filepath.Join(home, "cfg")
	path := filepath.Join(cfgHome, "hako", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data := `
db_path = "/var/lib/hako/registry.db"
log_level = "debug"

[runtime]
publish_host = "127.0.0.1"
probe_attempts = 5
probe_interval = "1s"

[matrix]
homeserver = "https://matrix.example.org"
user_id = "@hako:example.org"
access_token = "from-file"
audit_room = "!audit:example.org"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	env := environment.FromMap(config.EnvPrefix, map[string]string{
		"HAKO_LOG_FORMAT":          "json",
		"HAKO_PROBE_ATTEMPTS":      "7",
		"HAKO_MATRIX_ACCESS_TOKEN": "from-env",
	})
	s, err := config.LoadFrom(env, getenvMap(map[string]string{"XDG_CONFIG_HOME": cfgHome}), home)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if s.Path != path {
		t.Errorf("Path = %q, want %q", s.Path, path)
	}
	if s.DBPath != "/var/lib/hako/registry.db" {
		t.Errorf("DBPath = %q", s.DBPath)
	}
	if s.LogLevel != "debug" || s.LogFormat != "json" {
		t.Errorf("log = %s/%s, want debug/json", s.LogLevel, s.LogFormat)
	}
	if s.Runtime.PublishHost != "127.0.0.1" {
		t.Errorf("PublishHost = %q", s.Runtime.PublishHost)
	}
	if s.Runtime.ProbeAttempts != 7 {
		t.Errorf("ProbeAttempts = %d, want env override 7", s.Runtime.ProbeAttempts)
	}
	if s.Runtime.ProbeInterval.Duration != time.Second {
		t.Errorf("ProbeInterval = %s, want 1s", s.Runtime.ProbeInterval)
	}
	if s.Matrix.AccessToken != "from-env" || !s.Matrix.Enabled() {
		t.Errorf("matrix = %+v", s.Matrix)
	}
}

func TestLoadFrom_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	cases := []struct {
		name string
		vars map[string]string
	}{
		{"explicit file missing", map[string]string{"HAKO_CONFIG": filepath.Join(dir, "absent.toml")}},
		{"unparsable file", map[string]string{"HAKO_CONFIG": write("bad.toml", "db_path = ")}},
		{"unknown key", map[string]string{"HAKO_CONFIG": write("unknown.toml", "colour = \"blue\"\n")}},
		{"bad duration", map[string]string{"HAKO_CONFIG": write("dur.toml", "[runtime]\nprobe_interval = \"soon\"\n")}},
		{"bad log level", map[string]string{"HAKO_LOG_LEVEL": "loud"}},
		{"bad log format", map[string]string{"HAKO_LOG_FORMAT": "xml"}},
		{"zero probe attempts", map[string]string{"HAKO_PROBE_ATTEMPTS": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := environment.FromMap(config.EnvPrefix, tc.vars)
			if _, err := config.LoadFrom(env, getenvMap(nil), t.TempDir()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestKeys(t *testing.T) {
	got := config.Keys()
	want := []string{config.KeyPermissionProfile, config.KeyPort, config.KeyTransport}
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
