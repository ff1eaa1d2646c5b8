package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bdobrica/Hako/common/environment"
)

// EnvPrefix prefixes every environment variable hako reads.
const EnvPrefix = "HAKO_"

// Settings is process configuration. Values come from defaults, then the
// settings file, then HAKO_* environment variables.
type Settings struct {
	DBPath    string `toml:"db_path"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Runtime RuntimeSettings `toml:"runtime"`
	Matrix  MatrixSettings  `toml:"matrix"`

	// Path is the settings file that was read, empty when none existed.
	Path string `toml:"-"`
}

// RuntimeSettings configure the container engine and transports.
type RuntimeSettings struct {
	// DockerHost overrides engine socket discovery.
	DockerHost string `toml:"docker_host"`
	// PublishHost is the host address network transports publish on and
	// probe. Empty publishes on all interfaces and probes localhost.
	PublishHost   string   `toml:"publish_host"`
	ProbeAttempts int      `toml:"probe_attempts"`
	ProbeInterval Duration `toml:"probe_interval"`
	// MonitorInterval is how often a foreground run polls the container.
	MonitorInterval Duration `toml:"monitor_interval"`
}

// MatrixSettings enable audit notices when all fields are set.
type MatrixSettings struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	AuditRoom   string `toml:"audit_room"`
}

// Enabled reports whether audit notices can be sent.
func (m MatrixSettings) Enabled() bool {
	return m.Homeserver != "" && m.UserID != "" && m.AccessToken != "" && m.AuditRoom != ""
}

// Duration decodes TOML strings such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in settings for the given home directory.
func Defaults(getenv func(string) string, home string) Settings {
	return Settings{
		DBPath:    filepath.Join(dataDir(getenv, home), "hako", "hako.db"),
		LogLevel:  "info",
		LogFormat: "text",
		Runtime: RuntimeSettings{
			ProbeAttempts:   30,
			ProbeInterval:   Duration{200 * time.Millisecond},
			MonitorInterval: Duration{5 * time.Second},
		},
	}
}

func dataDir(getenv func(string) string, home string) string {
	if v := getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultPath returns the settings file location: $XDG_CONFIG_HOME/hako/config.toml
// or ~/.config/hako/config.toml.
func DefaultPath(getenv func(string) string, home string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "hako", "config.toml")
}

// Load builds Settings from the process environment. HAKO_CONFIG names the
// settings file; a missing default file is not an error, a missing explicit
// one is.
func Load() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return LoadFrom(environment.New(EnvPrefix), os.Getenv, home)
}

// LoadFrom is Load with injected environment sources. env reads HAKO_*
// variables; getenv reads unprefixed ones.
func LoadFrom(env environment.Source, getenv func(string) string, home string) (Settings, error) {
	s := Defaults(getenv, home)

	path, explicit := env.Lookup("CONFIG")
	if !explicit {
		path = DefaultPath(getenv, home)
	}
	if err := s.decodeFile(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			path = ""
		} else {
			return Settings{}, err
		}
	}
	s.Path = path

	s.applyEnv(env)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) decodeFile(path string) error {
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("read settings %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (s *Settings) applyEnv(env environment.Source) {
	s.DBPath = env.String("DB_PATH", s.DBPath)
	s.LogLevel = env.String("LOG_LEVEL", s.LogLevel)
	s.LogFormat = env.String("LOG_FORMAT", s.LogFormat)

	s.Runtime.DockerHost = env.String("DOCKER_HOST", s.Runtime.DockerHost)
	s.Runtime.PublishHost = env.String("PUBLISH_HOST", s.Runtime.PublishHost)
	s.Runtime.ProbeAttempts = env.Int("PROBE_ATTEMPTS", s.Runtime.ProbeAttempts)
	s.Runtime.ProbeInterval.Duration = env.Duration("PROBE_INTERVAL", s.Runtime.ProbeInterval.Duration)
	s.Runtime.MonitorInterval.Duration = env.Duration("MONITOR_INTERVAL", s.Runtime.MonitorInterval.Duration)

	s.Matrix.Homeserver = env.String("MATRIX_HOMESERVER", s.Matrix.Homeserver)
	s.Matrix.UserID = env.String("MATRIX_USER_ID", s.Matrix.UserID)
	s.Matrix.AccessToken = env.String("MATRIX_ACCESS_TOKEN", s.Matrix.AccessToken)
	s.Matrix.AuditRoom = env.String("MATRIX_AUDIT_ROOM", s.Matrix.AuditRoom)
}

// Validate checks values that would otherwise fail much later.
func (s Settings) Validate() error {
	if s.DBPath == "" {
		return errors.New("settings: db_path must not be empty")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("settings: log_level %q must be debug, info, warn or error", s.LogLevel)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("settings: log_format %q must be text or json", s.LogFormat)
	}
	if s.Runtime.ProbeAttempts < 1 {
		return fmt.Errorf("settings: probe_attempts must be at least 1, got %d", s.Runtime.ProbeAttempts)
	}
	if s.Runtime.ProbeInterval.Duration < 0 || s.Runtime.MonitorInterval.Duration < 0 {
		return errors.New("settings: intervals must not be negative")
	}
	return nil
}
