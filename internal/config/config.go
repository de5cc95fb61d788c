// Package config handles configuration parsing for rotinas.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acolita/rotinas/internal/ports"
)

// Transports accepted in terminal.transport.
const (
	TransportLocal     = "local"
	TransportSSH       = "ssh"
	TransportWebSocket = "websocket"
)

// Backends accepted in storage.backend.
const (
	BackendDir   = "dir"
	BackendFile  = "file"
	BackendRedis = "redis"
)

// MaxPollInterval bounds commands.poll_interval; slower polling misses
// screens that flash by.
const MaxPollInterval = 150 * time.Millisecond

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/rotinas/config.yaml or ~/.config/rotinas/config.yaml
func DefaultConfigPath() string {
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "rotinas")
}

// Config represents the top-level configuration.
type Config struct {
	Terminal    TerminalConfig    `yaml:"terminal"`
	SSH         SSHConfig         `yaml:"ssh"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Storage     StorageConfig     `yaml:"storage"`
	Repository  RepositoryConfig  `yaml:"repository"`
	Commands    CommandsConfig    `yaml:"commands"`
	AutoTrigger AutoTriggerConfig `yaml:"auto_trigger"`
	KeepAlive   KeepAliveConfig   `yaml:"keep_alive"`
	Recording   RecordingConfig   `yaml:"recording"`
	Security    SecurityConfig    `yaml:"security"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// TerminalConfig selects the transport and the emulated screen.
type TerminalConfig struct {
	Transport        string   `yaml:"transport"` // "local", "ssh" or "websocket"
	Command          string   `yaml:"command"`   // local transport only
	Args             []string `yaml:"args"`
	Term             string   `yaml:"term"`
	Rows             int      `yaml:"rows"`
	Cols             int      `yaml:"cols"`
	UnderscoreFields bool     `yaml:"underscore_fields"` // treat '_' cells as editable
}

// SSHConfig defines the gateway reached over SSH.
type SSHConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	KeyPath           string        `yaml:"key_path"`
	PassphraseEnv     string        `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv       string        `yaml:"password_env"`   // env var containing the password
	UseAgent          bool          `yaml:"use_agent"`
	KnownHosts        string        `yaml:"known_hosts"`
	Timeout           time.Duration `yaml:"timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// WebSocketConfig defines a websocket terminal gateway.
type WebSocketConfig struct {
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	WriteTimeout time.Duration     `yaml:"write_timeout"`
}

// StorageConfig selects where scripts are kept.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // "dir", "file" or "redis"
	File    string      `yaml:"file"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig defines the redis connection of the redis backend.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// RepositoryConfig defines the script directories of the dir backend.
type RepositoryConfig struct {
	UserDir        string `yaml:"user_dir"`
	PublicDir      string `yaml:"public_dir"`
	WritablePublic bool   `yaml:"writable_public"`
	Watch          bool   `yaml:"watch"`
}

// CommandsConfig tunes the script primitives.
type CommandsConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	Speed         time.Duration `yaml:"speed"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	Workspace     string        `yaml:"workspace"`
	RemoteFiles   bool          `yaml:"remote_files"` // file primitives over SFTP
}

// AutoTriggerConfig tunes the screen watcher.
type AutoTriggerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// KeepAliveConfig defines the idle pulse. An empty key disables it.
type KeepAliveConfig struct {
	Interval time.Duration `yaml:"interval"`
	Key      string        `yaml:"key"`
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Dir  string `yaml:"dir"`  // where recorded scripts are proposed
	Cast bool   `yaml:"cast"` // also write an asciicast of the keystrokes
}

// SecurityConfig defines credential handling.
type SecurityConfig struct {
	UseKeyring          bool          `yaml:"use_keyring"`
	CredentialTTL       time.Duration `yaml:"credential_ttl"`
	MaxAuthFailures     int           `yaml:"max_auth_failures"`
	AuthLockoutDuration time.Duration `yaml:"auth_lockout_duration"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
	File     string `yaml:"file"`     // empty logs to stderr
}

// MetricsConfig defines the HTTP endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := filepath.Join(configDir(), "rotinas")
	return &Config{
		Terminal: TerminalConfig{
			Transport: TransportLocal,
			Term:      "xterm-256color",
			Rows:      24,
			Cols:      80,
		},
		SSH: SSHConfig{
			Port:              22,
			UseAgent:          true,
			KnownHosts:        "~/.ssh/known_hosts",
			Timeout:           30 * time.Second,
			KeepaliveInterval: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{WriteTimeout: 10 * time.Second},
		Storage: StorageConfig{
			Backend: BackendDir,
			File:    filepath.Join(configDir(), "rotinas.json"),
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "rotinas:"},
		},
		Repository: RepositoryConfig{
			UserDir:   dataDir,
			PublicDir: filepath.Join(configDir(), "publicas"),
			Watch:     true,
		},
		Commands: CommandsConfig{
			PollInterval:  100 * time.Millisecond,
			VerifyTimeout: time.Second,
			Workspace:     ".",
		},
		AutoTrigger: AutoTriggerConfig{
			Enabled:  true,
			Interval: 500 * time.Millisecond,
			Debounce: 300 * time.Millisecond,
		},
		KeepAlive: KeepAliveConfig{Interval: 4 * time.Minute},
		Recording: RecordingConfig{Dir: filepath.Join(configDir(), "gravacoes")},
		Security: SecurityConfig{
			UseKeyring:          true,
			CredentialTTL:       15 * time.Minute,
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. An optional FileSystem can be passed for testing; if omitted,
// the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and fills zero tunables with their
// defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()
	var errs []error

	switch c.Terminal.Transport {
	case TransportLocal:
		if c.Terminal.Command == "" {
			errs = append(errs, errors.New("terminal.command is required for the local transport"))
		}
	case TransportSSH:
		if c.SSH.Host == "" {
			errs = append(errs, errors.New("ssh.host is required for the ssh transport"))
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.WebSocket.URL, "ws://") && !strings.HasPrefix(c.WebSocket.URL, "wss://") {
			errs = append(errs, fmt.Errorf("websocket.url %q must start with ws:// or wss://", c.WebSocket.URL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown terminal.transport %q", c.Terminal.Transport))
	}

	switch c.Storage.Backend {
	case BackendDir, BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.Terminal.Rows <= 0 || c.Terminal.Cols <= 0 {
		c.Terminal.Rows, c.Terminal.Cols = def.Terminal.Rows, def.Terminal.Cols
	}
	if c.Commands.PollInterval <= 0 {
		c.Commands.PollInterval = def.Commands.PollInterval
	}
	if c.Commands.PollInterval > MaxPollInterval {
		errs = append(errs, fmt.Errorf("commands.poll_interval %v exceeds %v", c.Commands.PollInterval, MaxPollInterval))
	}
	if c.Commands.Speed < 0 {
		errs = append(errs, errors.New("commands.speed must not be negative"))
	}
	if c.AutoTrigger.Interval <= 0 {
		c.AutoTrigger.Interval = def.AutoTrigger.Interval
	}
	if c.AutoTrigger.Debounce < 0 {
		c.AutoTrigger.Debounce = def.AutoTrigger.Debounce
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = def.Security.MaxAuthFailures
	}
	if c.SSH.Port <= 0 {
		c.SSH.Port = def.SSH.Port
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0o644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
