// Package config provides configuration management for tmuxagentd.
// It supports loading configuration from environment variables, config
// files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for tmuxagentd.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Events    EventsConfig    `mapstructure:"events"`
	Mux       MuxConfig       `mapstructure:"mux"`
	Runtimes  []RuntimeEntry  `mapstructure:"runtimes"`
	Providers []ProviderEntry `mapstructure:"providers"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
	MCP       MCPConfig       `mapstructure:"mcp"`
}

// ServerConfig holds listener configuration: a Unix socket for local
// clients, plus optional TCP+HTTP and WebSocket ports for remote ones.
type ServerConfig struct {
	DataDir      string `mapstructure:"dataDir"`
	SocketPath   string `mapstructure:"socketPath"`
	HTTPPort     int    `mapstructure:"httpPort"`
	WSPort       int    `mapstructure:"wsPort"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// DatabaseConfig holds Store connection configuration. Driver "sqlite" uses
// an embedded file under Path; "postgres" uses the Host/Port/... fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration for the multi-instance
// EventBus backend. An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// MuxConfig holds multiplexer binary and tuning configuration.
type MuxConfig struct {
	Binary        string `mapstructure:"binary"` // e.g. "tmux"
	SSHBinary     string `mapstructure:"sshBinary"`
	TreeCacheTTLMs int    `mapstructure:"treeCacheTtlMs"`
	PollSeconds   int    `mapstructure:"pollSeconds"`   // Orchestrator poll period P
	AutoCloseSeconds int `mapstructure:"autoCloseSeconds"` // AutoCloseMonitor period M
	ReconcileSeconds int `mapstructure:"reconcileSeconds"` // Reconciler period R
	Docker        DockerConfig `mapstructure:"docker"`
}

// DockerConfig holds Docker client configuration for the local-docker
// runtime kind.
type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
}

// RuntimeEntry configures one ssh-mux (or local-mux/local-docker) Runtime
// from the environment at startup (spec §6 "Environment inputs").
type RuntimeEntry struct {
	ID           string `mapstructure:"id"`
	Kind         string `mapstructure:"kind"` // local-mux, ssh-mux, local-docker
	Label        string `mapstructure:"label"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	IdentityFile string `mapstructure:"identityFile"`
	ConfigFile   string `mapstructure:"configFile"`
	Container    string `mapstructure:"container"`
	Enabled      bool   `mapstructure:"enabled"`
}

// ProviderEntry is a per-provider launch override (command, args, env, cwd).
type ProviderEntry struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Cwd     string            `mapstructure:"cwd"`
}

// AuthConfig holds authentication configuration for remote RPC clients.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorktreeConfig holds git-worktree isolation configuration.
type WorktreeConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	BasePath        string `mapstructure:"basePath"`
	DefaultBranch   string `mapstructure:"defaultBranch"`
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"`
}

// MCPConfig configures the MCP bridge exposing daemon operations as tools.
type MCPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

func (m *MuxConfig) TreeCacheTTL() time.Duration {
	return time.Duration(m.TreeCacheTTLMs) * time.Millisecond
}

func (m *MuxConfig) PollInterval() time.Duration {
	return time.Duration(m.PollSeconds) * time.Second
}

func (m *MuxConfig) AutoCloseInterval() time.Duration {
	return time.Duration(m.AutoCloseSeconds) * time.Second
}

func (m *MuxConfig) ReconcileInterval() time.Duration {
	return time.Duration(m.ReconcileSeconds) * time.Second
}

// detectDefaultLogFormat mirrors internal/log's own detection so the logger
// built from Config agrees with the package default before Config is loaded.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TMUXAGENTD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := home + "/.tmux-agents"

	v.SetDefault("server.dataDir", dataDir)
	v.SetDefault("server.socketPath", dataDir+"/daemon.sock")
	v.SetDefault("server.httpPort", 3737)
	v.SetDefault("server.wsPort", 3738)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", dataDir+"/data.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tmuxagentd")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "tmuxagentd")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "tmuxagentd-cluster")
	v.SetDefault("nats.clientId", "tmuxagentd-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("mux.binary", "tmux")
	v.SetDefault("mux.sshBinary", "ssh")
	v.SetDefault("mux.treeCacheTtlMs", 2000)
	v.SetDefault("mux.pollSeconds", 5)
	v.SetDefault("mux.autoCloseSeconds", 30)
	v.SetDefault("mux.reconcileSeconds", 30)
	v.SetDefault("mux.docker.enabled", false)
	v.SetDefault("mux.docker.host", "unix:///var/run/docker.sock")

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("worktree.enabled", true)
	v.SetDefault("worktree.basePath", dataDir+"/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)

	v.SetDefault("mcp.enabled", false)
	v.SetDefault("mcp.addr", "localhost:9190")
}

// Load reads configuration from environment variables, a config file, and
// defaults. Environment variables use the prefix TMUXAGENTD_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TMUXAGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "TMUXAGENTD_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "TMUXAGENTD_EVENTS_NAMESPACE")
	_ = v.BindEnv("server.dataDir", "TMUXAGENTD_DATA_DIR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tmuxagentd/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, "server.httpPort must be between 1 and 65535")
	}
	if cfg.Server.WSPort <= 0 || cfg.Server.WSPort > 65535 {
		errs = append(errs, "server.wsPort must be between 1 and 65535")
	}
	if cfg.Server.SocketPath == "" {
		errs = append(errs, "server.socketPath must be set")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	} else if cfg.Database.Driver != "sqlite" {
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	seen := map[string]bool{}
	for _, rt := range cfg.Runtimes {
		if rt.ID == "" {
			errs = append(errs, "runtimes[].id must be set")
			continue
		}
		if rt.ID == "local" {
			errs = append(errs, "runtime id \"local\" is reserved for the host daemon")
		}
		if seen[rt.ID] {
			errs = append(errs, fmt.Sprintf("duplicate runtime id %q", rt.ID))
		}
		seen[rt.ID] = true
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string for the postgres driver.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// SQLiteDSN returns the go-sqlite3 DSN for the sqlite driver, enforcing
// foreign keys and rwc mode (Store is a single-writer).
func (d *DatabaseConfig) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", d.Path)
}

func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
