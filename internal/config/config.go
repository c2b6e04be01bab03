package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"tunnel-keeper/internal/env"

	"github.com/spf13/viper"
)

/**
 * Server configuration parameters
 * @property {string} address - Server listening address (e.g. ":8080")
 * @property {string} mode - Application mode (debug/release/test)
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path ("console" for stdout)
 */
type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

/**
 * Persistent-mode relay settings
 * @property {string} username - Relay tunnel account
 * @property {int} restart_sec - Fixed supervisor restart backoff (seconds)
 * @property {int} start_timeout_sec - Grace period waiting for active
 */
type RelayConfig struct {
	Username        string `mapstructure:"username"`
	RestartSec      int    `mapstructure:"restart_sec"`
	StartTimeoutSec int    `mapstructure:"start_timeout_sec"`
	UnitDir         string `mapstructure:"unit_dir"`
}

/**
 * Ephemeral-mode relay settings. The public relay assigns the external
 * endpoint at connection time; it is recovered by scanning the client log
 * for the banner pattern.
 * @property {string} relay_host - Public relay host (serveo.net)
 * @property {int} local_port - Local service port (env WEB_SERVICE_LOCALHOST_PORT)
 * @property {string} log_file - Client log sink (env LOG_FILE)
 * @property {string} banner_pattern - Regexp with the endpoint URL as group 1
 * @property {int} resolve_timeout_sec - Bounded wait for the banner to appear
 */
type EphemeralConfig struct {
	RelayHost         string `mapstructure:"relay_host"`
	RemotePort        int    `mapstructure:"remote_port"`
	LocalPort         int    `mapstructure:"local_port"`
	LogFile           string `mapstructure:"log_file"`
	BannerPattern     string `mapstructure:"banner_pattern"`
	ResolveTimeoutSec int    `mapstructure:"resolve_timeout_sec"`
}

/**
 * Tunnel client invocation, expanded with text/template against TunnelArgs
 */
type TunnelConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

type EnsureConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
}

type ReportConfig struct {
	WebhookUrl string `mapstructure:"webhook_url"`
	Instance   string `mapstructure:"instance"`
}

type MetricsConfig struct {
	Pushgateway string `mapstructure:"pushgateway"`
}

var ErrTunnelNotConfigured = errors.New("tunnel client not configured")

type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Ephemeral EphemeralConfig `mapstructure:"ephemeral"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Ensure    EnsureConfig    `mapstructure:"ensure"`
	Report    ReportConfig    `mapstructure:"report"`
}

/**
 * Load application configuration from YAML file
 */
func LoadConfig() (*AppConfig, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(env.KeeperDir)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var Config AppConfig

func collectConfig(cfg *AppConfig) *AppConfig {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8999"
	}
	if cfg.Relay.Username == "" {
		cfg.Relay.Username = "tunnel"
	}
	if cfg.Relay.RestartSec == 0 {
		cfg.Relay.RestartSec = 10
	}
	if cfg.Relay.StartTimeoutSec == 0 {
		cfg.Relay.StartTimeoutSec = 10
	}
	if cfg.Relay.UnitDir == "" {
		cfg.Relay.UnitDir = "/etc/systemd/system"
	}
	if cfg.Ephemeral.RelayHost == "" {
		cfg.Ephemeral.RelayHost = "serveo.net"
	}
	if cfg.Ephemeral.RemotePort == 0 {
		cfg.Ephemeral.RemotePort = 80
	}
	if cfg.Ephemeral.LocalPort == 0 {
		cfg.Ephemeral.LocalPort = envInt("WEB_SERVICE_LOCALHOST_PORT", 8080)
	}
	if cfg.Ephemeral.LogFile == "" {
		cfg.Ephemeral.LogFile = envString("LOG_FILE", filepath.Join(os.TempDir(), "serveo-tunnel.log"))
	}
	if cfg.Ephemeral.BannerPattern == "" {
		cfg.Ephemeral.BannerPattern = `Forwarding HTTP traffic from (https://\S+)`
	}
	if cfg.Ephemeral.ResolveTimeoutSec == 0 {
		cfg.Ephemeral.ResolveTimeoutSec = 2
	}
	if cfg.Tunnel.Command == "" {
		cfg.Tunnel.Command = "ssh"
	}
	if len(cfg.Tunnel.Args) == 0 {
		cfg.Tunnel.Args = []string{
			"-N", "-T",
			"-o", "StrictHostKeyChecking=no",
			"-o", "ExitOnForwardFailure=yes",
			"-o", "ServerAliveInterval=30",
			"-o", "ServerAliveCountMax=3",
			"-R", "{{.RemotePort}}:0.0.0.0:{{.LocalPort}}",
			"{{.Target}}",
		}
	}
	if cfg.Ensure.IntervalSec == 0 {
		cfg.Ensure.IntervalSec = 60
	}
	if cfg.Report.Instance == "" {
		hostname, _ := os.Hostname()
		cfg.Report.Instance = hostname
	}
	return cfg
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func envString(name string, def string) string {
	if s := os.Getenv(name); s != "" {
		return s
	}
	return def
}

// ReloadConfig re-reads the config file, keeping defaults for anything unset.
func ReloadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	Config = *cfg
	collectConfig(&Config)
	return nil
}

func Get() *AppConfig {
	return &Config
}

func init() {
	cfg, err := LoadConfig()
	if err == nil {
		Config = *cfg
	}
	collectConfig(&Config)
}
