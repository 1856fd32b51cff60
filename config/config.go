package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

type Config struct {
	Debug     bool                 `json:"debug" yaml:"debug" toml:"debug"`
	Server    *ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Database  *DatabaseConfig      `json:"database" yaml:"database" toml:"database"`
	Browser   *BrowserConfig       `json:"browser" yaml:"browser" toml:"browser"`
	Scheduler *SchedulerConfig     `json:"scheduler" yaml:"scheduler" toml:"scheduler"`
	Auth      *AuthConfig          `json:"auth" yaml:"auth" toml:"auth"`
	Log       *logger.LoggerConfig `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty"`
}

type ServerConfig struct {
	Port    string `json:"port" toml:"port"`
	Host    string `json:"host" toml:"host"`
	MCPPort string `json:"mcp_port,omitempty" toml:"mcp_port,omitempty"` // streamable HTTP MCP endpoint, disabled when empty
	MCPHost string `json:"mcp_host,omitempty" toml:"mcp_host,omitempty"`
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

type BrowserConfig struct {
	BinPath     string   `json:"bin_path" toml:"bin_path"`
	UserDataDir string   `json:"user_data_dir" toml:"user_data_dir"`
	ControlURL  string   `json:"control_url,omitempty" toml:"control_url,omitempty"` // connect to a running Chrome instead of launching one
	Headless    bool     `json:"headless" toml:"headless"`
	UseStealth  bool     `json:"use_stealth" toml:"use_stealth"`
	UserAgent   string   `json:"user_agent,omitempty" toml:"user_agent,omitempty"`
	Proxy       string   `json:"proxy,omitempty" toml:"proxy,omitempty"`
	LaunchArgs  []string `json:"launch_args,omitempty" toml:"launch_args,omitempty"` // "flag" or "flag=value"
	Trace       bool     `json:"trace,omitempty" toml:"trace,omitempty"`             // log every CDP call
}

type SchedulerConfig struct {
	ScriptTimeout int  `json:"script_timeout" toml:"script_timeout"` // seconds a script may take before it is reported as stalled
	DebugOutput   bool `json:"debug_output" toml:"debug_output"`     // print_message steps go to stdout instead of the log
	KeepPages     bool `json:"keep_pages" toml:"keep_pages"`         // leave the page open after a run
}

// ScriptTimeoutDuration returns the script watchdog as a duration.
func (s *SchedulerConfig) ScriptTimeoutDuration() time.Duration {
	if s == nil || s.ScriptTimeout <= 0 {
		return DefaultScriptTimeout
	}
	return time.Duration(s.ScriptTimeout) * time.Second
}

type AuthConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	AppKey   string `json:"app_key" toml:"app_key"` // JWT signing key
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
}

const (
	DefaultScriptTimeout = 120 * time.Second
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
)

// common Chrome/Chromium install locations
var commonChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
	"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
}

func findChrome() string {
	if envPath := os.Getenv("CHROME_BIN_PATH"); envPath != "" {
		return envPath
	}
	for _, p := range commonChromePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: &DatabaseConfig{
			Path: "./data/autowebkit.db",
		},
		Browser: &BrowserConfig{
			BinPath:     findChrome(),
			UserDataDir: "./chrome_user_data",
			Headless:    true,
			UseStealth:  true,
			UserAgent:   DefaultUserAgent,
		},
		Scheduler: &SchedulerConfig{
			ScriptTimeout: int(DefaultScriptTimeout / time.Second),
		},
		Auth: &AuthConfig{},
		Log: &logger.LoggerConfig{
			Level: "info",
			File:  "./log/autowebkit.log",
		},
	}
}

// Load reads path. A missing file yields the defaults, which are also written
// to path so they can be edited.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		defConfig := Default()
		applyEnv(defConfig)
		if os.IsNotExist(err) {
			if cfgData, merr := toml.Marshal(defConfig); merr == nil {
				if dir := filepath.Dir(path); dir != "" {
					_ = os.MkdirAll(dir, 0o755)
				}
				_ = os.WriteFile(path, cfgData, 0o644)
			}
			return defConfig, nil
		}
		return defConfig, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	// fill sections the file left out
	def := Default()
	if cfg.Server == nil {
		cfg.Server = def.Server
	}
	if cfg.Database == nil {
		cfg.Database = def.Database
	}
	if cfg.Browser == nil {
		cfg.Browser = def.Browser
	}
	if cfg.Browser.BinPath == "" && cfg.Browser.ControlURL == "" {
		cfg.Browser.BinPath = findChrome()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = def.Scheduler
	}
	if cfg.Auth == nil {
		cfg.Auth = def.Auth
	}
	if cfg.Log == nil {
		cfg.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv lets the environment override selected settings.
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if key := os.Getenv("AUTOWEBKIT_APP_KEY"); key != "" {
		cfg.Auth.AppKey = key
	}
}
