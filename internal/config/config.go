package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loopagent/loopagent/internal/chain"
	"github.com/loopagent/loopagent/internal/scheduler"
)

type Config struct {
	Oracle  OracleConfig    `yaml:"oracle"`
	Agent   AgentConfig     `yaml:"agent"`
	Notify  NotifyConfig    `yaml:"notify"`
	Files   FilesConfig     `yaml:"files"`
	Audit   AuditConfig     `yaml:"audit"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Jobs    []scheduler.Job `yaml:"jobs"`
	Lua     []LuaConfig     `yaml:"lua_capabilities"`
}

type OracleConfig struct {
	API     string `yaml:"api"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

func (o OracleConfig) ParseTimeout() (time.Duration, error) {
	if o.Timeout == "" {
		return 60 * time.Second, nil
	}
	return time.ParseDuration(o.Timeout)
}

type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	HistoryWindow int    `yaml:"history_window"`
	PromptPath    string `yaml:"prompt_path"`
	DataDir       string `yaml:"data_dir"`
}

type NotifyConfig struct {
	BaseURL string `yaml:"base_url"`
	Topic   string `yaml:"topic"`
}

type FilesConfig struct {
	Root string `yaml:"root"`
}

type AuditConfig struct {
	Backend   string `yaml:"backend"` // sqlite, postgres, redis, none
	DSN       string `yaml:"dsn"`
	DataDir   string `yaml:"data_dir"`
	RedisAddr string `yaml:"redis_addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LuaConfig declares a script-backed capability.
type LuaConfig struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Script      string          `yaml:"script"`
	Args        []chain.ArgSpec `yaml:"args"`
}

func (l LuaConfig) Descriptor() chain.Descriptor {
	return chain.Descriptor{Name: l.Name, Description: l.Description, Args: l.Args}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandSecrets(cfg *Config) {
	cfg.Oracle.BaseURL = expandEnv(cfg.Oracle.BaseURL)
	cfg.Oracle.APIKey = expandEnv(cfg.Oracle.APIKey)
	cfg.Notify.Topic = expandEnv(cfg.Notify.Topic)
	cfg.Audit.DSN = expandEnv(cfg.Audit.DSN)
	cfg.Audit.RedisAddr = expandEnv(cfg.Audit.RedisAddr)
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = chain.DefaultMaxIterations
	}
	if cfg.Agent.HistoryWindow == 0 {
		cfg.Agent.HistoryWindow = chain.DefaultHistoryWindow
	}
	if cfg.Agent.DataDir == "" {
		cfg.Agent.DataDir = "data"
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "sqlite"
	}
	if cfg.Audit.DataDir == "" {
		cfg.Audit.DataDir = cfg.Agent.DataDir
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
}

func validate(cfg *Config) error {
	if cfg.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	switch cfg.Audit.Backend {
	case "sqlite", "none":
	case "postgres":
		if cfg.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required for the postgres backend")
		}
	case "redis":
		if cfg.Audit.RedisAddr == "" {
			return fmt.Errorf("audit.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
	for _, l := range cfg.Lua {
		if l.Name == "" || l.Script == "" {
			return fmt.Errorf("lua capability requires both name and script")
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandSecrets(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
