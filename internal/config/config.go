package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version   int                `yaml:"version"`
	Network   string             `yaml:"network"`
	Global    GlobalConfig       `yaml:"global"`
	Networks  map[string]Network `yaml:"networks"`
	API       APIConfig          `yaml:"api"`
	Poller    PollerConfig       `yaml:"poller"`
	Chainhook ChainhookConfig    `yaml:"chainhook"`
	Notify    NotifyConfig       `yaml:"notify"`
}

// NotifyConfig describes an optional downstream webhook sink.
type NotifyConfig struct {
	URL      string `yaml:"url"`
	Method   string `yaml:"method"`
	Template string `yaml:"template"`
}

type GlobalConfig struct {
	DBPath string `yaml:"db_path"`
}

// Network pins the contract identity every component must agree on.
// One instance is selected at startup and passed by reference; nothing
// else in the process hardcodes a contract or network name.
type Network struct {
	CoreContract  string `yaml:"core_contract"`
	TokenContract string `yaml:"token_contract"`
	StartBlock    uint64 `yaml:"start_block"`
}

// Contracts returns every contract identifier owned by this deployment.
func (n Network) Contracts() []string {
	out := []string{n.CoreContract}
	if n.TokenContract != "" {
		out = append(out, n.TokenContract)
	}
	return out
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelayMS uint64 `yaml:"base_delay_ms"`
}

// BaseDelay returns the configured base delay, defaulting to 500ms.
func (r RetryConfig) BaseDelay() time.Duration {
	if r.BaseDelayMS == 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

type PollerConfig struct {
	Enabled    bool        `yaml:"enabled"`
	IntervalMS uint64      `yaml:"interval_ms"`
	PageSize   int         `yaml:"page_size"`
	Resume     string      `yaml:"resume"`
	Retry      RetryConfig `yaml:"retry"`
}

// Interval returns the wall-clock delay between poll cycles.
func (p PollerConfig) Interval() time.Duration {
	if p.IntervalMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(p.IntervalMS) * time.Millisecond
}

type ChainhookConfig struct {
	Enabled     bool   `yaml:"enabled"`
	NodeURL     string `yaml:"node_url"`
	AuthToken   string `yaml:"auth_token"`
	CallbackURL string `yaml:"callback_url"`
	ListenAddr  string `yaml:"listen_addr"`
}

// Resume modes for the poll cursor.
const (
	ResumeTip    = "tip"
	ResumeCursor = "cursor"
)

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Active returns the network selected by the top-level network key.
func (c *Config) Active() Network {
	return c.Networks[c.Network]
}

// Validate performs small, direct schema checks. Failures here are fatal
// at startup and never retried.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	switch c.Network {
	case "testnet", "mainnet":
	case "":
		return errors.New("network is required")
	default:
		return fmt.Errorf("unsupported network: %s", c.Network)
	}
	if c.Global.DBPath == "" {
		return errors.New("global.db_path is required")
	}

	net, ok := c.Networks[c.Network]
	if !ok {
		return fmt.Errorf("networks.%s is not defined", c.Network)
	}
	if net.CoreContract == "" {
		return fmt.Errorf("networks.%s.core_contract is required", c.Network)
	}

	if !c.Poller.Enabled && !c.Chainhook.Enabled {
		return errors.New("at least one of poller or chainhook must be enabled")
	}

	if c.Poller.Enabled {
		if c.API.BaseURL == "" {
			return errors.New("api.base_url is required when the poller is enabled")
		}
		switch c.Poller.Resume {
		case "", ResumeTip, ResumeCursor:
		default:
			return fmt.Errorf("unsupported poller.resume mode: %s", c.Poller.Resume)
		}
		if c.Poller.PageSize < 0 || c.Poller.PageSize > 50 {
			return errors.New("poller.page_size must be between 0 and 50")
		}
		if c.Poller.Retry.MaxAttempts < 0 {
			return errors.New("poller.retry.max_attempts must not be negative")
		}
	}

	if c.Chainhook.Enabled {
		if c.Chainhook.NodeURL == "" {
			return errors.New("chainhook.node_url is required when chainhook is enabled")
		}
		if c.Chainhook.CallbackURL == "" {
			return errors.New("chainhook.callback_url is required when chainhook is enabled")
		}
		if c.Chainhook.ListenAddr == "" {
			return errors.New("chainhook.listen_addr is required when chainhook is enabled")
		}
	}

	return nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
