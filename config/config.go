// Package config loads issue-sync settings from defaults, a config file and
// the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/signadot/issue-sync/codec"
)

const EnvPrefix = "ISSUE_SYNC_"

type GitHub struct {
	Token   string  `koanf:"token"`
	APIURL  string  `koanf:"api_url"`
	Rate    float64 `koanf:"rate"`
	Retries int     `koanf:"retries"`
}

type Fetch struct {
	Parallel int `koanf:"parallel"`
}

type Config struct {
	DataDir          string `koanf:"data_dir"`
	StateDir         string `koanf:"state_dir"`
	DefaultExtension string `koanf:"default_extension"`
	Editor           string `koanf:"editor"`
	GitHub           GitHub `koanf:"github"`
	Fetch            Fetch  `koanf:"fetch"`

	// Source is the file the config was read from, if any.
	Source string `koanf:"-"`

	k *koanf.Koanf
}

func defaults() map[string]any {
	return map[string]any{
		"data_dir":          xdgDir("XDG_DATA_HOME", ".local/share"),
		"state_dir":         xdgDir("XDG_STATE_HOME", ".local/state"),
		"default_extension": "md",
		"github.api_url":    "https://api.github.com",
		"github.rate":       5.0,
		"github.retries":    3,
		"fetch.parallel":    4,
	}
}

func xdgDir(env, fallback string) string {
	if d := os.Getenv(env); d != "" {
		return filepath.Join(d, "issue-sync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".issue-sync")
	}
	return filepath.Join(home, fallback, "issue-sync")
}

// DefaultPaths lists the config files tried when none is given.
func DefaultPaths() []string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	base := filepath.Join(dir, "issue-sync")
	return []string{
		filepath.Join(base, "config.toml"),
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
	}
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser(), nil
	case ".yaml", ".yml":
		return YAML(), nil
	}
	return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
}

// envKey maps ISSUE_SYNC_GITHUB_API_URL to github.api_url.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range []string{"github", "fetch"} {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + key[len(section)+1:]
		}
	}
	return key
}

// Load reads the configuration. An empty path tries ISSUE_SYNC_CONFIG and
// then the default locations; a missing default file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	source := ""
	if path != "" {
		p, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), p); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		source = path
	} else {
		for _, dp := range DefaultPaths() {
			if _, err := os.Stat(dp); err != nil {
				continue
			}
			p, _ := parserFor(dp)
			if err := k.Load(file.Provider(dp), p); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", dp, err)
			}
			source = dp
			break
		}
	}

	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		if err := k.Load(confmap.Provider(map[string]any{"github.token": tok}, "."), nil); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.Source = source
	cfg.k = k
	return &cfg, nil
}

// Validate checks values that would only fail later.
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if _, err := codec.ParseDialect(cfg.DefaultExtension); err != nil {
		return fmt.Errorf("default_extension: %w", err)
	}
	if cfg.GitHub.Rate <= 0 {
		return fmt.Errorf("github.rate must be positive")
	}
	if cfg.GitHub.Retries < 0 {
		return fmt.Errorf("github.retries must not be negative")
	}
	if cfg.Fetch.Parallel < 1 {
		return fmt.Errorf("fetch.parallel must be at least 1")
	}
	return nil
}

// IssuesDir is the root of the issue files and of their git history.
func (c *Config) IssuesDir() string {
	return filepath.Join(c.DataDir, "issues")
}

func (c *Config) ConflictsDir() string {
	return filepath.Join(c.StateDir, "conflicts")
}

func (c *Config) Dialect() codec.Dialect {
	d, _ := codec.ParseDialect(c.DefaultExtension)
	return d
}

// Get returns the effective value of a dotted key.
func (c *Config) Get(key string) (any, bool) {
	if c.k == nil || !c.k.Exists(key) {
		return nil, false
	}
	return c.k.Get(key), true
}

// Keys lists every effective key, sorted.
func (c *Config) Keys() []string {
	if c.k == nil {
		return nil
	}
	keys := c.k.Keys()
	sort.Strings(keys)
	return keys
}

const sampleConfig = `# issue-sync configuration

# data_dir = "~/.local/share/issue-sync"
# state_dir = "~/.local/state/issue-sync"
default_extension = "md"
# editor = "vim"

[github]
# token = "ghp_..."
api_url = "https://api.github.com"
rate = 5.0
retries = 3

[fetch]
parallel = 4
`

// Init writes a sample configuration file.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o600)
}
