// Package config holds the runner's persistent settings: which kernel
// backend to use and how to reach it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/waldiez/jupyter-runner/paths"
)

// Backend selects the kernel implementation.
type Backend string

const (
	BackendJupyter    Backend = "jupyter"
	BackendSubprocess Backend = "subprocess"
)

// Defaults applied by Load for fields missing from the file.
const (
	DefaultServerURL  = "http://localhost:8888"
	DefaultKernelName = "python3"
	DefaultPython     = "python3"
)

// TokenEnvVar fills an empty Jupyter token.
const TokenEnvVar = "JUPYTER_TOKEN"

// Config holds the application configuration
type Config struct {
	Backend    Backend    `yaml:"backend"`
	Jupyter    Jupyter    `yaml:"jupyter"`
	Subprocess Subprocess `yaml:"subprocess"`
	Debug      bool       `yaml:"debug,omitempty"`      // debug level logging
	LogFile    string     `yaml:"log_file,omitempty"`   // overrides the default log path
	StreamLog  bool       `yaml:"stream_log,omitempty"` // mirror kernel output to a per-run file

	mu           sync.RWMutex
	filePath     string
	tokenFromEnv bool
}

// Jupyter configures the Jupyter server backend.
type Jupyter struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token,omitempty"`
	KernelID   string `yaml:"kernel_id,omitempty"` // attach to this kernel instead of starting one
	KernelName string `yaml:"kernel_name,omitempty"`
}

// Subprocess configures the local interpreter backend.
type Subprocess struct {
	Python     string   `yaml:"python"`
	WorkingDir string   `yaml:"working_dir,omitempty"`
	Env        []string `yaml:"env,omitempty"` // KEY=VALUE entries added to the environment
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the config from the default location, or returns defaults if
// the file doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields the defaults
// bound to path, so a later Save creates it.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if cfg.Jupyter.Token == "" {
		if token := os.Getenv(TokenEnvVar); token != "" {
			cfg.Jupyter.Token = token
			cfg.tokenFromEnv = true
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills empty fields. Not thread-safe; only called before the
// Config is shared.
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendJupyter
	}
	if c.Jupyter.URL == "" {
		c.Jupyter.URL = DefaultServerURL
	}
	if c.Jupyter.KernelName == "" {
		c.Jupyter.KernelName = DefaultKernelName
	}
	if c.Subprocess.Python == "" {
		c.Subprocess.Python = DefaultPython
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Backend {
	case BackendJupyter:
		u, err := url.Parse(c.Jupyter.URL)
		if err != nil {
			return fmt.Errorf("invalid jupyter url %q: %w", c.Jupyter.URL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid jupyter url %q: want http(s)://host[:port]", c.Jupyter.URL)
		}
	case BackendSubprocess:
		if strings.TrimSpace(c.Subprocess.Python) == "" {
			return fmt.Errorf("subprocess backend needs a python executable")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendJupyter, BackendSubprocess)
	}

	for _, kv := range c.Subprocess.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("invalid env entry %q: want KEY=VALUE", kv)
		}
	}
	return nil
}

// Save writes the config to disk. A token taken from the environment is
// not written.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return errors.New("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	token := c.Jupyter.Token
	if c.tokenFromEnv {
		c.Jupyter.Token = ""
	}
	data, err := yaml.Marshal(c)
	c.Jupyter.Token = token
	if err != nil {
		return err
	}

	// The token is a credential.
	return os.WriteFile(c.filePath, data, 0600)
}

// FilePath returns where Save writes.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// GetBackend returns the configured backend.
func (c *Config) GetBackend() Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Backend
}

// JupyterSettings returns a copy of the Jupyter settings.
func (c *Config) JupyterSettings() Jupyter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Jupyter
}

// SubprocessSettings returns a copy of the subprocess settings.
func (c *Config) SubprocessSettings() Subprocess {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Subprocess
	s.Env = append([]string(nil), c.Subprocess.Env...)
	return s
}

// setters maps the keys accepted by Set to the field they write.
var setters = map[string]func(c *Config, v string) error{
	"backend": func(c *Config, v string) error {
		c.Backend = Backend(v)
		return nil
	},
	"jupyter.url": func(c *Config, v string) error {
		c.Jupyter.URL = strings.TrimRight(v, "/")
		return nil
	},
	"jupyter.token": func(c *Config, v string) error {
		c.Jupyter.Token = v
		c.tokenFromEnv = false
		return nil
	},
	"jupyter.kernel_id": func(c *Config, v string) error {
		c.Jupyter.KernelID = v
		return nil
	},
	"jupyter.kernel_name": func(c *Config, v string) error {
		c.Jupyter.KernelName = v
		return nil
	},
	"subprocess.python": func(c *Config, v string) error {
		c.Subprocess.Python = v
		return nil
	},
	"subprocess.working_dir": func(c *Config, v string) error {
		c.Subprocess.WorkingDir = v
		return nil
	},
	"debug": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("debug: %w", err)
		}
		c.Debug = b
		return nil
	},
	"stream_log": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("stream_log: %w", err)
		}
		c.StreamLog = b
		return nil
	},
	"log_file": func(c *Config, v string) error {
		c.LogFile = v
		return nil
	},
}

// Keys returns the keys accepted by Set, sorted.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the dotted key and validates the result. On failure
// the config is left unchanged.
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	c.mu.Lock()
	prev := c.snapshotLocked()
	if err := set(c, value); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	if err := c.Validate(); err != nil {
		c.mu.Lock()
		c.restoreLocked(prev)
		c.mu.Unlock()
		return err
	}
	return nil
}

type settings struct {
	backend      Backend
	jupyter      Jupyter
	subprocess   Subprocess
	debug        bool
	logFile      string
	streamLog    bool
	tokenFromEnv bool
}

func (c *Config) snapshotLocked() settings {
	return settings{c.Backend, c.Jupyter, c.Subprocess, c.Debug, c.LogFile, c.StreamLog, c.tokenFromEnv}
}

func (c *Config) restoreLocked(s settings) {
	c.Backend, c.Jupyter, c.Subprocess = s.backend, s.jupyter, s.subprocess
	c.Debug, c.LogFile, c.StreamLog, c.tokenFromEnv = s.debug, s.logFile, s.streamLog, s.tokenFromEnv
}

// String renders the config as YAML with the token masked.
func (c *Config) String() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	masked := struct {
		Backend    Backend    `yaml:"backend"`
		Jupyter    Jupyter    `yaml:"jupyter"`
		Subprocess Subprocess `yaml:"subprocess"`
		Debug      bool       `yaml:"debug"`
		LogFile    string     `yaml:"log_file,omitempty"`
		StreamLog  bool       `yaml:"stream_log"`
	}{c.Backend, c.Jupyter, c.Subprocess, c.Debug, c.LogFile, c.StreamLog}
	if masked.Jupyter.Token != "" {
		masked.Jupyter.Token = "********"
	}
	data, err := yaml.Marshal(masked)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
