// Package config loads reshook.toml.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/k2io/reshook/internal/logger"
	"github.com/k2io/reshook/resource"
	"github.com/k2io/reshook/sigscan"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "reshook.toml"

// ErrInvalid reports a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

// Mapping is one exact-match path substitution.
type Mapping struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

type Config struct {
	WorkingDirectory  string            `toml:"working_directory"`
	OverrideDir       string            `toml:"override_dir"`
	LogLevel          string            `toml:"log_level"`
	LogEnabled        bool              `toml:"log_enabled"`
	MaxOverrides      int               `toml:"max_overrides"`
	SubstituteContent bool              `toml:"substitute_content"`
	Rewrite           []Mapping         `toml:"rewrite"`
	Redirect          []Mapping         `toml:"redirect"`
	Signatures        map[string]string `toml:"signatures"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		OverrideDir:  "ResourceHook",
		LogLevel:     "debug",
		LogEnabled:   true,
		MaxOverrides: resource.DefaultMaxOverrides,
		Rewrite:      mappings(resource.DefaultRewrites()),
		Redirect:     mappings(resource.DefaultRedirects()),
		Signatures:   resource.DefaultSignatures(),
	}
}

func mappings(m map[string]string) []Mapping {
	out := make([]Mapping, 0, len(m))
	for from, to := range m {
		out = append(out, Mapping{From: from, To: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Load reads the file at path. Keys the file leaves out keep their defaults
// and a missing file yields the defaults. An empty working_directory becomes
// the directory of path.
func Load(path string) (*Config, error) {
	def := Default()
	conf := &Config{}
	md, err := toml.DecodeFile(path, conf)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		conf = def
	case err != nil:
		return nil, fmt.Errorf("load %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
		conf.fill(md, def)
	}
	if conf.WorkingDirectory == "" {
		dir, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, err
		}
		conf.WorkingDirectory = dir
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) fill(md toml.MetaData, def *Config) {
	if !md.IsDefined("override_dir") {
		c.OverrideDir = def.OverrideDir
	}
	if !md.IsDefined("log_level") {
		c.LogLevel = def.LogLevel
	}
	if !md.IsDefined("log_enabled") {
		c.LogEnabled = def.LogEnabled
	}
	if !md.IsDefined("max_overrides") {
		c.MaxOverrides = def.MaxOverrides
	}
	if !md.IsDefined("rewrite") {
		c.Rewrite = def.Rewrite
	}
	if !md.IsDefined("redirect") {
		c.Redirect = def.Redirect
	}
	if c.Signatures == nil {
		c.Signatures = make(map[string]string)
	}
	for name, sig := range def.Signatures {
		if _, ok := c.Signatures[name]; !ok {
			c.Signatures[name] = sig
		}
	}
}

// Validate checks values the engine relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxOverrides <= 0 {
		errs = append(errs, fmt.Errorf("max_overrides must be positive, got %d", c.MaxOverrides))
	}
	if c.OverrideDir == "" {
		errs = append(errs, errors.New("override_dir is empty"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := table("rewrite", c.Rewrite); err != nil {
		errs = append(errs, err)
	}
	if _, err := table("redirect", c.Redirect); err != nil {
		errs = append(errs, err)
	}
	for name, sig := range c.Signatures {
		if _, err := sigscan.Parse(sig); err != nil {
			errs = append(errs, fmt.Errorf("signatures.%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func table(name string, ms []Mapping) (map[string]string, error) {
	out := make(map[string]string, len(ms))
	for i, m := range ms {
		if m.From == "" || m.To == "" {
			return nil, fmt.Errorf("%s[%d]: from and to are required", name, i)
		}
		if _, dup := out[m.From]; dup {
			return nil, fmt.Errorf("%s[%d]: duplicate from %q", name, i, m.From)
		}
		out[m.From] = m.To
	}
	return out, nil
}

// Tables returns the substitution tables for the interception policy.
func (c *Config) Tables() (resource.Tables, error) {
	rewrite, err := table("rewrite", c.Rewrite)
	if err != nil {
		return resource.Tables{}, err
	}
	redirect, err := table("redirect", c.Redirect)
	if err != nil {
		return resource.Tables{}, err
	}
	return resource.NewTables(rewrite, redirect), nil
}

// OverrideRoot is the directory searched for override files.
func (c *Config) OverrideRoot() string {
	if filepath.IsAbs(c.OverrideDir) {
		return c.OverrideDir
	}
	return filepath.Join(c.WorkingDirectory, c.OverrideDir)
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
