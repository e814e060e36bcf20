// Package config decodes the project configuration file (taskweave.toml)
// that sits at the project root alongside the state store directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"taskweave/internal/errs"
)

// Config holds the run-level knobs: force mode and dry-run, the stop
// policy, lockfile sweeping and path-casing checks, and the default
// filterwarnings set applied to every task.
type Config struct {
	Paths []string `toml:"paths"`

	Force  bool `toml:"force"`
	DryRun bool `toml:"dry_run"`

	StopAfterFirstFailure bool `toml:"stop_after_first_failure"`
	MaxFailures           int  `toml:"max_failures"`

	CheckCasingOfPaths bool `toml:"check_casing_of_paths"`
	CleanLockfile      bool `toml:"clean_lockfile"`

	Filterwarnings []string `toml:"filterwarnings"`
}

// Default returns the zero-value configuration augmented with the defaults
// the core assumes when a key is absent from the file: no stop policy,
// warnings neither promoted nor silenced.
func Default() Config {
	return Config{Paths: []string{"."}}
}

// Load reads and decodes path. A missing file is not an error; the caller
// gets Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errs.Wrap(errs.KindConfiguration, "", err, "read config %q", path)
	}

	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, errs.Wrap(errs.KindConfiguration, "", err, "parse config %q", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errs.New(errs.KindConfiguration, "", "config %q: unknown keys %v", path, undecoded)
	}
	if cfg.MaxFailures < 0 {
		return Config{}, errs.New(errs.KindConfiguration, "", "config %q: max_failures must not be negative", path)
	}
	return cfg, nil
}

// LoadFromRoot reads "taskweave.toml" directly under rootDir.
func LoadFromRoot(rootDir string) (Config, error) {
	return Load(filepath.Join(rootDir, "taskweave.toml"))
}

func (c Config) String() string {
	return fmt.Sprintf("Config{paths=%v force=%v dry_run=%v stop_after_first_failure=%v max_failures=%d}",
		c.Paths, c.Force, c.DryRun, c.StopAfterFirstFailure, c.MaxFailures)
}
