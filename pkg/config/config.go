// Package config loads host configuration for the runtime: where the VFS
// and cache-storage databases live, module resolution roots, and size
// caps. Values come from a YAML file (if present) with environment
// variables layered on top, following the teacher's declared stack:
// caarlos0/env for the env layer, yaml.v3 for the file layer.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// Config holds every host-tunable knob the core reads at agent
// construction time.
type Config struct {
	// ModuleRoot is the filesystem root bare specifiers resolve against.
	ModuleRoot string `yaml:"module_root" env:"ANDROMEDA_MODULE_ROOT" envDefault:"."`

	// VFSPath is the SQLite database file backing the virtual filesystem.
	// ":memory:" runs an in-memory store.
	VFSPath string `yaml:"vfs_path" env:"ANDROMEDA_VFS_PATH" envDefault:":memory:"`

	// VFSSizeCapBytes is read and checked to be positive. The VFS does not
	// consult it: it enforces its own fixed vfs.SizeCap (100 MiB) on the
	// total summed chunk bytes across all files.
	VFSSizeCapBytes int64 `yaml:"vfs_size_cap_bytes" env:"ANDROMEDA_VFS_SIZE_CAP" envDefault:"104857600"`

	// CacheStoragePath is the SQLite database backing the HTTP
	// cache-storage extension (spec §6).
	CacheStoragePath string `yaml:"cache_storage_path" env:"ANDROMEDA_CACHE_STORAGE_PATH" envDefault:":memory:"`

	// AsyncWorkers bounds the host's async task spawner pool.
	AsyncWorkers int `yaml:"async_workers" env:"ANDROMEDA_ASYNC_WORKERS" envDefault:"8"`

	// NodeCompatLossyUTF8 preserves the source's lossy-UTF-8 TCP read
	// behaviour instead of the Base64 default (Open Question #2).
	NodeCompatLossyUTF8 bool `yaml:"node_compat_lossy_utf8" env:"ANDROMEDA_NODE_COMPAT_LOSSY_UTF8" envDefault:"false"`

	// HTTPCacheTTLSeconds is read but not applied: the module HTTP
	// loader's in-memory response cache keeps every entry for the life of
	// the loader.
	HTTPCacheTTLSeconds int `yaml:"http_cache_ttl_seconds" env:"ANDROMEDA_HTTP_CACHE_TTL_SECONDS" envDefault:"300"`
}

// Load reads a YAML file (if path is non-empty and exists) and then
// overlays environment variables on top, returning the merged Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, hosterror.Wrap(hosterror.KindConfigError, err, fmt.Sprintf("read config %s", path))
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, hosterror.Wrap(hosterror.KindConfigError, err, "parse config YAML")
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, hosterror.Wrap(hosterror.KindConfigError, err, "parse env config")
	}

	if cfg.AsyncWorkers <= 0 {
		return nil, hosterror.New(hosterror.KindConfigError, "async_workers must be positive")
	}
	if cfg.VFSSizeCapBytes <= 0 {
		return nil, hosterror.New(hosterror.KindConfigError, "vfs_size_cap_bytes must be positive")
	}

	return cfg, nil
}
