// Package config loads lea's configuration, layering defaults, the lea.yaml
// project file, LEA_ environment variables and command line flags, in that
// order.
package config

import (
	"log/slog"
	"os"
	"os/user"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/carbonfact/lea/internal/warehouse"
	"github.com/carbonfact/lea/pkg/core"
)

// DefaultFile is the project configuration file looked up in the working
// directory.
const DefaultFile = "lea.yaml"

// Config is the fully resolved configuration of a command.
type Config struct {
	// Scripts is the root directory of the SQL project.
	Scripts string `koanf:"scripts"`
	// Username namespaces development environments.
	Username string `koanf:"username"`
	// Concurrency bounds parallel warehouse queries.
	Concurrency int `koanf:"concurrency"`
	// State is the path of the SQLite run ledger.
	State     string           `koanf:"state"`
	Warehouse warehouse.Config `koanf:"warehouse"`
	Log       Log              `koanf:"log"`
}

// Log configures the logger.
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() map[string]any {
	return map[string]any{
		"scripts":        "scripts",
		"concurrency":    core.DefaultConcurrency,
		"state":          ".lea/state.db",
		"warehouse.type": "duckdb",
		"warehouse.path": "lea.duckdb",
		"log.level":      "info",
		"log.format":     "text",
	}
}

// Load resolves the configuration. The file is optional unless the caller
// named one explicitly; flags may be nil.
func Load(path string, explicit bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, core.Configf("reading %s: %v", path, err)
		}
	} else if explicit {
		return nil, core.Configf("config file %s not found", path)
	}

	if err := k.Load(env.Provider("LEA_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "LEA_")), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, core.Configf("parsing configuration: %v", err)
	}

	if cfg.Username == "" {
		if u, err := user.Current(); err == nil {
			cfg.Username = u.Username
		}
	}
	return &cfg, nil
}

// Logger builds the process logger from the log settings.
func (c *Config) Logger(out *os.File) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}
