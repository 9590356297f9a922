// Package config loads the process configuration of the contributions tooling
// from a YAML file, CONTRIBUTIONS_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ocm.software/open-component-model/contribution/runtime"
	"ocm.software/open-component-model/contribution/storage"
)

const (
	EnvPrefix = "CONTRIBUTIONS"
	// EnvConfig names a config file when no path is passed explicitly.
	EnvConfig = EnvPrefix + "_CONFIG"

	StorageTypeFlag = "storage-type"
	StoragePathFlag = "storage-path"
)

// storageKeys are the storage fields that can be overridden from the environment.
// Viper lowercases all keys, the typed storage specs are matched case-insensitively.
var storageKeys = []string{"type", "path", "bucket", "prefix", "region", "endpoint", "usepathstyle"}

var boolStorageKeys = []string{"usepathstyle"}

type Config struct {
	// Storage selects and configures the storage backend, for example
	//
	//	storage:
	//	  type: FileSystemStorage/v1alpha1
	//	  path: /var/lib/contributions
	Storage  *runtime.Raw   `mapstructure:"-"`
	Server   ServerConfig   `mapstructure:"server"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type RecoveryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// LogConfig holds logging defaults. Log flags passed on the command line take precedence.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// DefaultDir returns the directory searched for config.yaml when no file is named.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "contributions")
}

// Load reads the configuration. path may be empty, in which case CONTRIBUTIONS_CONFIG
// or config.yaml in DefaultDir is used if present. flags may be nil; the storage flags
// found in it override file and environment values when set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("storage.type", storage.DefaultType.String())
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("recovery.initial_interval", "250ms")
	v.SetDefault("recovery.max_elapsed_time", "30s")

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else if dir := DefaultDir(); dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range storageKeys {
		if err := v.BindEnv("storage." + key); err != nil {
			return nil, fmt.Errorf("binding environment for storage.%s failed: %w", key, err)
		}
	}

	if flags != nil {
		for key, name := range map[string]string{"storage.type": StorageTypeFlag, "storage.path": StoragePathFlag} {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("binding flag %q failed: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	raw, err := storageSpec(v)
	if err != nil {
		return nil, err
	}
	cfg.Storage = raw
	return &cfg, nil
}

// storageSpec collects the storage section, including keys only present in the
// environment or flags, into a typed raw spec.
func storageSpec(v *viper.Viper) (*runtime.Raw, error) {
	keys := slices.Clone(storageKeys)
	for key := range v.GetStringMap("storage") {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}

	values := make(map[string]any, len(keys))
	for _, key := range keys {
		full := "storage." + key
		if !v.IsSet(full) {
			continue
		}
		if slices.Contains(boolStorageKeys, key) {
			values[key] = v.GetBool(full)
			continue
		}
		values[key] = v.Get(full)
	}
	// an empty value (for example an unset flag) does not override a backend default
	for key, value := range values {
		if s, ok := value.(string); ok && s == "" {
			delete(values, key)
		}
	}

	raw, err := runtime.NewRaw(values)
	if err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	return raw, nil
}
