package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "REGSCAN"

// newViper builds a Viper instance with YAML file type, REGSCAN_ env prefix
// and "." -> "_" key mapping, so "database.host" resolves to
// REGSCAN_DATABASE_HOST. Every known key is bound up front; viper only
// consults the environment for keys it has seen.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, reflect.TypeOf(Config{}), "")
	setBoolDefaults(v)
	return v
}

// setBoolDefaults holds the defaults ApplyDefaults cannot express.
func setBoolDefaults(v *viper.Viper) {
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("engine.peers", true)
	v.SetDefault("sinks.postgres", true)
	v.SetDefault("sinks.redis", true)
}

func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if opts == "squash" {
			bindEnvs(v, f.Type, prefix)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath, merges REGSCAN_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from REGSCAN_* environment variables alone.
//
//	REGSCAN_<SECTION>_<FIELD>   e.g.  REGSCAN_DATABASE_HOST, REGSCAN_SINKS_KAFKA
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrEnv loads configPath when it is set and falls back to the
// environment otherwise.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch reloads configPath whenever it changes on disk and passes the new
// Config together with the triggering event to onChange. Reloads that fail
// to parse or validate are logged and skipped. Callers apply only the subset
// of settings that is safe to change at runtime, such as the log level.
func Watch(configPath string, logger logging.Logger, onChange func(*Config, fsnotify.Event)) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			logger.Warn("ignoring invalid configuration reload",
				logging.String("file", e.Name),
				logging.String("op", e.Op.String()),
				logging.Err(err),
			)
			return
		}
		logger.Info("configuration reloaded", logging.String("file", e.Name))
		onChange(cfg, e)
	})
	v.WatchConfig()
	return nil
}

// MustLoad is Load that panics on error, for use in main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
