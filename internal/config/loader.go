package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. FILEROOM_ROOT.
const EnvPrefix = "FILEROOM"

var envReplacer = strings.NewReplacer(".", "_")

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"addr":      "addr",
	"root":      "root",
	"state":     "state_dir",
	"log-level": "log.level",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("state_dir", "")
	v.SetDefault("max_upload_size", DefaultMaxUploadSize)
	v.SetDefault("upload_timeout", DefaultUploadTimeout)
	v.SetDefault("notes_name", DefaultNotesName)
	v.SetDefault("zip.level", 9)
	v.SetDefault("zip.store_compressed", true)
	v.SetDefault("webdav", true)
	v.SetDefault("metrics", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.autocert_hosts", []string{})
	v.SetDefault("tls.autocert_cache", "")
}

// Load reads defaults, the optional config file at path, FILEROOM_* env
// vars and any changed flags, in increasing priority. The returned viper
// instance can be passed to Watch.
func Load(path string, flags *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) {
				return nil, nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and hands the new values to
// fn. Only settings that are safe to change at runtime should be applied
// by fn; the root in particular stays fixed for the process lifetime.
func Watch(v *viper.Viper, fn func(*Config, fsnotify.Event)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			return
		}
		fn(cfg, e)
	})
	v.WatchConfig()
}
