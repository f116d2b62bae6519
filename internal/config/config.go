package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultAddr          = "0.0.0.0:3000"
	DefaultRoot          = "./data"
	DefaultMaxUploadSize = int64(5) << 30 // 5 GiB
	DefaultUploadTimeout = time.Hour
	DefaultNotesName     = "notes.txt"
)

// Config is the whole server configuration. It is small and flat enough to
// live in a single YAML/JSON/TOML file, env vars (FILEROOM_*) or flags.
type Config struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr"`

	// Root is the directory served. Every client path is relative to it.
	Root string `mapstructure:"root"`

	// StateDir stores resumable upload parts and thumbnails. It should live
	// outside Root so clients never see it.
	StateDir string `mapstructure:"state_dir"`

	// MaxUploadSize caps a single uploaded file, in bytes.
	MaxUploadSize int64 `mapstructure:"max_upload_size"`

	// UploadTimeout bounds a single upload request; 0 disables it.
	UploadTimeout time.Duration `mapstructure:"upload_timeout"`

	// NotesName is the reserved per-directory annotation file.
	NotesName string `mapstructure:"notes_name"`

	Zip ZipConfig `mapstructure:"zip"`

	// WebDAV mounts the root read-write under /dav/.
	WebDAV bool `mapstructure:"webdav"`

	// Metrics exposes /metrics.
	Metrics bool `mapstructure:"metrics"`

	Log LogConfig `mapstructure:"log"`
	TLS TLSConfig `mapstructure:"tls"`
}

type ZipConfig struct {
	// Level is the deflate level, -1 (default) to 9 (best).
	Level int `mapstructure:"level"`
	// StoreCompressed skips deflate for already-compressed formats.
	StoreCompressed bool `mapstructure:"store_compressed"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// AutocertHosts enables ACME certificates for these host names.
	AutocertHosts []string `mapstructure:"autocert_hosts"`
	AutocertCache string   `mapstructure:"autocert_cache"`
}

// Enabled reports whether the server should listen with TLS.
func (t TLSConfig) Enabled() bool {
	return (t.CertFile != "" && t.KeyFile != "") || len(t.AutocertHosts) > 0
}

// Validate checks the configuration and fills derived values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("config: root: %w", err)
	}
	c.Root = abs

	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.StateDir, err = filepath.Abs(c.StateDir); err != nil {
		return fmt.Errorf("config: state_dir: %w", err)
	}
	// upload parts and thumbnails must not be reachable through the API
	if under(c.Root, c.StateDir) || under(evalOr(c.Root), evalOr(c.StateDir)) {
		return fmt.Errorf("config: state_dir %s must not be inside root %s", c.StateDir, c.Root)
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("config: max_upload_size must be positive, got %d", c.MaxUploadSize)
	}
	if c.UploadTimeout < 0 {
		return fmt.Errorf("config: upload_timeout must not be negative")
	}
	if c.NotesName == "" || strings.ContainsAny(c.NotesName, "/\\") {
		return fmt.Errorf("config: notes_name %q is not a plain file name", c.NotesName)
	}
	if c.Zip.Level < -1 || c.Zip.Level > 9 {
		return fmt.Errorf("config: zip.level must be between -1 and 9, got %d", c.Zip.Level)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("config: tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.CertFile != "" && len(c.TLS.AutocertHosts) > 0 {
		return errors.New("config: tls cert files and autocert_hosts are mutually exclusive")
	}
	if len(c.TLS.AutocertHosts) > 0 && c.TLS.AutocertCache == "" {
		c.TLS.AutocertCache = filepath.Join(c.StateDir, "autocert")
	}
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "fileroom")
	}
	return filepath.Join(os.TempDir(), "fileroom")
}

// under reports whether p is dir itself or lies below it.
func under(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func evalOr(p string) string {
	if e, err := filepath.EvalSymlinks(p); err == nil {
		return e
	}
	return p
}
