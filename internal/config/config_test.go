package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.True(t, filepath.IsAbs(cfg.Root))
	assert.True(t, filepath.IsAbs(cfg.StateDir))
	assert.Equal(t, DefaultMaxUploadSize, cfg.MaxUploadSize)
	assert.Equal(t, DefaultUploadTimeout, cfg.UploadTimeout)
	assert.Equal(t, "notes.txt", cfg.NotesName)
	assert.Equal(t, 9, cfg.Zip.Level)
	assert.True(t, cfg.Zip.StoreCompressed)
	assert.True(t, cfg.WebDAV)
	assert.False(t, cfg.TLS.Enabled())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fileroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root: /srv/files
max_upload_size: 1048576
upload_timeout: 90s
zip:
  level: 5
log:
  level: debug
`), 0o644))

	t.Setenv("FILEROOM_NOTES_NAME", "README.txt")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", DefaultAddr, "")
	flags.String("root", "", "")
	require.NoError(t, flags.Parse([]string{"--addr", "127.0.0.1:9999"}))

	cfg, v, err := Load(path, flags)
	require.NoError(t, err)
	assert.NotNil(t, v)

	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, filepath.Clean("/srv/files"), cfg.Root)
	assert.EqualValues(t, 1<<20, cfg.MaxUploadSize)
	assert.Equal(t, 90*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 5, cfg.Zip.Level)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "README.txt", cfg.NotesName)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Root:          t.TempDir(),
			StateDir:      t.TempDir(),
			MaxUploadSize: 1,
			NotesName:     "notes.txt",
			Zip:           ZipConfig{Level: 9},
		}
	}

	c := base()
	require.NoError(t, c.Validate())

	for name, mutate := range map[string]func(*Config){
		"empty root":      func(c *Config) { c.Root = " " },
		"zero upload":     func(c *Config) { c.MaxUploadSize = 0 },
		"negative wait":   func(c *Config) { c.UploadTimeout = -time.Second },
		"notes with dir":  func(c *Config) { c.NotesName = "a/notes.txt" },
		"zip level":       func(c *Config) { c.Zip.Level = 12 },
		"half tls":        func(c *Config) { c.TLS.CertFile = "cert.pem" },
		"tls and acme":    func(c *Config) { c.TLS = TLSConfig{CertFile: "c", KeyFile: "k", AutocertHosts: []string{"x"}} },
		"state in root":   func(c *Config) { c.StateDir = filepath.Join(c.Root, ".fileroom") },
		"state is root":   func(c *Config) { c.StateDir = c.Root },
	} {
		c := base()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}

	c = base()
	c.StateDir = c.Root + "-state" // sibling with a shared prefix is fine
	require.NoError(t, c.Validate())

	c = base()
	c.TLS.AutocertHosts = []string{"files.example.com"}
	require.NoError(t, c.Validate())
	assert.Equal(t, filepath.Join(c.StateDir, "autocert"), c.TLS.AutocertCache)
	assert.True(t, c.TLS.Enabled())
}
