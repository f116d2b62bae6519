package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "data")
	r, err := NewResolver(root)
	require.NoError(t, err)
	return r, base
}

func TestCleanRelPath(t *testing.T) {
	cases := map[string]string{
		"":            "",
		".":           "",
		"/":           "",
		"/docs/":      "docs",
		"a//b":        "a/b",
		"a/./b/":      "a/b",
		`a\b`:         "a/b",
		"/../../etc":  "../../etc",
		"a/../../x":   "../x",
		"  /x/y  ":    "x/y",
		"a/b/../c":    "a/c",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanRelPath(in), "input %q", in)
	}
}

func TestNewResolverCreatesRoot(t *testing.T) {
	r, base := newTestResolver(t)
	st, err := os.Stat(filepath.Join(base, "data"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	assert.Equal(t, filepath.Join(base, "data"), r.Root())

	_, err = NewResolver("  ")
	assert.Error(t, err)
}

func TestResolveRejectsTraversal(t *testing.T) {
	r, _ := newTestResolver(t)
	for _, p := range []string{
		"..",
		"../",
		"../data-sibling",
		"/../../etc/passwd",
		"docs/../../outside",
		`..\..\windows`,
		"a/b/../../../x",
		"bad\x00name",
	} {
		got := r.Resolve(p)
		assert.False(t, got.Inside, "path %q resolved to %q", p, got.Path)

		_, err := r.Require(p)
		assert.True(t, errors.Is(err, ErrPathViolation), "path %q", p)
	}
}

func TestResolveAcceptsInside(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "docs", "img"), 0o755))

	for in, rel := range map[string]string{
		"":                  "",
		".":                 "",
		"/docs/":            "docs",
		"docs//img":         "docs/img",
		"docs/img/../":      "docs",
		"docs/new/file.txt": "docs/new/file.txt",
		"/missing/deep/x":   "missing/deep/x",
	} {
		got := r.Resolve(in)
		require.True(t, got.Inside, "path %q", in)
		assert.Equal(t, rel, got.Rel)
		assert.True(t, filepath.IsAbs(got.Path))
		if rel != "" {
			assert.True(t, strings.HasPrefix(got.Path, r.Root()+string(filepath.Separator)))
		} else {
			assert.True(t, got.IsRoot())
		}
	}
}

func TestResolveSymlinks(t *testing.T) {
	r, base := newTestResolver(t)
	root := r.Root()
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real", "a.txt"), []byte("a"), 0o644))

	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "inner")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "nope"), filepath.Join(root, "dangling")))

	in := r.Resolve("inner/a.txt")
	require.True(t, in.Inside)
	assert.Equal(t, filepath.Join(root, "inner", "a.txt"), in.Path)
	assert.True(t, strings.HasSuffix(in.Canonical, filepath.Join("real", "a.txt")))

	assert.False(t, r.Resolve("escape").Inside)
	assert.False(t, r.Resolve("escape/secret.txt").Inside)
	assert.False(t, r.Resolve("escape/new-file").Inside)
	assert.False(t, r.Resolve("dangling").Inside)
}

func TestChildRejectsBadNames(t *testing.T) {
	r, _ := newTestResolver(t)
	dir := r.Resolve("")
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "x\x00"} {
		_, err := r.Child(dir, name)
		assert.True(t, errors.Is(err, ErrInvalidName), "name %q", name)
	}
	got, err := r.Child(dir, "ok.txt")
	require.NoError(t, err)
	assert.Equal(t, "ok.txt", got.Rel)
}

func TestRelOf(t *testing.T) {
	r, base := newTestResolver(t)
	rel, ok := r.RelOf(filepath.Join(r.Root(), "a", "b"))
	assert.True(t, ok)
	assert.Equal(t, "a/b", rel)
	_, ok = r.RelOf(base)
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	_, err := os.Stat(filepath.Join(t.TempDir(), "missing"))
	e := Classify("stat", "missing", err)
	assert.True(t, errors.Is(e, ErrNotFound))
	assert.True(t, errors.Is(e, os.ErrNotExist))
	assert.Equal(t, ErrNotFound, Kind(e))

	// already classified errors keep their kind
	again := Classify("other", "x", e)
	assert.Same(t, e, again)

	assert.Equal(t, ErrIO, Kind(errors.New("boom")))
	assert.Nil(t, Classify("op", "x", nil))
}

func TestMoveFileSameDevice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	require.NoError(t, MoveFile(src, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "sub", "dst.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("copy me"), 0o644))

	require.NoError(t, copyFile(src, dst, 0o640))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "copy me", string(b))

	ents, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, ents, 1, "temp file left behind")
}
