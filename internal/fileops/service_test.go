package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileroom/internal/fsutil"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	base := t.TempDir()
	res, err := fsutil.NewResolver(filepath.Join(base, "data"))
	require.NoError(t, err)
	return New(res, "notes.txt"), res.Root()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func byName(ents []Entry) map[string]Entry {
	m := make(map[string]Entry, len(ents))
	for _, e := range ents {
		m[e.Name] = e
	}
	return m
}

func TestListDocsScenario(t *testing.T) {
	svc, root := newTestService(t)
	writeFile(t, filepath.Join(root, "docs", "a.txt"), "0123456789")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "img"), 0o755))

	ents, err := svc.List(context.Background(), "/docs/")
	require.NoError(t, err)
	require.Len(t, ents, 2)

	m := byName(ents)
	a := m["a.txt"]
	assert.False(t, a.IsDirectory)
	require.NotNil(t, a.Size)
	assert.EqualValues(t, 10, *a.Size)
	assert.NotNil(t, a.ModifiedAt)

	img := m["img"]
	assert.True(t, img.IsDirectory)
	assert.Nil(t, img.Size)
}

func TestListErrors(t *testing.T) {
	svc, root := newTestService(t)
	writeFile(t, filepath.Join(root, "file.txt"), "x")
	ctx := context.Background()

	_, err := svc.List(ctx, "missing")
	assert.True(t, errors.Is(err, fsutil.ErrNotFound))

	_, err = svc.List(ctx, "file.txt")
	assert.True(t, errors.Is(err, fsutil.ErrNotADirectory))

	_, err = svc.List(ctx, "../")
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))
}

func TestListSymlinkOutsideIsNotFollowed(t *testing.T) {
	svc, root := newTestService(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "big.bin"), strings.Repeat("x", 100))
	if err := os.Symlink(filepath.Join(outside, "big.bin"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	ents, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "link", ents[0].Name)
	assert.Nil(t, ents[0].Size)
}

func TestCreateThenList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, "/new.txt", KindFile))
	require.NoError(t, svc.Create(ctx, "folder", KindFolder))
	require.NoError(t, svc.Create(ctx, "folder/inner.txt", KindFile))

	ents, err := svc.List(ctx, "")
	require.NoError(t, err)
	m := byName(ents)
	assert.False(t, m["new.txt"].IsDirectory)
	assert.EqualValues(t, 0, *m["new.txt"].Size)
	assert.True(t, m["folder"].IsDirectory)

	ents, err = svc.List(ctx, "folder")
	require.NoError(t, err)
	assert.Equal(t, "inner.txt", ents[0].Name)
}

func TestCreateErrors(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Create(ctx, "dup", KindFolder))

	assert.True(t, errors.Is(svc.Create(ctx, "dup", KindFolder), fsutil.ErrAlreadyExists))
	assert.True(t, errors.Is(svc.Create(ctx, "dup", KindFile), fsutil.ErrAlreadyExists))
	assert.True(t, errors.Is(svc.Create(ctx, "no/parent", KindFolder), fsutil.ErrNotFound))
	assert.True(t, errors.Is(svc.Create(ctx, "x", Kind("link")), fsutil.ErrInvalidName))

	err := svc.Create(ctx, "/../../etc/passwd", KindFile)
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))
	_, statErr := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(root)), "etc", "passwd"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDelete(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "tree", "a", "b.txt"), "b")
	writeFile(t, filepath.Join(root, "one.txt"), "1")

	require.NoError(t, svc.Delete(ctx, "one.txt"))
	require.NoError(t, svc.Delete(ctx, "tree"))
	_, err := os.Stat(filepath.Join(root, "tree"))
	assert.True(t, os.IsNotExist(err))

	err = svc.Delete(ctx, "one.txt")
	assert.True(t, errors.Is(err, fsutil.ErrNotFound), "deleting twice must fail")

	assert.True(t, errors.Is(svc.Delete(ctx, ""), fsutil.ErrPathViolation))
	assert.True(t, errors.Is(svc.Delete(ctx, "../data"), fsutil.ErrPathViolation))
	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestRename(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "dir", "old.txt"), "content")
	writeFile(t, filepath.Join(root, "dir", "taken.txt"), "other")

	newRel, err := svc.Rename(ctx, "/dir/old.txt", "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/new.txt", newRel)
	b, err := os.ReadFile(filepath.Join(root, "dir", "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(b))

	_, err = svc.Rename(ctx, "dir/new.txt", "taken.txt")
	assert.True(t, errors.Is(err, fsutil.ErrIO))
	b, _ = os.ReadFile(filepath.Join(root, "dir", "taken.txt"))
	assert.Equal(t, "other", string(b), "destination must not be overwritten")

	_, err = svc.Rename(ctx, "dir/new.txt", "../../escape.txt")
	assert.True(t, errors.Is(err, fsutil.ErrInvalidName))

	_, err = svc.Rename(ctx, "dir/missing.txt", "x.txt")
	assert.True(t, errors.Is(err, fsutil.ErrNotFound))

	_, err = svc.Rename(ctx, "", "x")
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))

	_, err = svc.Rename(ctx, "../outside", "x")
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))
}

func TestNotes(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "docs", "notes.txt"), "read me first")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	got, err := svc.Notes(ctx, "docs/")
	require.NoError(t, err)
	assert.Equal(t, "read me first", got)

	got, err = svc.Notes(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = svc.Notes(ctx, "does/not/exist")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = svc.Notes(ctx, "../..")
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))
}

func TestStat(t *testing.T) {
	svc, root := newTestService(t)
	writeFile(t, filepath.Join(root, "f.txt"), "abc")

	p, st, err := svc.Stat(context.Background(), "f.txt")
	require.NoError(t, err)
	assert.Equal(t, "f.txt", p.Rel)
	assert.EqualValues(t, 3, st.Size())

	_, _, err = svc.Stat(context.Background(), "f.txt/child")
	assert.True(t, errors.Is(err, fsutil.ErrNotFound))
}

func TestSearch(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(root, "photos", "Summer.jpg"), "x")
	writeFile(t, filepath.Join(root, "photos", "winter.jpg"), "x")
	writeFile(t, filepath.Join(root, ".hidden", "summer-notes.txt"), "x")
	writeFile(t, filepath.Join(root, "docs", "report.pdf"), "x")

	res, err := svc.Search(ctx, "", "summer")
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "photos/Summer.jpg", res.Items[0].Path, "non-hidden first")
	assert.Equal(t, ".hidden/summer-notes.txt", res.Items[1].Path)
	assert.False(t, res.Truncated)

	res, err = svc.Search(ctx, "docs", "REPORT")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "docs/report.pdf", res.Items[0].Path)

	res, err = svc.Search(ctx, "", "  ")
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	_, err = svc.Search(ctx, "..", "x")
	assert.True(t, errors.Is(err, fsutil.ErrPathViolation))
}
