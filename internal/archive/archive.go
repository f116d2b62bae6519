// Package archive streams directory trees as zip archives without staging
// them on disk.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
)

const (
	copyBufSize  = 128 << 10
	maxNameBytes = 120
)

// Options controls entry encoding.
type Options struct {
	// Level is the deflate level, -1 (default) through 9 (best).
	Level int
	// StoreCompressed stores already-compressed formats instead of
	// deflating them again.
	StoreCompressed bool
}

// Stats summarizes a written archive.
type Stats struct {
	Entries int
	Bytes   int64 // uncompressed content bytes
}

// Streamer writes zip archives of trees under the resolver's root.
type Streamer struct {
	res  *fsutil.Resolver
	opts Options
}

func New(res *fsutil.Resolver, opts Options) *Streamer {
	return &Streamer{res: res, opts: opts}
}

// Stream encodes the contents of dir into w. Entry names are relative to
// dir, so the archive root is the directory's contents. Entries are
// written as they are read. Any unreadable entry aborts the archive: the
// error is returned and the central directory is not written, so the
// partial output is not a valid zip.
func (s *Streamer) Stream(ctx context.Context, dir fsutil.ResolvedPath, w io.Writer) (Stats, error) {
	st, err := os.Stat(dir.Path)
	if err != nil {
		return Stats{}, fsutil.Classify("zip", dir.Rel, err)
	}
	if !st.IsDir() {
		return Stats{}, &fsutil.OpError{Op: "zip", Path: dir.Rel, Kind: fsutil.ErrNotADirectory}
	}

	j := s.newJob(ctx, w)
	if err := j.walk(dir.Path, ""); err != nil {
		return j.fail(dir.Rel, err)
	}
	return j.finish(dir.Rel)
}

// StreamItems encodes several files or directories into one archive, each
// under its own top-level name. Clashing base names get a " (n)" suffix.
func (s *Streamer) StreamItems(ctx context.Context, items []fsutil.ResolvedPath, w io.Writer) (Stats, error) {
	type item struct {
		p  fsutil.ResolvedPath
		st os.FileInfo
	}
	list := make([]item, 0, len(items))
	for _, p := range items {
		st, err := os.Stat(p.Path)
		if err != nil {
			return Stats{}, fsutil.Classify("zip", p.Rel, err)
		}
		list = append(list, item{p: p, st: st})
	}

	j := s.newJob(ctx, w)
	used := map[string]int{}
	for _, it := range list {
		top := uniqueName(used, it.p.Name())
		var err error
		switch {
		case it.st.IsDir():
			err = j.walk(it.p.Path, top)
		case it.st.Mode().IsRegular():
			err = j.addFile(it.p.Path, top)
		default:
			err = &fsutil.OpError{Op: "zip", Path: it.p.Rel, Kind: fsutil.ErrNotAFile}
		}
		if err != nil {
			return j.fail(it.p.Rel, err)
		}
	}
	return j.finish("")
}

type job struct {
	s     *Streamer
	ctx   context.Context
	log   *zap.Logger
	zw    *zip.Writer
	buf   []byte
	stats Stats
}

func (s *Streamer) newJob(ctx context.Context, w io.Writer) *job {
	zw := zip.NewWriter(w)
	level := s.opts.Level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	return &job{
		s:   s,
		ctx: ctx,
		log: logging.FromContext(ctx),
		zw:  zw,
		buf: make([]byte, copyBufSize),
	}
}

// finish writes the central directory. Only a successful Close makes the
// archive complete.
func (j *job) finish(rel string) (Stats, error) {
	if err := j.zw.Close(); err != nil {
		return j.fail(rel, err)
	}
	metrics.RecordArchive(j.stats.Entries, true)
	j.log.Info("archive streamed", zap.String("path", rel),
		zap.Int("entries", j.stats.Entries), zap.Int64("bytes", j.stats.Bytes))
	return j.stats, nil
}

func (j *job) fail(rel string, err error) (Stats, error) {
	metrics.RecordArchive(j.stats.Entries, false)
	j.log.Warn("archive aborted", zap.String("path", rel),
		zap.Int("entries", j.stats.Entries), zap.Error(err))
	return j.stats, fsutil.Classify("zip", rel, err)
}

// walk adds the tree at abs under prefix. os.ReadDir sorts by name, so the
// entry order is deterministic.
func (j *job) walk(abs, prefix string) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	ents, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	if len(ents) == 0 && prefix != "" {
		return j.addDir(abs, prefix)
	}
	for _, e := range ents {
		if err := j.ctx.Err(); err != nil {
			return err
		}
		name := joinName(prefix, e.Name())
		child := filepath.Join(abs, e.Name())
		switch {
		case e.Type()&fs.ModeSymlink != 0:
			err = j.addLink(child, name)
		case e.IsDir():
			err = j.walk(child, name)
		case e.Type().IsRegular():
			err = j.addFile(child, name)
		default:
			j.log.Debug("archive skips special file", zap.String("entry", name))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// addLink includes a symlink as a plain file when it resolves to a regular
// file inside the root. Everything else is left out.
func (j *job) addLink(abs, name string) error {
	rel, ok := j.s.res.RelOf(abs)
	if ok {
		if p := j.s.res.Resolve(rel); p.Inside {
			if st, err := os.Stat(abs); err == nil && st.Mode().IsRegular() {
				return j.addFile(abs, name)
			}
		}
	}
	j.log.Warn("archive skips symlink", zap.String("entry", name))
	return nil
}

func (j *job) addDir(abs, name string) error {
	st, err := os.Stat(abs)
	if err != nil {
		return err
	}
	hdr := &zip.FileHeader{
		Name:     name + "/",
		Method:   zip.Store,
		Modified: st.ModTime(),
	}
	hdr.SetMode(fs.ModeDir | 0o755)
	if _, err := j.zw.CreateHeader(hdr); err != nil {
		return err
	}
	j.stats.Entries++
	return nil
}

func (j *job) addFile(abs, name string) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(st)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	if j.s.opts.StoreCompressed && isCompressed(name) {
		hdr.Method = zip.Store
	}
	wr, err := j.zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	n, err := io.CopyBuffer(wr, fsutil.ContextReader(j.ctx, f), j.buf)
	if err != nil {
		return err
	}
	j.stats.Entries++
	j.stats.Bytes += n
	return nil
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func uniqueName(used map[string]int, base string) string {
	if base == "" {
		base = "item"
	}
	n := used[base]
	used[base] = n + 1
	if n == 0 {
		return base
	}
	ext := path.Ext(base)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), n, ext)
}

var compressedExts = map[string]bool{
	".7z": true, ".apk": true, ".avi": true, ".br": true, ".bz2": true,
	".docx": true, ".flac": true, ".gif": true, ".gz": true, ".heic": true,
	".jar": true, ".jpeg": true, ".jpg": true, ".m4a": true, ".m4v": true,
	".mkv": true, ".mov": true, ".mp3": true, ".mp4": true, ".ogg": true,
	".png": true, ".pptx": true, ".rar": true, ".tgz": true, ".webm": true,
	".webp": true, ".xlsx": true, ".xz": true, ".zip": true, ".zst": true,
}

func isCompressed(name string) bool {
	return compressedExts[strings.ToLower(path.Ext(name))]
}

// FileName returns the download name for an archive of base, stripped of
// characters that break Content-Disposition or the client's file system.
func FileName(base string) string {
	s := strings.TrimSpace(base)
	s = strings.TrimSuffix(s, ".zip")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.Trim(s, ". ")
	if s == "" {
		s = "download"
	}
	if len(s) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s + ".zip"
}
