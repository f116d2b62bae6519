package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
)

// davFS is a webdav.FileSystem that resolves every name through the
// resolver, unlike webdav.Dir which follows symlinks out of the tree.
type davFS struct {
	res *fsutil.Resolver
}

var _ webdav.FileSystem = davFS{}

func (d davFS) resolve(ctx context.Context, name string) (fsutil.ResolvedPath, error) {
	p, err := d.res.Require(name)
	if err != nil {
		metrics.RecordPathViolation()
		logging.FromContext(ctx).Warn("path violation", zap.String("op", "dav"), zap.String("path", name))
		return p, os.ErrPermission
	}
	return p, nil
}

func (d davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	p, err := d.resolve(ctx, name)
	if err != nil {
		return err
	}
	return os.Mkdir(p.Path, perm)
}

func (d davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	p, err := d.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if put, ok := ctx.Value(davPutKey{}).(*davPut); ok && flag&os.O_TRUNC != 0 {
		sf, err := newStagedFile(ctx, p, put)
		if err != nil {
			return nil, err
		}
		return sf, nil
	}
	f, err := os.OpenFile(p.Path, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d davFS) RemoveAll(ctx context.Context, name string) error {
	p, err := d.resolve(ctx, name)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return os.ErrPermission
	}
	return os.RemoveAll(p.Path)
}

func (d davFS) Rename(ctx context.Context, oldName, newName string) error {
	from, err := d.resolve(ctx, oldName)
	if err != nil {
		return err
	}
	to, err := d.resolve(ctx, newName)
	if err != nil {
		return err
	}
	if from.IsRoot() || to.IsRoot() {
		return os.ErrPermission
	}
	return fsutil.MoveFile(from.Path, to.Path)
}

func (d davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	p, err := d.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return os.Stat(p.Path)
}

func (s *Server) davHandler() http.Handler {
	h := &webdav.Handler{
		Prefix:     "/dav",
		FileSystem: davFS{res: s.res},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.FromContext(r.Context()).Debug("webdav", zap.String("method", r.Method), zap.Error(err))
			}
		},
	}
	limit := s.cfg.MaxUploadSize
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			h.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			writeError(w, r, &fsutil.OpError{Op: "dav", Path: strings.TrimPrefix(r.URL.Path, "/dav"), Kind: fsutil.ErrPayloadTooLarge})
			return
		}
		put := &davPut{limit: limit}
		r.Body = &davBody{ReadCloser: r.Body, put: put}
		r = r.WithContext(context.WithValue(r.Context(), davPutKey{}, put))
		h.ServeHTTP(&davPutWriter{ResponseWriter: w, r: r, put: put}, r)
	})
}

// --- PUT staging ---

type davPutKey struct{}

// davPut is the state of one PUT request shared between the body reader,
// the staged file and the response writer.
type davPut struct {
	limit    int64
	bodyErr  error
	tooLarge bool
}

// davBody remembers a failed body read so a truncated upload is discarded
// instead of committed.
type davBody struct {
	io.ReadCloser
	put *davPut
}

func (b *davBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.put.bodyErr = err
	}
	return n, err
}

// davPutWriter replaces the generic failure status of the webdav handler
// with 413 when the staged file hit the size limit.
type davPutWriter struct {
	http.ResponseWriter
	r       *http.Request
	put     *davPut
	swallow bool
}

func (w *davPutWriter) WriteHeader(code int) {
	if w.put.tooLarge && code >= 400 {
		w.swallow = true
		writeError(w.ResponseWriter, w.r, &fsutil.OpError{Op: "dav", Kind: fsutil.ErrPayloadTooLarge})
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *davPutWriter) Write(p []byte) (int, error) {
	if w.swallow {
		return len(p), nil
	}
	return w.ResponseWriter.Write(p)
}

// stagedFile receives a PUT body in a hidden temp file next to the target
// and renames it into place on Close. It has no ReadFrom, so io.Copy
// sends every byte through Write and the limit.
type stagedFile struct {
	f      *os.File
	dst    fsutil.ResolvedPath
	put    *davPut
	log    *zap.Logger
	n      int64
	failed bool
}

func newStagedFile(ctx context.Context, dst fsutil.ResolvedPath, put *davPut) (*stagedFile, error) {
	if st, err := os.Stat(dst.Path); err == nil && st.IsDir() {
		return nil, os.ErrExist
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst.Path), ".fileroom-*.part")
	if err != nil {
		return nil, err
	}
	return &stagedFile{f: tmp, dst: dst, put: put, log: logging.FromContext(ctx)}, nil
}

func (s *stagedFile) Write(p []byte) (int, error) {
	if s.n+int64(len(p)) > s.put.limit {
		s.put.tooLarge = true
		s.failed = true
		return 0, &fsutil.OpError{Op: "dav", Path: s.dst.Rel, Kind: fsutil.ErrPayloadTooLarge}
	}
	n, err := s.f.Write(p)
	s.n += int64(n)
	if err != nil {
		s.failed = true
	}
	return n, err
}

func (s *stagedFile) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *stagedFile) Seek(off int64, whence int) (int64, error) { return s.f.Seek(off, whence) }

func (s *stagedFile) Readdir(int) ([]os.FileInfo, error) { return nil, os.ErrInvalid }

func (s *stagedFile) Stat() (os.FileInfo, error) { return s.f.Stat() }

// Close commits the staged content unless a write or the body read
// failed; then the temp file is dropped and the target is untouched.
func (s *stagedFile) Close() error {
	tmp := s.f.Name()
	if s.failed || s.put.bodyErr != nil {
		_ = s.f.Close()
		_ = os.Remove(tmp)
		metrics.RecordUpload(s.n, false)
		s.log.Warn("dav upload discarded", zap.String("path", s.dst.Rel), zap.Int64("bytes", s.n),
			zap.Bool("too_large", s.put.tooLarge), zap.Error(s.put.bodyErr))
		return &fsutil.OpError{Op: "dav", Path: s.dst.Rel, Kind: fsutil.ErrIO, Err: errors.New("upload discarded")}
	}
	err := s.f.Chmod(0o644)
	if err == nil {
		err = s.f.Sync()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, s.dst.Path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		metrics.RecordUpload(s.n, false)
		return err
	}
	metrics.RecordUpload(s.n, true)
	s.log.Info("dav upload stored", zap.String("path", s.dst.Rel), zap.Int64("bytes", s.n))
	return nil
}
