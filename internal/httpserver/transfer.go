package httpserver

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fileroom/internal/archive"
	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
	"fileroom/internal/upload"
)

// multipartSlack is allowed on top of the per-file limit for multipart
// framing and form fields.
const multipartSlack = 1 << 20

type uploadResponse struct {
	Message string        `json:"message"`
	File    string        `json:"file"`
	Files   []upload.File `json:"files"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dest := q.Get("destination")
	if dest == "" {
		dest = q.Get("path")
	}

	ctx := r.Context()
	if t := s.cfg.UploadTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
		_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(t))
	}

	if r.ContentLength > 0 {
		if free := fsutil.FreeBytes(s.res.Root()); free >= 0 && r.ContentLength > free {
			writeError(w, r, &fsutil.OpError{Op: "upload", Path: dest, Kind: fsutil.ErrInsufficientStorage})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		badRequest(w, r, "expected multipart/form-data")
		return
	}
	files, err := s.recv.Receive(ctx, mr, dest)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, uploadResponse{Message: "file uploaded", File: files[0].Name, Files: files})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	p, st, err := s.files.Stat(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case st.IsDir():
		name := p.Name()
		if name == "" {
			name = filepath.Base(s.res.Root())
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", attachment(archive.FileName(name)))
			return
		}
		s.streamZip(w, r, archive.FileName(name), func(cw *countingWriter) (archive.Stats, error) {
			return s.zips.Stream(r.Context(), p, cw)
		})
	case st.Mode().IsRegular():
		s.serveFile(w, r, p, st)
	default:
		writeError(w, r, &fsutil.OpError{Op: "download", Path: p.Rel, Kind: fsutil.ErrNotAFile})
	}
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, p fsutil.ResolvedPath, st os.FileInfo) {
	f, err := os.Open(p.Path)
	if err != nil {
		writeError(w, r, fsutil.Classify("download", p.Rel, err))
		return
	}
	defer f.Close()

	if ct := contentTypeForName(st.Name()); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Disposition", attachment(st.Name()))
	cw := &countingWriter{w: w}
	http.ServeContent(&countingResponse{ResponseWriter: w, cw: cw}, r, st.Name(), st.ModTime(), f)
	metrics.RecordDownload("file", cw.n)
}

// streamZip sends an archive produced by fill. Once bytes have reached the
// client a failure can no longer become an error status, so the connection
// is aborted instead and the client sees a zip without central directory.
func (s *Server) streamZip(w http.ResponseWriter, r *http.Request, name string, fill func(*countingWriter) (archive.Stats, error)) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(name))
	cw := &countingWriter{w: w}
	_, err := fill(cw)
	metrics.RecordDownload("zip", cw.n)
	if err == nil {
		return
	}
	if cw.n == 0 && r.Context().Err() == nil {
		w.Header().Del("Content-Disposition")
		writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Warn("zip stream aborted",
		zap.String("name", name), zap.Int64("sent", cw.n), zap.Error(err))
	panic(http.ErrAbortHandler)
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
		Name  string   `json:"name"`
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if !decodeJSON(w, r, &req) {
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			badRequest(w, r, "bad form")
			return
		}
		req.Paths = r.Form["paths"]
		req.Name = r.FormValue("name")
	}
	if len(req.Paths) == 0 {
		badRequest(w, r, "missing paths")
		return
	}

	items := make([]fsutil.ResolvedPath, 0, len(req.Paths))
	for _, rel := range req.Paths {
		p, err := s.files.Require(r.Context(), "zip", rel)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items = append(items, p)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "download"
		if len(items) == 1 && !items[0].IsRoot() {
			name = items[0].Name()
		}
	}
	s.streamZip(w, r, archive.FileName(name), func(cw *countingWriter) (archive.Stats, error) {
		return s.zips.StreamItems(r.Context(), items, cw)
	})
}

// --- resumable uploads ---

type sessionResponse struct {
	ID     string `json:"id"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	Path   string `json:"path,omitempty"`
}

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	total := int64(-1)
	if v := strings.TrimSpace(q.Get("size")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, r, "bad size")
			return
		}
		total = n
	}
	if total > 0 {
		if free := fsutil.FreeBytes(s.res.Root()); free >= 0 && total > free {
			writeError(w, r, &fsutil.OpError{Op: "upload", Kind: fsutil.ErrInsufficientStorage})
			return
		}
	}
	sess, err := s.uploads.Create(r.Context(), q.Get("path"), total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sessionResponse{ID: sess.ID, Offset: sess.Offset, Size: sess.Size})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.uploads.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, r, fsutil.ErrNotFound)
		return
	}
	writeJSON(w, sessionResponse{ID: sess.ID, Offset: sess.Offset, Size: sess.Size, Path: sess.DestRel})
}

func (s *Server) handleUploadPatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if t := s.cfg.UploadTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
		_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(t))
	}
	sess, err := s.uploads.Patch(ctx, mux.Vars(r)["id"], r.Header.Get("Content-Range"), r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, sessionResponse{ID: sess.ID, Offset: sess.Offset, Size: sess.Size})
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	f, err := s.uploads.Finish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Message string `json:"message"`
		upload.File
	}{Message: "file uploaded", File: f})
}

func (s *Server) handleUploadAbort(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Abort(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, messageResponse{Message: "upload aborted"})
}

// countingResponse routes body writes through a countingWriter while
// keeping header handling of the wrapped ResponseWriter.
type countingResponse struct {
	http.ResponseWriter
	cw *countingWriter
}

func (c *countingResponse) Write(p []byte) (int, error) { return c.cw.Write(p) }

func (c *countingResponse) Unwrap() http.ResponseWriter { return c.ResponseWriter }

