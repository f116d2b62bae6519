package httpserver

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"fileroom/internal/archive"
	"fileroom/internal/config"
	"fileroom/internal/fileops"
	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
	"fileroom/internal/upload"
)

// maxJSONBody caps request bodies of the small JSON endpoints.
const maxJSONBody = 1 << 20

type Options struct {
	Config config.Config
}

type Server struct {
	cfg     config.Config
	res     *fsutil.Resolver
	files   *fileops.Service
	recv    *upload.Receiver
	uploads *upload.Manager
	zips    *archive.Streamer
	thumbs  *thumbCache
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	res, err := fsutil.NewResolver(cfg.Root)
	if err != nil {
		return nil, err
	}
	up, err := upload.NewManager(res, cfg.StateDir, cfg.MaxUploadSize)
	if err != nil {
		return nil, err
	}
	thumbs, err := newThumbCache(filepath.Join(cfg.StateDir, "thumbs"))
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		res:     res,
		files:   fileops.New(res, cfg.NotesName),
		recv:    upload.NewReceiver(res, cfg.MaxUploadSize),
		uploads: up,
		zips: archive.New(res, archive.Options{
			Level:           cfg.Zip.Level,
			StoreCompressed: cfg.Zip.StoreCompressed,
		}),
		thumbs: thumbs,
	}, nil
}

// Root is the canonical served directory.
func (s *Server) Root() string { return s.res.Root() }

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	// health
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	}).Methods(http.MethodGet, http.MethodHead)

	if s.cfg.Metrics {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/files", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/files", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/files", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/rename", s.handleRename).Methods(http.MethodPost)
	api.HandleFunc("/notes", s.handleNotes).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/thumb", s.handleThumb).Methods(http.MethodGet)

	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
	// multi-select downloads
	api.HandleFunc("/zip", s.handleZip).Methods(http.MethodPost)

	// resumable uploads
	api.HandleFunc("/uploads", s.handleUploadCreate).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}", s.handleUploadStatus).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{id}", s.handleUploadPatch).Methods(http.MethodPatch)
	api.HandleFunc("/uploads/{id}", s.handleUploadAbort).Methods(http.MethodDelete)
	api.HandleFunc("/uploads/{id}/finish", s.handleUploadFinish).Methods(http.MethodPost)

	if s.cfg.WebDAV {
		r.PathPrefix("/dav/").Handler(s.davHandler())
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONStatus(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONStatus(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return withHeaders(logging.Middleware(r))
}

// --- helpers ---

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// decodeJSON reads a small JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "bad json")
		return false
	}
	return true
}

// attachment builds a Content-Disposition value; non-ASCII names are
// encoded per RFC 2231.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	// Fallbacks for systems with sparse mime tables.
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".mov":
		return "video/quicktime"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log", ".md", ".json", ".yaml", ".yml", ".toml", ".csv":
		return "text/plain; charset=utf-8"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	default:
		return ""
	}
}

// countingWriter tracks bytes handed to the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
