package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
)

// A minimal resumable upload protocol:
// - POST   /api/uploads?path=<destRel>&size=<n>  => {id, offset, size}
// - PATCH  /api/uploads/<id> (Content-Range: bytes <start>-<end>/<total>) body=chunk
// - POST   /api/uploads/<id>/finish             => move into dest
// - DELETE /api/uploads/<id>                    => abort
//
// State is stored on disk in <stateDir>/uploads/<id>.{part,json}

// ErrBadRange is returned for malformed or out-of-order Content-Range
// headers.
var ErrBadRange = errors.New("bad content range")

// Manager tracks resumable upload sessions.
type Manager struct {
	res     *fsutil.Resolver
	dir     string
	maxSize int64

	mu       sync.Mutex
	sessions map[string]*entry
}

// Session is the client-visible state of a resumable upload.
type Session struct {
	ID      string `json:"id"`
	DestRel string `json:"path"`
	Size    int64  `json:"size"`   // total if known, else -1
	Offset  int64  `json:"offset"` // bytes written
	Created int64  `json:"created"`
}

type entry struct {
	mu sync.Mutex // serializes PATCH/finish on one session
	s  Session
}

// NewManager opens (or creates) the session store under stateDir and
// reloads sessions left by a previous run.
func NewManager(res *fsutil.Resolver, stateDir string, maxSize int64) (*Manager, error) {
	dir := filepath.Join(stateDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	m := &Manager{
		res:      res,
		dir:      dir,
		maxSize:  maxSize,
		sessions: map[string]*entry{},
	}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal(b, &s) != nil {
			continue
		}
		if _, err := uuid.Parse(s.ID); err != nil {
			continue
		}
		m.sessions[s.ID] = &entry{s: s}
	}
	return nil
}

// Create opens a session for destRel. The destination is validated now and
// again at Finish.
func (m *Manager) Create(ctx context.Context, destRel string, total int64) (Session, error) {
	dst, err := m.res.Require(destRel)
	if err != nil {
		metrics.RecordPathViolation()
		return Session{}, err
	}
	if dst.IsRoot() {
		return Session{}, &fsutil.OpError{Op: "upload", Kind: fsutil.ErrInvalidName, Err: errors.New("destination is the root")}
	}
	if err := fsutil.ValidName(path.Base(dst.Rel)); err != nil {
		return Session{}, &fsutil.OpError{Op: "upload", Path: dst.Rel, Kind: err}
	}
	if total > m.maxSize {
		return Session{}, &fsutil.OpError{Op: "upload", Path: dst.Rel, Kind: fsutil.ErrPayloadTooLarge}
	}
	if total < 0 {
		total = -1
	}

	s := Session{
		ID:      uuid.NewString(),
		DestRel: dst.Rel,
		Size:    total,
		Created: time.Now().Unix(),
	}
	if err := m.save(s); err != nil {
		return Session{}, fsutil.Classify("upload", dst.Rel, err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = &entry{s: s}
	m.mu.Unlock()

	logging.FromContext(ctx).Info("upload session created",
		zap.String("id", s.ID), zap.String("path", s.DestRel), zap.Int64("size", s.Size))
	return s, nil
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (Session, bool) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s, true
}

func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	return e, ok
}

// Patch appends the chunk described by contentRange. The chunk must start
// exactly at the current offset.
func (m *Manager) Patch(ctx context.Context, id, contentRange string, body io.Reader) (Session, error) {
	e, ok := m.lookup(id)
	if !ok {
		return Session{}, &fsutil.OpError{Op: "upload", Path: id, Kind: fsutil.ErrNotFound}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &e.s

	start, end, total, err := parseContentRange(contentRange)
	if err != nil {
		return *s, err
	}
	if start != s.Offset {
		return *s, fmt.Errorf("%w: offset mismatch: have %d want %d", ErrBadRange, s.Offset, start)
	}
	if s.Size < 0 && total >= 0 {
		s.Size = total
	}
	if s.Size >= 0 && total >= 0 && s.Size != total {
		return *s, fmt.Errorf("%w: size mismatch: have %d want %d", ErrBadRange, s.Size, total)
	}
	if s.Size >= 0 && end >= s.Size {
		return *s, fmt.Errorf("%w: range ends at %d past size %d", ErrBadRange, end, s.Size)
	}
	if end+1 > m.maxSize || s.Size > m.maxSize {
		return *s, &fsutil.OpError{Op: "upload", Path: s.DestRel, Kind: fsutil.ErrPayloadTooLarge}
	}

	partPath := m.partPath(id)
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}
	defer f.Close()
	// drop bytes left behind by an earlier chunk that failed halfway
	if err := f.Truncate(start); err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}

	want := (end - start) + 1
	wrote, err := io.CopyN(f, fsutil.ContextReader(ctx, body), want)
	if err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}
	if wrote != want {
		return *s, fmt.Errorf("%w: short write: %d != %d", ErrBadRange, wrote, want)
	}
	if err := f.Sync(); err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}

	s.Offset += wrote
	if err := m.save(*s); err != nil {
		return *s, fsutil.Classify("upload", s.DestRel, err)
	}
	return *s, nil
}

// Finish moves the completed part file to its destination, re-resolving
// the destination first.
func (m *Manager) Finish(ctx context.Context, id string) (File, error) {
	e, ok := m.lookup(id)
	if !ok {
		return File{}, &fsutil.OpError{Op: "upload", Path: id, Kind: fsutil.ErrNotFound}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.s

	if s.Size >= 0 && s.Offset != s.Size {
		return File{}, fmt.Errorf("%w: upload incomplete: offset=%d size=%d", ErrBadRange, s.Offset, s.Size)
	}
	partPath := m.partPath(id)
	if s.Offset == 0 {
		// empty uploads never PATCH; materialize an empty part
		f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return File{}, fsutil.Classify("upload", s.DestRel, err)
		}
		_ = f.Close()
	}
	st, err := os.Stat(partPath)
	if err != nil {
		return File{}, fsutil.Classify("upload", s.DestRel, err)
	}
	if st.Size() != s.Offset {
		return File{}, fmt.Errorf("%w: size mismatch: file=%d expected=%d", ErrBadRange, st.Size(), s.Offset)
	}

	sum, err := hashFile(ctx, partPath)
	if err != nil {
		return File{}, fsutil.Classify("upload", s.DestRel, err)
	}

	dst, err := m.res.Require(s.DestRel)
	if err != nil {
		metrics.RecordPathViolation()
		return File{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst.Path), 0o755); err != nil {
		return File{}, fsutil.Classify("upload", dst.Rel, err)
	}
	if err := fsutil.MoveFile(partPath, dst.Path); err != nil {
		metrics.RecordUpload(s.Offset, false)
		return File{}, fsutil.Classify("upload", dst.Rel, err)
	}
	metrics.RecordUpload(s.Offset, true)

	m.forget(id)
	logging.FromContext(ctx).Info("upload session finished",
		zap.String("id", id), zap.String("path", dst.Rel), zap.Int64("bytes", s.Offset))

	return File{Name: path.Base(dst.Rel), Path: dst.Rel, Size: s.Offset, SHA256: sum}, nil
}

// Abort drops the session and its staged data.
func (m *Manager) Abort(id string) error {
	e, ok := m.lookup(id)
	if !ok {
		return &fsutil.OpError{Op: "upload", Path: id, Kind: fsutil.ErrNotFound}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = os.Remove(m.partPath(id))
	m.forget(id)
	return nil
}

func (m *Manager) forget(id string) {
	_ = os.Remove(filepath.Join(m.dir, id+".json"))
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) partPath(id string) string {
	return filepath.Join(m.dir, id+".part")
}

func (m *Manager) save(s Session) error {
	b, _ := json.MarshalIndent(s, "", "  ")
	tmp := filepath.Join(m.dir, s.ID+".json.tmp")
	final := filepath.Join(m.dir, s.ID+".json")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func hashFile(ctx context.Context, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyBuffer(h, fsutil.ContextReader(ctx, f), make([]byte, copyBufSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseContentRange(v string) (start, end, total int64, err error) {
	// "bytes <start>-<end>/<total>" where total may be "*"
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, 0, fmt.Errorf("%w: expected bytes start-end/total", ErrBadRange)
	}
	v = strings.TrimPrefix(v, "bytes ")
	rng, tot, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, 0, ErrBadRange
	}
	s, e, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, ErrBadRange
	}
	start, err = strconv.ParseInt(s, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, 0, fmt.Errorf("%w: start", ErrBadRange)
	}
	end, err = strconv.ParseInt(e, 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, fmt.Errorf("%w: end", ErrBadRange)
	}
	if tot == "*" {
		return start, end, -1, nil
	}
	total, err = strconv.ParseInt(tot, 10, 64)
	if err != nil || total <= 0 || end >= total {
		return 0, 0, 0, fmt.Errorf("%w: total", ErrBadRange)
	}
	return start, end, total, nil
}
