// Package upload writes uploaded content under the served root: streamed
// multipart bodies (Receiver) and resumable chunked uploads (Manager).
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
)

// ErrNoFile is returned when a multipart body carries no file part.
var ErrNoFile = errors.New("no file in upload")

const copyBufSize = 256 << 10

// File describes one committed upload.
type File struct {
	Name   string `json:"file"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Receiver streams multipart file parts to disk.
type Receiver struct {
	res     *fsutil.Resolver
	maxSize int64
}

// NewReceiver returns a Receiver that refuses parts above maxSize bytes.
func NewReceiver(res *fsutil.Resolver, maxSize int64) *Receiver {
	return &Receiver{res: res, maxSize: maxSize}
}

// MaxSize is the per-file ceiling.
func (rc *Receiver) MaxSize() int64 { return rc.maxSize }

// Receive stores every file part of mr inside destDir, one after another.
// Non-file form fields are skipped. Parts committed before a failure stay
// committed and are returned together with the error.
func (rc *Receiver) Receive(ctx context.Context, mr *multipart.Reader, destDir string) ([]File, error) {
	dir, err := rc.res.Require(destDir)
	if err != nil {
		metrics.RecordPathViolation()
		return nil, err
	}
	var files []File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return files, fsutil.Classify("upload", dir.Rel, err)
		}
		name := partName(part)
		if name == "" {
			_ = part.Close()
			continue
		}
		f, err := rc.WritePart(ctx, dir, name, part)
		_ = part.Close()
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, ErrNoFile
	}
	return files, nil
}

// WritePart streams r into dir/name. The destination is resolved again
// from dir and name, so a hostile file name cannot leave the root. Data is
// staged in a hidden temp file next to the destination and renamed into
// place only after a successful fsync and close.
func (rc *Receiver) WritePart(ctx context.Context, dir fsutil.ResolvedPath, name string, r io.Reader) (File, error) {
	log := logging.FromContext(ctx)
	dst, err := rc.res.Child(dir, name)
	if err != nil {
		if errors.Is(err, fsutil.ErrPathViolation) {
			metrics.RecordPathViolation()
		}
		log.Warn("upload rejected", zap.String("dir", dir.Rel), zap.String("name", name), zap.Error(err))
		return File{}, err
	}

	// concurrent uploads may race to create the same parents; MkdirAll
	// treats an existing directory as success
	if err := os.MkdirAll(filepath.Dir(dst.Path), 0o755); err != nil {
		return File{}, fsutil.Classify("upload", dir.Rel, err)
	}

	h := sha256.New()
	n, err := writeAtomic(ctx, dst.Path, r, h, rc.maxSize)
	if err != nil {
		metrics.RecordUpload(n, false)
		log.Error("upload failed", zap.String("path", dst.Rel), zap.Int64("bytes", n), zap.Error(err))
		return File{}, fsutil.Classify("upload", dst.Rel, err)
	}
	metrics.RecordUpload(n, true)
	log.Info("upload stored", zap.String("path", dst.Rel), zap.Int64("bytes", n))

	return File{
		Name:   path.Base(dst.Rel),
		Path:   dst.Rel,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// writeAtomic copies at most limit bytes of r into a temp file beside dst,
// then renames it over dst. On failure the temp file is removed and dst is
// untouched.
func writeAtomic(ctx context.Context, dst string, r io.Reader, h hash.Hash, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fileroom-*.part")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := fsutil.ContextReader(ctx, io.LimitReader(r, limit+1))
	buf := make([]byte, copyBufSize)
	n, err := io.CopyBuffer(io.MultiWriter(tmp, h), src, buf)
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, &fsutil.OpError{Op: "upload", Kind: fsutil.ErrPayloadTooLarge,
			Err: fmt.Errorf("file exceeds %d bytes", limit)}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		committed = true
		return n, err
	}
	committed = true
	return n, nil
}

// partName returns the file name of a multipart part as a single segment,
// also for clients that send Windows-style paths.
func partName(p *multipart.Part) string {
	name := p.FileName()
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}
