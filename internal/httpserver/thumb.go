package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"fileroom/internal/fsutil"
)

const (
	defaultThumbSize = 256
	minThumbSize     = 32
	maxThumbSize     = 1024

	// maxThumbPixels bounds the decoded source image; a few bytes of
	// header can declare dimensions that would need gigabytes of RAM.
	maxThumbPixels = 50_000_000
)

var errImageTooLarge = errors.New("image too large for a thumbnail")

// thumbCache stores rendered thumbnails keyed by path, mtime and size.
type thumbCache struct {
	dir string
}

func newThumbCache(dir string) (*thumbCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &thumbCache{dir: dir}, nil
}

func (c *thumbCache) key(rel string, st os.FileInfo, size int) string {
	h := sha256.Sum256([]byte(rel))
	return fmt.Sprintf("%s-%d-%d.jpg", hex.EncodeToString(h[:12]), st.ModTime().UnixNano(), size)
}

// get returns the cached thumbnail or renders and stores a new one.
func (c *thumbCache) get(p fsutil.ResolvedPath, st os.FileInfo, size int) ([]byte, error) {
	cached := filepath.Join(c.dir, c.key(p.Rel, st, size))
	if b, err := os.ReadFile(cached); err == nil {
		return b, nil
	}
	b, err := makeThumb(p.Path, size)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(c.dir, ".thumb-*")
	if err == nil {
		_, werr := tmp.Write(b)
		cerr := tmp.Close()
		if werr == nil && cerr == nil {
			_ = os.Rename(tmp.Name(), cached)
		} else {
			_ = os.Remove(tmp.Name())
		}
	}
	return b, nil
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, st, err := s.files.Stat(r.Context(), q.Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !st.Mode().IsRegular() {
		writeError(w, r, &fsutil.OpError{Op: "thumb", Path: p.Rel, Kind: fsutil.ErrNotAFile})
		return
	}
	if !isImageExt(strings.ToLower(filepath.Ext(p.Rel))) {
		writeError(w, r, &fsutil.OpError{Op: "thumb", Path: p.Rel, Kind: fsutil.ErrNotFound})
		return
	}
	size := defaultThumbSize
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, r, "bad size")
			return
		}
		size = min(max(n, minThumbSize), maxThumbSize)
	}

	b, err := s.thumbs.get(p, st, size)
	if err != nil {
		// undecodable images have no thumbnail
		writeError(w, r, &fsutil.OpError{Op: "thumb", Path: p.Rel, Kind: fsutil.ErrNotFound, Err: err})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	_, _ = w.Write(b)
}

func makeThumb(absPath string, limit int) ([]byte, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxThumbPixels {
		return nil, fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, os.ErrInvalid
	}
	if limit <= 0 {
		limit = defaultThumbSize
	}

	nw, nh := w, h
	if w > h {
		if w > limit {
			nw = limit
			nh = int(float64(h) * (float64(limit) / float64(w)))
		}
	} else {
		if h > limit {
			nh = limit
			nw = int(float64(w) * (float64(limit) / float64(h)))
		}
	}
	nw, nh = max(nw, 1), max(nh, 1)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
