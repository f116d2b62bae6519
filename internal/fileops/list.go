package fileops

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"fileroom/internal/fsutil"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name        string     `json:"name"`
	IsDirectory bool       `json:"isDirectory"`
	Size        *int64     `json:"size,omitempty"`
	ModifiedAt  *time.Time `json:"modifiedAt,omitempty"`
}

// List returns the children of the directory at rel. The result is read
// fresh from disk on every call and is not sorted.
func (s *Service) List(ctx context.Context, rel string) ([]Entry, error) {
	dir, err := s.Require(ctx, "list", rel)
	if err != nil {
		return nil, err
	}
	return s.ListResolved(ctx, dir)
}

// ListResolved lists a directory that has already been resolved.
func (s *Service) ListResolved(ctx context.Context, dir fsutil.ResolvedPath) ([]Entry, error) {
	if !dir.Inside {
		return nil, &fsutil.OpError{Op: "list", Path: dir.Rel, Kind: fsutil.ErrPathViolation}
	}
	st, err := os.Stat(dir.Path)
	if err != nil {
		return nil, fsutil.Classify("list", dir.Rel, err)
	}
	if !st.IsDir() {
		return nil, &fsutil.OpError{Op: "list", Path: dir.Rel, Kind: fsutil.ErrNotADirectory}
	}
	ents, err := os.ReadDir(dir.Path)
	if err != nil {
		return nil, fsutil.Classify("list", dir.Rel, err)
	}

	out := make([]Entry, 0, len(ents))
	for _, e := range ents {
		if ctx.Err() != nil {
			return nil, fsutil.Classify("list", dir.Rel, ctx.Err())
		}
		if ent, ok := s.entry(dir, e); ok {
			out = append(out, ent)
		}
	}
	return out, nil
}

// entry builds the listing record for e. Entries that vanish between
// ReadDir and stat are dropped.
func (s *Service) entry(dir fsutil.ResolvedPath, e fs.DirEntry) (Entry, bool) {
	ent := Entry{Name: e.Name(), IsDirectory: e.IsDir()}

	var info fs.FileInfo
	var err error
	if e.Type()&fs.ModeSymlink != 0 {
		// follow only links that stay inside the root
		child := s.res.Resolve(joinRel(dir.Rel, e.Name()))
		if !child.Inside {
			return ent, true
		}
		info, err = os.Stat(filepath.Join(dir.Path, e.Name()))
		if err == nil {
			ent.IsDirectory = info.IsDir()
		}
	} else {
		info, err = e.Info()
	}
	if err != nil {
		return ent, !os.IsNotExist(err)
	}

	mt := info.ModTime()
	ent.ModifiedAt = &mt
	if !ent.IsDirectory {
		size := info.Size()
		ent.Size = &size
	}
	return ent, true
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
