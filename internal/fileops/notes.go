package fileops

import (
	"context"
	"io"
	"os"

	"fileroom/internal/fsutil"
)

// maxNotesSize caps how much of a notes file is returned.
const maxNotesSize = 1 << 20

// Notes returns the annotation file of the directory at rel, or "" when
// the directory has none.
func (s *Service) Notes(ctx context.Context, rel string) (string, error) {
	dir, err := s.Require(ctx, "notes", rel)
	if err != nil {
		return "", err
	}
	p, err := s.res.Child(dir, s.notesName)
	if err != nil {
		return "", err
	}
	f, err := os.Open(p.Path)
	if err != nil {
		if missing(err) {
			return "", nil
		}
		return "", fsutil.Classify("notes", p.Rel, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fsutil.Classify("notes", p.Rel, err)
	}
	if !st.Mode().IsRegular() {
		return "", nil
	}
	b, err := io.ReadAll(io.LimitReader(f, maxNotesSize))
	if err != nil {
		return "", fsutil.Classify("notes", p.Rel, err)
	}
	return string(b), nil
}
