package fileops

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fileroom/internal/fsutil"
)

// Search limits.
const (
	MaxSearchHits    = 500
	MaxSearchVisited = 200_000
)

// Hit is a search match.
type Hit struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"` // relative to the root
	IsDirectory bool       `json:"isDirectory"`
	Size        *int64     `json:"size,omitempty"`
	ModifiedAt  *time.Time `json:"modifiedAt,omitempty"`
}

// SearchResult is the outcome of a bounded search.
type SearchResult struct {
	Items     []Hit  `json:"items"`
	Seen      int    `json:"seen"`
	Truncated bool   `json:"truncated"`
	Reason    string `json:"reason,omitempty"` // "maxHits" | "maxFiles"
}

type searchNode struct {
	abs string
	rel string
}

// Search walks the directory at rel breadth-first and returns entries whose
// relative path contains q, case-insensitively. Non-hidden directories are
// scanned before hidden ones and symlinked directories are not descended.
func (s *Service) Search(ctx context.Context, rel, q string) (SearchResult, error) {
	res := SearchResult{Items: []Hit{}}
	q = strings.TrimSpace(q)
	base, err := s.Require(ctx, "search", rel)
	if err != nil {
		return res, err
	}
	if q == "" {
		return res, nil
	}
	st, err := os.Stat(base.Path)
	if err != nil {
		return res, lookupErr("search", base.Rel, err)
	}
	if !st.IsDir() {
		return res, &fsutil.OpError{Op: "search", Path: base.Rel, Kind: fsutil.ErrNotADirectory}
	}

	qlow := strings.ToLower(q)
	normalQ := []searchNode{{abs: base.Path, rel: base.Rel}}
	var hiddenQ []searchNode

	for len(normalQ) > 0 || len(hiddenQ) > 0 {
		if err := ctx.Err(); err != nil {
			return res, fsutil.Classify("search", base.Rel, err)
		}
		var n searchNode
		if len(normalQ) > 0 {
			n, normalQ = normalQ[0], normalQ[1:]
		} else {
			n, hiddenQ = hiddenQ[0], hiddenQ[1:]
		}

		res.Seen++
		if res.Seen > MaxSearchVisited {
			res.Truncated, res.Reason = true, "maxFiles"
			break
		}

		ents, err := os.ReadDir(n.abs)
		if err != nil {
			continue
		}
		// ReadDir is sorted; visit non-hidden names first
		ordered := make([]fs.DirEntry, 0, len(ents))
		for _, e := range ents {
			if !isHidden(e.Name()) {
				ordered = append(ordered, e)
			}
		}
		for _, e := range ents {
			if isHidden(e.Name()) {
				ordered = append(ordered, e)
			}
		}

		for _, e := range ordered {
			res.Seen++
			if res.Seen > MaxSearchVisited {
				res.Truncated, res.Reason = true, "maxFiles"
				break
			}
			childRel := joinRel(n.rel, e.Name())
			if strings.Contains(strings.ToLower(childRel), qlow) {
				res.Items = append(res.Items, hitFor(childRel, e))
				if len(res.Items) >= MaxSearchHits {
					res.Truncated, res.Reason = true, "maxHits"
					break
				}
			}
			if e.IsDir() && e.Type()&fs.ModeSymlink == 0 {
				child := searchNode{abs: filepath.Join(n.abs, e.Name()), rel: childRel}
				if isHidden(e.Name()) {
					hiddenQ = append(hiddenQ, child)
				} else {
					normalQ = append(normalQ, child)
				}
			}
		}
		if res.Truncated {
			break
		}
	}
	return res, nil
}

func hitFor(rel string, e fs.DirEntry) Hit {
	h := Hit{Name: e.Name(), Path: rel, IsDirectory: e.IsDir()}
	if info, err := e.Info(); err == nil {
		mt := info.ModTime()
		h.ModifiedAt = &mt
		if !h.IsDirectory {
			size := info.Size()
			h.Size = &size
		}
	}
	return h
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
