package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// slash-based, no-leading-slash relative path ("" means root). Leading
// slashes are dropped before cleaning so "/../x" keeps its ".." and the
// resolver can reject it.
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// ResolvedPath is a client path after resolution against the root.
//
// Path is the lexical absolute location (symlinks not followed) and is what
// callers open, remove or rename. Canonical is the same location with every
// existing symlink evaluated. Inside is true only when both forms lie within
// the root.
type ResolvedPath struct {
	Rel       string
	Path      string
	Canonical string
	Inside    bool
}

// IsRoot reports whether the path denotes the root itself.
func (p ResolvedPath) IsRoot() bool { return p.Inside && p.Rel == "" }

// Name is the final path segment, or "" for the root.
func (p ResolvedPath) Name() string {
	if p.Rel == "" {
		return ""
	}
	return path.Base(p.Rel)
}

// Resolver turns client-supplied relative paths into verified locations
// under a fixed root.
type Resolver struct {
	root      string // absolute, cleaned
	canonical string // root with symlinks evaluated
}

// NewResolver makes root absolute, creates it if absent and records its
// canonical form. The root never changes afterwards.
func NewResolver(root string) (*Resolver, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval root: %w", err)
	}
	st, err := os.Stat(canon)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	return &Resolver{root: filepath.Clean(abs), canonical: filepath.Clean(canon)}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve joins rel onto the root and reports whether the result stays
// inside it. The containment check runs on the joined, cleaned form and
// again after symlink evaluation, so neither ".." segments nor links that
// point out of the tree get through.
func (r *Resolver) Resolve(rel string) ResolvedPath {
	rel = CleanRelPath(rel)
	out := ResolvedPath{Rel: rel}
	if strings.ContainsRune(rel, 0) {
		return out
	}

	joined := filepath.Join(r.root, filepath.FromSlash(rel))
	out.Path = joined
	if !within(r.root, joined) {
		return out
	}

	canon, ok := evalExisting(joined)
	if !ok {
		return out
	}
	out.Canonical = canon
	if !within(r.canonical, canon) {
		return out
	}

	relClean, err := filepath.Rel(r.root, joined)
	if err != nil {
		return out
	}
	relClean = filepath.ToSlash(relClean)
	if relClean == "." {
		relClean = ""
	}
	out.Rel = relClean
	out.Inside = true
	return out
}

// Require resolves rel and fails with ErrPathViolation when it escapes.
func (r *Resolver) Require(rel string) (ResolvedPath, error) {
	p := r.Resolve(rel)
	if !p.Inside {
		return p, &OpError{Op: "resolve", Path: CleanRelPath(rel), Kind: ErrPathViolation}
	}
	return p, nil
}

// Child resolves name inside the directory dir. The name must be a single
// path segment.
func (r *Resolver) Child(dir ResolvedPath, name string) (ResolvedPath, error) {
	if err := ValidName(name); err != nil {
		return ResolvedPath{}, &OpError{Op: "resolve", Path: name, Kind: err}
	}
	return r.Require(joinRel(dir.Rel, name))
}

// RelOf maps an absolute path under the root back to its relative form.
func (r *Resolver) RelOf(abs string) (string, bool) {
	if !within(r.root, abs) {
		return "", false
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}
	return rel, true
}

// ValidName checks that name is usable as a single directory entry name.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	}
	return nil
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// evalExisting evaluates symlinks on the longest existing prefix of p and
// re-appends the missing tail. A dangling symlink anywhere on the way is
// reported as unresolvable because its target cannot be checked.
func evalExisting(p string) (string, bool) {
	var tail []string
	cur := p
	for {
		canon, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				canon = filepath.Join(canon, tail[i])
			}
			return filepath.Clean(canon), true
		}
		// a file in the middle of the path fails with ENOTDIR; the
		// prefix up to that file is still checkable
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", false
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			// exists but does not evaluate: dangling link
			return "", false
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func joinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
