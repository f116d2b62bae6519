package fileops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"syscall"

	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
)

// Create makes an empty file or folder at rel. The parent must exist.
func (s *Service) Create(ctx context.Context, rel string, kind Kind) error {
	if !kind.Valid() {
		return &fsutil.OpError{Op: "create", Path: fsutil.CleanRelPath(rel), Kind: fsutil.ErrInvalidName,
			Err: fmt.Errorf("unknown kind %q", kind)}
	}
	p, err := s.Require(ctx, "create", rel)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return &fsutil.OpError{Op: "create", Kind: fsutil.ErrAlreadyExists}
	}

	switch kind {
	case KindFolder:
		err = os.Mkdir(p.Path, 0o755)
	case KindFile:
		var f *os.File
		f, err = os.OpenFile(p.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			err = f.Close()
		}
	}
	if err != nil {
		return fsutil.Classify("create", p.Rel, err)
	}
	logging.FromContext(ctx).Info("entry created",
		zap.String("path", p.Rel),
		zap.String("kind", string(kind)),
	)
	return nil
}

// Delete removes the entry at rel; directories go recursively. There is no
// trash: the removal is final.
func (s *Service) Delete(ctx context.Context, rel string) error {
	p, err := s.Require(ctx, "delete", rel)
	if err != nil {
		return err
	}
	if p.IsRoot() {
		return &fsutil.OpError{Op: "delete", Kind: fsutil.ErrPathViolation, Err: fmt.Errorf("refusing to delete root")}
	}
	st, err := os.Lstat(p.Path)
	if err != nil {
		return lookupErr("delete", p.Rel, err)
	}
	if st.IsDir() {
		err = os.RemoveAll(p.Path)
	} else {
		err = os.Remove(p.Path)
	}
	if err != nil {
		return fsutil.Classify("delete", p.Rel, err)
	}
	logging.FromContext(ctx).Info("entry deleted",
		zap.String("path", p.Rel),
		zap.Bool("dir", st.IsDir()),
	)
	return nil
}

// Rename gives the entry at rel the sibling name newName and returns its
// new relative path. An existing destination is an I/O error; nothing is
// overwritten.
func (s *Service) Rename(ctx context.Context, rel, newName string) (string, error) {
	from, err := s.Require(ctx, "rename", rel)
	if err != nil {
		return "", err
	}
	if from.IsRoot() {
		return "", &fsutil.OpError{Op: "rename", Kind: fsutil.ErrPathViolation, Err: fmt.Errorf("refusing to rename root")}
	}
	if err := fsutil.ValidName(newName); err != nil {
		return "", &fsutil.OpError{Op: "rename", Path: from.Rel, Kind: err}
	}
	toRel := joinRel(parentRel(from.Rel), newName)
	to, err := s.Require(ctx, "rename", toRel)
	if err != nil {
		return "", err
	}

	if _, err := os.Lstat(from.Path); err != nil {
		return "", lookupErr("rename", from.Rel, err)
	}
	if from.Path == to.Path {
		return to.Rel, nil
	}
	if _, err := os.Lstat(to.Path); err == nil {
		return "", &fsutil.OpError{Op: "rename", Path: to.Rel, Kind: fsutil.ErrIO, Err: fmt.Errorf("destination exists")}
	}
	if err := fsutil.MoveFile(from.Path, to.Path); err != nil {
		return "", &fsutil.OpError{Op: "rename", Path: from.Rel, Kind: fsutil.ErrIO, Err: err}
	}
	logging.FromContext(ctx).Info("entry renamed",
		zap.String("from", from.Rel),
		zap.String("to", to.Rel),
	)
	return to.Rel, nil
}

// Stat resolves rel and returns its file info.
func (s *Service) Stat(ctx context.Context, rel string) (fsutil.ResolvedPath, os.FileInfo, error) {
	p, err := s.Require(ctx, "stat", rel)
	if err != nil {
		return p, nil, err
	}
	st, err := os.Stat(p.Path)
	if err != nil {
		return p, nil, lookupErr("stat", p.Rel, err)
	}
	return p, st, nil
}

func parentRel(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// lookupErr classifies a failed lookup; a path running through a regular
// file is reported as not found rather than as a kind mismatch.
func lookupErr(op, rel string, err error) error {
	if missing(err) {
		return &fsutil.OpError{Op: op, Path: rel, Kind: fsutil.ErrNotFound, Err: err}
	}
	return fsutil.Classify(op, rel, err)
}
