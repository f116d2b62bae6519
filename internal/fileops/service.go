// Package fileops implements listing and mutation of entries under the
// served root. Every method resolves its path arguments through the
// fsutil.Resolver before it touches the filesystem.
package fileops

import (
	"context"

	"go.uber.org/zap"

	"fileroom/internal/fsutil"
	"fileroom/internal/logging"
	"fileroom/internal/metrics"
)

// Kind selects what Create makes.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindFile || k == KindFolder }

// Service is the file operations API over a single root.
type Service struct {
	res       *fsutil.Resolver
	notesName string
}

// New returns a Service. notesName is the reserved annotation file name
// read by Notes.
func New(res *fsutil.Resolver, notesName string) *Service {
	if notesName == "" {
		notesName = "notes.txt"
	}
	return &Service{res: res, notesName: notesName}
}

// Resolver exposes the resolver the service validates against.
func (s *Service) Resolver() *fsutil.Resolver { return s.res }

// Require resolves rel and logs violations with the client string only.
func (s *Service) Require(ctx context.Context, op, rel string) (fsutil.ResolvedPath, error) {
	p, err := s.res.Require(rel)
	if err != nil {
		metrics.RecordPathViolation()
		logging.FromContext(ctx).Warn("path violation",
			zap.String("op", op),
			zap.String("path", rel),
		)
		return p, &fsutil.OpError{Op: op, Path: fsutil.CleanRelPath(rel), Kind: fsutil.ErrPathViolation}
	}
	return p, nil
}
