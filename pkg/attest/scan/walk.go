package scan

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/attest/pkg/attest/catalog"
	"github.com/jamesainslie/attest/pkg/attest/types"
)

// walk traverses the tree depth-first in lexicographic order with a single
// worker, feeding every surviving regular file into classify. Unreadable
// entries and subtrees are recorded as exceptions without aborting siblings.
func (s *Session) walk(ctx context.Context) error {
	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: 1,
		Sort:       fastwalk.SortLexical,
	}

	skip := s.skipPaths()

	err := fastwalk.Walk(&conf, s.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			// Unreadable directory or stat failure: record and move
			// on to siblings.
			name := s.relName(path)
			s.recordException(name, types.NewError(types.KindUnreadable, path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			// The entry exists on disk even though it failed, so it
			// is not a deletion candidate.
			delete(s.missing, name)
			return nil
		}

		if path == s.opts.Root {
			return nil
		}

		if underAny(path, skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := s.relName(path)
		if s.excluded(path, name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		// Skip filter: non-file entries are excluded before
		// classification and never counted.
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.recordException(name, types.NewError(types.KindUnreadable, path, err))
			delete(s.missing, name)
			return nil
		}

		s.classify(name, path, info.ModTime())
		return nil
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// relName converts an absolute walk path into normalized catalog key form.
func (s *Session) relName(path string) string {
	rel, err := filepath.Rel(s.opts.Root, path)
	if err != nil {
		rel = path
	}
	return catalog.NormalizeName(filepath.ToSlash(rel))
}

// skipPaths collects the absolute paths the walk must never descend into:
// the catalog's own storage plus any caller-provided paths.
func (s *Session) skipPaths() []string {
	paths := make([]string, 0, len(s.opts.SkipPaths)+1)
	paths = append(paths, filepath.Clean(s.cat.Path()))
	for _, p := range s.opts.SkipPaths {
		if p != "" {
			paths = append(paths, filepath.Clean(p))
		}
	}
	return paths
}

// excluded reports whether path matches a user exclusion pattern, tried
// against the basename, the relative name, and the full path.
func (s *Session) excluded(path, name string) bool {
	for _, pattern := range s.opts.Exclude {
		if pattern == "" {
			continue
		}
		if ok, err := filepath.Match(pattern, filepath.Base(path)); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// underAny reports whether path equals or sits beneath any of the roots.
func underAny(path string, roots []string) bool {
	clean := filepath.Clean(path)
	for _, root := range roots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
