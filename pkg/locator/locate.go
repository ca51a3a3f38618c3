package locator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// LocatePieces resolves every piece under root. Pieces are resolved
// independently and concurrently. The returned SearchResult always holds an
// entry per piece; when any piece is unresolved the error is a
// *LocateError listing each missing piece and where it was looked for.
// Filesystem errors other than "does not exist" abort the whole call.
func (f *Finder) LocatePieces(ctx context.Context, root string, pieces map[string]Piece) (SearchResult, error) {
	names := make([]string, 0, len(pieces))
	for name := range pieces {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]Resolved, len(names))

	g, gctx := errgroup.WithContext(ctx)
	if f.workers > 0 {
		g.SetLimit(f.workers)
	}

	for i, name := range names {
		g.Go(func() error {
			r, err := f.resolve(gctx, root, name, pieces[name])
			if err != nil {
				return fmt.Errorf("locate %s: %w", name, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	search := make(SearchResult, len(names))
	var missing *LocateError
	for _, r := range results {
		search[r.Name] = r
		if r.Found() {
			f.logger.Debug("found", logger.WithField("piece", describe(r.Name, pieces[r.Name])), logger.WithField("path", r.Path))
			continue
		}
		if missing == nil {
			missing = &LocateError{
				Root:    root,
				Missing: make(map[string][]Attempt),
				Causes:  make(map[string]error),
			}
		}
		missing.Missing[r.Name] = r.Attempts
		missing.Causes[r.Name] = r.Err
		f.logger.Debug("not found", logger.WithField("piece", describe(r.Name, pieces[r.Name])), logger.WithField("attempts", len(r.Attempts)))
	}

	if missing != nil {
		return search, missing
	}
	return search, nil
}

// resolve returns a Resolved with Err set for not-found or ambiguous
// pieces; a non-nil error means the search itself failed.
func (f *Finder) resolve(ctx context.Context, root, name string, piece Piece) (Resolved, error) {
	switch p := piece.(type) {
	case SingleFile:
		return f.resolveFile(ctx, root, name, KindSingleFile, p.Files, p.GuessDirs, p.TieBreak)
	case *SingleFile:
		return f.resolve(ctx, root, name, *p)
	case Executable:
		return f.resolveFile(ctx, root, name, KindExecutable, BinaryNames(p.Name, f.platform), p.GuessDirs, p.TieBreak)
	case *Executable:
		return f.resolve(ctx, root, name, *p)
	case DirectoryGroup:
		return f.resolveDirectory(ctx, root, name, p)
	case *DirectoryGroup:
		return f.resolve(ctx, root, name, *p)
	case ResourceBundle:
		return f.resolveBundle(ctx, root, name, p)
	case *ResourceBundle:
		return f.resolve(ctx, root, name, *p)
	default:
		return Resolved{}, fmt.Errorf("%w: %T", ErrUnknownPiece, piece)
	}
}

func (f *Finder) resolveFile(ctx context.Context, root, name string, kind PieceKind, files, guessDirs []string, tieBreak TieBreak) (Resolved, error) {
	r := Resolved{Name: name, Kind: kind}

	found, attempts, err := f.FindFile(ctx, root, guessDirs, files, tieBreak)
	r.Attempts = attempts
	switch {
	case err == nil:
		r.Path = found
		return r, nil
	case errors.Is(err, ErrNotFound):
		r.Err = &NotFoundError{Piece: name, Root: root, Attempts: attempts}
		return r, nil
	default:
		return r, err
	}
}

func (f *Finder) resolveDirectory(ctx context.Context, root, name string, p DirectoryGroup) (Resolved, error) {
	r := Resolved{Name: name, Kind: KindDirectoryGroup}

	dir, candidates, attempts, err := f.FindDirectory(ctx, root, p.Dir, p.TieBreak)
	r.Attempts = attempts
	r.Candidates = candidates

	var ambiguous *AmbiguousError
	switch {
	case err == nil:
		r.Path = dir
		return r, nil
	case errors.Is(err, ErrNotFound):
		r.Err = &NotFoundError{Piece: name, Root: root, Attempts: attempts}
		return r, nil
	case errors.As(err, &ambiguous):
		ambiguous.Piece = name
		r.Err = ambiguous
		return r, nil
	default:
		return r, err
	}
}

func (f *Finder) resolveBundle(ctx context.Context, root, name string, p ResourceBundle) (Resolved, error) {
	r := Resolved{Name: name, Kind: KindResourceBundle}
	bundle := &ResolvedBundle{Package: p.Package}
	failed := false

	find := func(dirs []string) ([]string, error) {
		out := make([]string, 0, len(dirs))
		for _, d := range dirs {
			found, _, attempts, err := f.FindDirectory(ctx, root, d, LastSorted)
			r.Attempts = append(r.Attempts, attempts...)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					failed = true
					continue
				}
				return nil, err
			}
			out = append(out, found)
		}
		return out, nil
	}

	var err error
	if bundle.ResDirs, err = find(p.ResDirs); err != nil {
		return r, err
	}
	if bundle.Libs, err = find(p.Libs); err != nil {
		return r, err
	}

	if failed {
		r.Err = &NotFoundError{Piece: name, Root: root, Attempts: r.Attempts}
		return r, nil
	}

	r.Bundle = bundle
	return r, nil
}
