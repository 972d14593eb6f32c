package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DiscoverOptions configures suite discovery.
type DiscoverOptions struct {
	// Recursive searches nested directories instead of only the immediate
	// children of the root. A test directory is never searched further.
	Recursive bool
}

// Discover finds and loads every test under root. Any malformed descriptor
// fails discovery as a whole so that no test is silently dropped.
func Discover(ctx context.Context, root string, opts DiscoverOptions) ([]*Test, error) {
	dirs, err := findTestDirs(root, opts.Recursive)
	if err != nil {
		return nil, err
	}
	slog.Debug("found test directories", "root", root, "num", len(dirs))

	// Each goroutine owns one index of tests and errs.
	tests := make([]*Test, len(dirs))
	errs := make([]error, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(goruntime.NumCPU())
	for idx, dir := range dirs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tests[idx], errs[idx] = Load(dir)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discover %s: %w", root, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load descriptors: %w", err)
	}

	if err := checkDuplicates(tests); err != nil {
		return nil, err
	}
	slices.SortFunc(tests, func(a, b *Test) int {
		return strings.Compare(a.Name, b.Name)
	})
	return tests, nil
}

func findTestDirs(root string, recursive bool) ([]string, error) {
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("read suite root: %w", err)
		}
		var dirs []string
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			ok, err := hasDescriptor(dir)
			if err != nil {
				return nil, err
			}
			if ok {
				dirs = append(dirs, dir)
			}
		}
		return dirs, nil
	}

	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		ok, err := hasDescriptor(path)
		if err != nil {
			return err
		}
		if ok {
			dirs = append(dirs, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk suite root: %w", err)
	}
	return dirs, nil
}

// hasDescriptor reports whether dir holds a test.json. Errors other than
// absence are returned so an unreadable test is not mistaken for none.
func hasDescriptor(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, FileName))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("find descriptor: %w", err)
	}
}

func checkDuplicates(tests []*Test) error {
	seen := make(map[string]string, len(tests))
	var errs []error
	for _, t := range tests {
		if prev, ok := seen[t.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate test name %q in %s and %s", t.Name, prev, t.Dir))
			continue
		}
		seen[t.Name] = t.Dir
	}
	return errors.Join(errs...)
}
