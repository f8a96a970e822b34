package gosource

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/tools/go/packages"
)

// loadMode loads syntax and full type information: directives are read
// from comments and declarations are mapped from go/types.
const loadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedImports |
	packages.NeedDeps |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedModule

// LoaderOptions configures package loading behavior.
type LoaderOptions struct {
	// Packages are the package patterns to load.
	Packages []string

	// BuildTags are build tags to apply during loading.
	BuildTags []string

	// Dir is the directory to load packages from.
	// If empty, uses the current working directory.
	Dir string

	// Env is the environment to use for loading. Nil uses os.Environ().
	Env []string

	// Tests also loads test files, so that types declared in tests can be
	// analyzed.
	Tests bool
}

// LoadPackages loads Go packages for analysis.
func LoadPackages(ctx context.Context, opts LoaderOptions) ([]*packages.Package, error) {
	patterns := opts.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Tests:   opts.Tests,
		Env:     opts.Env,
		Dir:     opts.Dir,
	}
	if len(opts.BuildTags) > 0 {
		cfg.BuildFlags = append(cfg.BuildFlags, "-tags", strings.Join(opts.BuildTags, ","))
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching patterns: %v", patterns)
	}

	var errorMessages []string
	for _, pkg := range pkgs {
		for _, err := range pkg.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("package %s: %v", pkg.PkgPath, err))
		}
	}
	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("package errors:\n%s", strings.Join(errorMessages, "\n"))
	}

	return deduplicatePackages(pkgs), nil
}

// deduplicatePackages keeps one package per import path, preferring test
// variants: they are supersets of the regular package.
func deduplicatePackages(pkgs []*packages.Package) []*packages.Package {
	best := make(map[string]*packages.Package)
	for _, pkg := range pkgs {
		if strings.HasSuffix(pkg.ID, ".test") && !strings.Contains(pkg.ID, "[") {
			continue
		}
		existing, exists := best[pkg.PkgPath]
		if !exists || isSuperset(pkg, existing) {
			best[pkg.PkgPath] = pkg
		}
	}
	return slices.SortedFunc(maps.Values(best), func(a, b *packages.Package) int {
		return strings.Compare(a.PkgPath, b.PkgPath)
	})
}

// isSuperset reports whether pkg is a test variant replacing a regular
// package.
func isSuperset(pkg, existing *packages.Package) bool {
	return strings.Contains(pkg.ID, "[") && !strings.Contains(existing.ID, "[")
}

var stdPackages = sync.OnceValue(func() map[string]struct{} {
	pkgs, err := packages.Load(&packages.Config{Mode: packages.NeedName}, "std")
	if err != nil {
		slog.Warn("listing std packages", "error", err)
	}
	m := make(map[string]struct{}, len(pkgs)+1)
	for _, p := range pkgs {
		m[p.PkgPath] = struct{}{}
	}
	m["unsafe"] = struct{}{} // not in `go list std`
	slog.Debug("loaded std lib packages", "num", len(m))
	return m
})

// IsStandard reports whether path is a standard library package.
func IsStandard(path string) bool {
	_, ok := stdPackages()[path]
	return ok
}
