// Package testutil holds test helpers that enforce package boundaries: the
// public model stays free of internal code and the decision engines never
// reach storage or network backends.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const modulePath = "seedlot"

// ImportPredicate reports whether an import path is forbidden.
type ImportPredicate func(importPath string) bool

// AssertNoDirectImports parses every non-test .go file in dir and fails t if
// any import matches forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden ImportPredicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	failIfViolations(t, reason, viols)
}

// InternalImport matches packages under seedlot/internal.
func InternalImport(path string) bool {
	return strings.HasPrefix(path, modulePath+"/internal/")
}

// InfraImport matches storage, blob and lock backends.
func InfraImport(path string) bool {
	return strings.HasPrefix(path, modulePath+"/internal/infra/")
}

// ThirdPartyImport matches any import whose first element looks like a host
// name, which is how modules outside the standard library are named.
func ThirdPartyImport(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// Except narrows pred so that the listed module prefixes are allowed.
func Except(pred ImportPredicate, allowed ...string) ImportPredicate {
	return func(path string) bool {
		for _, prefix := range allowed {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return false
			}
		}
		return pred(path)
	}
}

// AnyOf matches when any predicate matches.
func AnyOf(preds ...ImportPredicate) ImportPredicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

func directImportViolations(dir string, forbidden ImportPredicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	sort.Strings(viols)
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
