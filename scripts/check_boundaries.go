package main

import (
	"cmp"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const modulePath = "agora"

// layerRule lists what code in one engine layer may import: sibling layers
// of the same engine and third-party libraries. Other external packages
// belong behind a port. Layers without a rule are unchecked.
type layerRule struct {
	layers    []string
	libraries []string
}

var layerRules = map[string]layerRule{
	"domain": {
		layers:    []string{"domain"},
		libraries: []string{"github.com/shopspring/decimal", "github.com/samber/lo"},
	},
	"application": {
		layers: []string{"application", "domain", "ports"},
		libraries: []string{
			"github.com/shopspring/decimal",
			"github.com/samber/lo",
			"go.opentelemetry.io/otel",
			"golang.org/x/sync",
		},
	},
}

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}
	slices.SortFunc(violations, func(a, b violation) int {
		return cmp.Or(cmp.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line), cmp.Compare(a.Import, b.Import))
	})
	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

// collectViolations walks contexts/<context>/<engine>/<layer>/... below root.
func collectViolations(root string) []violation {
	var violations []violation
	base := filepath.Dir(root)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return nil
		}
		file := filepath.ToSlash(rel)
		parts := strings.Split(file, "/")
		if len(parts) < 4 {
			return nil
		}
		rule, ok := layerRules[parts[3]]
		if !ok {
			return nil
		}
		engine := modulePath + "/" + strings.Join(parts[:3], "/")
		violations = append(violations, checkFile(path, file, parts[3], engine, rule)...)
		return nil
	})
	return violations
}

func checkFile(path string, file string, layer string, engine string, rule layerRule) []violation {
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: file, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range parsed.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		for _, broken := range brokenRules(layer, importPath, engine, rule) {
			violations = append(violations, violation{
				File:   file,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   broken,
			})
		}
	}
	return violations
}

func brokenRules(layer string, importPath string, engine string, rule layerRule) []string {
	var broken []string
	if strings.Contains(importPath, "/adapters/") {
		broken = append(broken, layer+" must not import adapters")
	}
	if hasPrefix(importPath, modulePath) && !hasPrefix(importPath, engine) {
		broken = append(broken, layer+" must not import runtime infrastructure")
	}
	if isStdlib(importPath) {
		return broken
	}
	for _, sibling := range rule.layers {
		if hasPrefix(importPath, engine+"/"+sibling) {
			return broken
		}
	}
	for _, library := range rule.libraries {
		if hasPrefix(importPath, library) {
			return broken
		}
	}
	return append(broken, layer+" import is outside explicit allowlist")
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// isStdlib treats any path whose first element has no dot as standard library.
func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
