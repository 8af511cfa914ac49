// Package noexitinmain defines an analyzer that reports process termination
// from inside main.main.
package noexitinmain

import (
	"go/ast"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer reports os.Exit and log.Fatal* calls made directly in main.main.
// Deferred calls in main are skipped when the process ends that way.
// Calls are resolved through type information, so renamed imports are caught too.
var Analyzer = &analysis.Analyzer{
	Name: "noexitinmain",
	Doc:  "reports os.Exit and log.Fatal calls in main.main",
	Run:  run,
}

var terminatingFuncs = map[string]map[string]struct{}{
	"os":  {"Exit": {}},
	"log": {"Fatal": {}, "Fatalf": {}, "Fatalln": {}},
}

func run(pass *analysis.Pass) (interface{}, error) {
	if pass.Pkg.Name() != "main" {
		return nil, nil
	}

	for _, file := range pass.Files {
		if isGoBuildCacheFile(pass.Fset.File(file.Pos()).Name()) {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || fn.Name.Name != "main" || fn.Body == nil {
				continue
			}

			ast.Inspect(fn.Body, func(n ast.Node) bool {
				// Closures defined in main run on their own schedule.
				if _, ok := n.(*ast.FuncLit); ok {
					return false
				}

				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}

				if pkgPath, name, ok := terminatingCallee(pass.TypesInfo, call); ok {
					pass.Reportf(call.Pos(), "avoid calling %s.%s in main.main", pkgPath, name)
				}

				return true
			})
		}
	}

	return nil, nil
}

func terminatingCallee(info *types.Info, call *ast.CallExpr) (string, string, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}

	fn, ok := info.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil {
		return "", "", false
	}

	names, ok := terminatingFuncs[fn.Pkg().Path()]
	if !ok {
		return "", "", false
	}
	if _, ok := names[fn.Name()]; !ok {
		return "", "", false
	}

	return fn.Pkg().Path(), fn.Name(), true
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/") || strings.Contains(path, `\go-build\`)
}
