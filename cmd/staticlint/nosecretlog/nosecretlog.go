// Package nosecretlog defines an analyzer that reports log calls receiving
// values whose names mark them as passwords or secrets.
package nosecretlog

import (
	"go/ast"
	"strings"

	"golang.org/x/tools/go/analysis"
)

// Analyzer reports calls such as logger.Log.Debugln("login", password).
// Only identifiers and selectors are inspected; string literals are free text.
var Analyzer = &analysis.Analyzer{
	Name: "nosecretlog",
	Doc:  "reports passwords and secrets passed to logging calls",
	Run:  run,
}

var logMethodPrefixes = []string{"Debug", "Info", "Warn", "Error", "Fatal", "Panic", "Print"}

var secretMarkers = []string{"password", "secret", "passwd"}

func isLogMethod(name string) bool {
	for _, prefix := range logMethodPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isSecretName(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range secretMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// isLoggerReceiver matches receivers such as log, logger.Log or s.logger.
func isLoggerReceiver(expr ast.Expr) bool {
	var name string
	switch e := expr.(type) {
	case *ast.Ident:
		name = e.Name
	case *ast.SelectorExpr:
		name = e.Sel.Name
	default:
		return false
	}
	name = strings.ToLower(name)
	return strings.HasSuffix(name, "log") || strings.HasSuffix(name, "logger")
}

// secretName returns the offending name of expr, if any.
func secretName(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name, isSecretName(e.Name)
	case *ast.SelectorExpr:
		return e.Sel.Name, isSecretName(e.Sel.Name)
	case *ast.StarExpr:
		return secretName(e.X)
	case *ast.CallExpr:
		// zap.String("password", password) and similar field constructors.
		for _, arg := range e.Args {
			if name, ok := secretName(arg); ok {
				return name, true
			}
		}
	}
	return "", false
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}

			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || !isLogMethod(sel.Sel.Name) || !isLoggerReceiver(sel.X) {
				return true
			}

			for _, arg := range call.Args {
				if name, ok := secretName(arg); ok {
					pass.Reportf(arg.Pos(), "%s must not be logged", name)
				}
			}

			return true
		})
	}
	return nil, nil
}
