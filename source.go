package xp

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"reflect"
	"runtime"
	"strings"
)

// funcName returns the short name of fn, e.g. "main.train" → "train".
func funcName(fn any) string {
	f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer())
	if f == nil {
		return ""
	}

	name := path.Base(f.Name())
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}

	return name
}

// sourceOf returns the source text of fn when its file is readable,
// otherwise the fully qualified function name. The result identifies the
// version of the computation an Observation was produced by.
func sourceOf(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()

	f := runtime.FuncForPC(pc)
	if f == nil {
		return ""
	}

	file, line := f.FileLine(f.Entry())

	src, err := os.ReadFile(file)
	if err != nil {
		return f.Name()
	}

	fset := token.NewFileSet()

	parsed, err := parser.ParseFile(fset, file, src, parser.SkipObjectResolution)
	if err != nil {
		return f.Name()
	}

	var (
		exact     ast.Node
		enclosing ast.Node
	)

	ast.Inspect(parsed, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
		default:
			return true
		}

		startLine := fset.Position(n.Pos()).Line
		endLine := fset.Position(n.End()).Line

		if line < startLine || line > endLine {
			return false
		}

		// Innermost wins in both cases.
		if startLine == line {
			exact = n
		}

		enclosing = n

		return true
	})

	node := exact
	if node == nil {
		node = enclosing
	}

	if node == nil {
		return f.Name()
	}

	start := fset.Position(node.Pos()).Offset
	end := fset.Position(node.End()).Offset

	if start < 0 || end > len(src) || start >= end {
		return f.Name()
	}

	return string(src[start:end])
}
