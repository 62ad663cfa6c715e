package plugin

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Imports a plugin package is never allowed to use. Plugins run inside
// the host process, so anything that can subvert memory safety or
// spawn arbitrary processes is rejected at install time.
var bannedImports = map[string]string{
	"unsafe":        "raw memory access",
	"syscall":       "direct system calls",
	"os/exec":       "arbitrary process execution",
	"plugin":        "native code loading",
	"runtime/cgo":   "native code execution",
	"net/rpc":       "uncontrolled remote code paths",
	"os/signal":     "process signal handling",
	"runtime/debug": "runtime manipulation",
}

// UnsafeSourceError rejects an archive during the install safety scan.
type UnsafeSourceError struct {
	File   string
	Detail string
}

func (e *UnsafeSourceError) Error() string {
	return fmt.Sprintf("unsafe plugin source %s: %s", e.File, e.Detail)
}

// scanSources walks a plugin folder and inspects every .go file for
// constructs a third-party extension must not use. The scan runs on
// the extracted archive before anything reaches the plugins root.
func scanSources(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".go") {
			return nil
		}
		return scanFile(path)
	})
}

func scanFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Compiler directives bypass the import check entirely.
	for _, directive := range []string{"//go:linkname", "//go:cgo_"} {
		if strings.Contains(string(src), directive) {
			return &UnsafeSourceError{File: path, Detail: directive + " directive"}
		}
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		return &UnsafeSourceError{File: path, Detail: fmt.Sprintf("does not parse: %v", err)}
	}

	for _, imp := range file.Imports {
		name, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if name == "C" {
			return &UnsafeSourceError{File: path, Detail: "cgo is not allowed"}
		}
		if reason, banned := bannedImports[name]; banned {
			return &UnsafeSourceError{
				File:   path,
				Detail: fmt.Sprintf("import %q (%s)", name, reason),
			}
		}
	}
	return nil
}
