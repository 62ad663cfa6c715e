package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanSources(t *testing.T) {
	t.Run("clean package passes", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "main.go", `package clean

import (
	"fmt"
	"strings"
)

func greet(name string) string {
	return fmt.Sprintf("hello %s", strings.ToUpper(name))
}
`)

		assert.NoError(t, scanSources(dir))
	})

	t.Run("banned import rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "evil.go", `package evil

import "os/exec"

var _ = exec.Command
`)

		err := scanSources(dir)

		var uerr *UnsafeSourceError
		require.ErrorAs(t, err, &uerr)
		assert.Contains(t, uerr.Detail, "os/exec")
	})

	t.Run("unsafe import rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "mem.go", "package mem\n\nimport \"unsafe\"\n\nvar _ = unsafe.Sizeof(0)\n")

		var uerr *UnsafeSourceError
		require.ErrorAs(t, scanSources(dir), &uerr)
	})

	t.Run("cgo rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "c.go", "package c\n\nimport \"C\"\n")

		var uerr *UnsafeSourceError
		require.ErrorAs(t, scanSources(dir), &uerr)
		assert.Contains(t, uerr.Detail, "cgo")
	})

	t.Run("linkname directive rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "link.go", `package link

//go:linkname now runtime.nanotime
func now() int64
`)

		var uerr *UnsafeSourceError
		require.ErrorAs(t, scanSources(dir), &uerr)
		assert.Contains(t, uerr.Detail, "linkname")
	})

	t.Run("unparseable source rejected", func(t *testing.T) {
		dir := t.TempDir()
		writeSource(t, dir, "bad.go", "this is not go\n")

		var uerr *UnsafeSourceError
		require.ErrorAs(t, scanSources(dir), &uerr)
	})

	t.Run("violations in subfolders are found", func(t *testing.T) {
		dir := makePluginDir(t, "outer")
		writeSource(t, dir, "ok.go", "package outer\n")
		inner := filepath.Join(dir, "internal")
		require.NoError(t, os.MkdirAll(inner, 0o755))
		writeSource(t, inner, "hidden.go", "package internal\n\nimport \"syscall\"\n\nvar _ = syscall.Getpid\n")

		var uerr *UnsafeSourceError
		require.ErrorAs(t, scanSources(dir), &uerr)
		assert.Contains(t, uerr.Detail, "syscall")
	})
}
