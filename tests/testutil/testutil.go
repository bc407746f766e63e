package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

//---------------------------------------------------------------------
// 1. Generic helpers
//---------------------------------------------------------------------

// TmpFile creates a temp file with given content and returns its path.
func TmpFile(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fixture-*")
	if err != nil {
		t.Fatalf("tmp-file: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("tmp-file-write: %v", err)
	}
	f.Close()
	return f.Name()
}

// TmpDir creates a temp directory that is removed when the test ends.
func TmpDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "fixture-dir-*")
	if err != nil {
		t.Fatalf("tmp-dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// WriteTree writes files (relative path → content) below root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

//---------------------------------------------------------------------
// 2. Handler fixtures
//---------------------------------------------------------------------

// HandlerSource returns a single-file Lambda handler that answers with reply.
func HandlerSource(reply string) string {
	return fmt.Sprintf(`//go:build ignore

package main

import "github.com/trufnetwork/lambda-e2e/examples/lambdafn"

func main() {
	lambdafn.Start(lambdafn.Reply(%q))
}
`, reply)
}

// HandlerDir creates a directory holding one handler file per name.
func HandlerDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := TmpDir(t)
	files := make(map[string]string, len(names))
	for _, n := range names {
		files[n+".go"] = HandlerSource(n)
	}
	WriteTree(t, dir, files)
	return dir
}
