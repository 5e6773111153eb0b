package parserbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/graph"
)

func writeTempJS(t *testing.T, contents string) (absPath, relPath string) {
	t.Helper()
	dir := t.TempDir()
	relPath = "pkg/mod.js"
	absPath = filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, []byte(contents), 0o644))
	return absPath, relPath
}

func TestJavaScriptBridge_SupportsPath(t *testing.T) {
	b := NewJavaScriptBridge()
	assert.True(t, b.SupportsPath("a/b.js"))
	assert.True(t, b.SupportsPath("a/b.mjs"))
	assert.False(t, b.SupportsPath("a/b.ts"))
}

func TestJavaScriptBridge_Parse_FunctionClassMethodImport(t *testing.T) {
	src := `
import { readFile } from "fs";

class Animal {
  speak() {
    return "...";
  }
}

function topLevel(x) {
  return x;
}
`
	abs, rel := writeTempJS(t, src)

	b := NewJavaScriptBridge()
	result, err := b.Parse(abs, rel, "repo-1", "acme")
	require.NoError(t, err)

	var classNames, funcNames, imports []string
	for _, e := range result.Entities {
		switch v := e.(type) {
		case graph.Class:
			classNames = append(classNames, v.SimpleName)
		case graph.Function:
			funcNames = append(funcNames, v.SimpleName)
		case graph.Module:
			imports = append(imports, v.QualifiedName)
		}
	}

	assert.Contains(t, classNames, "Animal")
	assert.Contains(t, funcNames, "speak")
	assert.Contains(t, funcNames, "topLevel")
	assert.Contains(t, imports, "fs")
}
