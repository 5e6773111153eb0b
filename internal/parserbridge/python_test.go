package parserbridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/graph"
)

func writeTempPython(t *testing.T, contents string) (absPath, relPath string) {
	t.Helper()
	dir := t.TempDir()
	relPath = "pkg/mod.py"
	absPath = filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(absPath), 0o755))
	require.NoError(t, os.WriteFile(absPath, []byte(contents), 0o644))
	return absPath, relPath
}

func TestPythonBridge_SupportsPath(t *testing.T) {
	b := NewPythonBridge()
	assert.True(t, b.SupportsPath("a/b.py"))
	assert.True(t, b.SupportsPath("a/b.pyi"))
	assert.False(t, b.SupportsPath("a/b.go"))
}

func TestPythonBridge_Parse_FunctionAndClass(t *testing.T) {
	src := `
import os
from typing import List

class Animal:
    def speak(self):
        return "..."

class Dog(Animal):
    def speak(self):
        if self.is_happy():
            return super().speak()
        return "woof"

def top_level(x, y=1):
    return x + y
`
	abs, rel := writeTempPython(t, src)

	b := NewPythonBridge()
	result, err := b.Parse(abs, rel, "repo-1", "acme")
	require.NoError(t, err)

	var classNames, funcNames []string
	for _, e := range result.Entities {
		switch v := e.(type) {
		case graph.Class:
			classNames = append(classNames, v.SimpleName)
		case graph.Function:
			funcNames = append(funcNames, v.SimpleName)
		}
	}
	assert.ElementsMatch(t, []string{"Animal", "Dog"}, classNames)
	assert.ElementsMatch(t, []string{"speak", "speak", "top_level"}, funcNames)

	var inherits, contains, calls int
	for _, r := range result.Relationships {
		switch r.Kind {
		case graph.RelInherits:
			inherits++
			assert.Equal(t, "pkg.mod.Dog", r.From)
			assert.Equal(t, "pkg.mod.Animal", r.To)
		case graph.RelContains:
			contains++
		case graph.RelCalls:
			calls++
		}
	}
	assert.Equal(t, 1, inherits)
	assert.Greater(t, contains, 0)
	assert.Greater(t, calls, 0)
}

func TestPythonBridge_Parse_ImportsProduceModuleAndEdge(t *testing.T) {
	src := "import json\nfrom collections import OrderedDict\n"
	abs, rel := writeTempPython(t, src)

	b := NewPythonBridge()
	result, err := b.Parse(abs, rel, "repo-1", "acme")
	require.NoError(t, err)

	var imports []string
	for _, r := range result.Relationships {
		if r.Kind == graph.RelImports {
			imports = append(imports, r.To)
		}
	}
	assert.ElementsMatch(t, []string{"json", "collections"}, imports)
}

func TestModulePathFromRelPath(t *testing.T) {
	assert.Equal(t, "pkg.sub.mod", modulePathFromRelPath("pkg/sub/mod.py"))
	assert.Equal(t, "pkg.sub", modulePathFromRelPath("pkg/sub/__init__.py"))
}

func TestRegistry_For(t *testing.T) {
	r := NewRegistry(NewPythonBridge())
	assert.NotNil(t, r.For("a.py"))
	assert.Nil(t, r.For("a.rb"))
}
