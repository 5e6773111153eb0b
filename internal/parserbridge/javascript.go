package parserbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"

	"github.com/archgraph/sentinel/internal/graph"
)

// JavaScriptBridge adapts the teacher's internal/treesitter
// javascript_extractor.go node-kind switch (function_declaration,
// arrow_function/function_expression, class_declaration,
// method_definition, import_statement, export_statement passthrough) to
// emit graph.Entity/graph.Relationship instead of CodeEntity. It extracts
// function declarations, classes, class methods and imports; arrow
// functions and function expressions are not extracted.
type JavaScriptBridge struct{}

// NewJavaScriptBridge returns a Bridge for .js/.jsx/.mjs/.cjs files.
func NewJavaScriptBridge() *JavaScriptBridge { return &JavaScriptBridge{} }

func (b *JavaScriptBridge) SupportsPath(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return true
	default:
		return false
	}
}

func (b *JavaScriptBridge) Parse(absPath, relPath, repoID, repoSlug string) (Result, error) {
	code, err := os.ReadFile(absPath)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}

	parser := sitter.NewParser()
	if parser == nil {
		return Result{}, fmt.Errorf("failed to create tree-sitter parser")
	}
	defer parser.Close()

	language := sitter.NewLanguage(tree_sitter_javascript.Language())
	if err := parser.SetLanguage(language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}

	tree := parser.Parse(code, nil)
	if tree == nil {
		return Result{}, fmt.Errorf("failed to parse %s", relPath)
	}
	defer tree.Close()

	ex := &jsExtraction{
		repoID:       repoID,
		repoSlug:     repoSlug,
		relPath:      relPath,
		modulePrefix: modulePathFromRelPath(relPath),
		code:         code,
	}
	ex.walk(tree.RootNode())

	return Result{Entities: ex.entities, Relationships: ex.relationships}, nil
}

type jsExtraction struct {
	repoID       string
	repoSlug     string
	relPath      string
	modulePrefix string
	code         []byte

	entities      []graph.Entity
	relationships []graph.Relationship
}

func (ex *jsExtraction) walk(node *sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_declaration":
		ex.extractFunctionDeclaration(node)
	case "class_declaration":
		ex.extractClassDeclaration(node)
	case "method_definition":
		ex.extractMethodDefinition(node)
	case "import_statement":
		ex.extractImportStatement(node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		ex.walk(node.Child(i))
	}
}

func (ex *jsExtraction) extractFunctionDeclaration(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := text(nameNode, ex.code)
	qualifiedName := fmt.Sprintf("%s.%s", ex.modulePrefix, funcName)

	ex.entities = append(ex.entities, graph.Function{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: qualifiedName,
		SimpleName:    funcName,
		FilePath:      ex.relPath,
		LineStart:     int(node.StartPosition().Row) + 1,
		LineEnd:       int(node.EndPosition().Row) + 1,
	})
	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID: ex.repoID, Kind: graph.RelContains,
		FromLabel: "File", From: ex.relPath,
		ToLabel: "Function", To: qualifiedName,
	})
}

func (ex *jsExtraction) extractClassDeclaration(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := text(nameNode, ex.code)
	qualifiedName := fmt.Sprintf("%s.%s", ex.modulePrefix, className)

	ex.entities = append(ex.entities, graph.Class{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: qualifiedName,
		SimpleName:    className,
		FilePath:      ex.relPath,
		LineStart:     int(node.StartPosition().Row) + 1,
		LineEnd:       int(node.EndPosition().Row) + 1,
	})
	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID: ex.repoID, Kind: graph.RelContains,
		FromLabel: "File", From: ex.relPath,
		ToLabel: "Class", To: qualifiedName,
	})

	if heritage := node.ChildByFieldName("superclass"); heritage != nil {
		base := strings.TrimSpace(text(heritage, ex.code))
		if base != "" {
			ex.relationships = append(ex.relationships, graph.Relationship{
				RepoID: ex.repoID, Kind: graph.RelInherits,
				FromLabel: "Class", From: qualifiedName,
				ToLabel: "Class", To: fmt.Sprintf("%s.%s", ex.modulePrefix, base),
			})
		}
	}
}

func (ex *jsExtraction) extractMethodDefinition(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	methodName := text(nameNode, ex.code)
	className := findParentClassDeclaration(node, ex.code)
	if className == "" {
		return
	}
	qualifiedName := fmt.Sprintf("%s.%s.%s", ex.modulePrefix, className, methodName)

	ex.entities = append(ex.entities, graph.Function{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: qualifiedName,
		SimpleName:    methodName,
		FilePath:      ex.relPath,
		LineStart:     int(node.StartPosition().Row) + 1,
		LineEnd:       int(node.EndPosition().Row) + 1,
		IsMethod:      true,
	})
	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID: ex.repoID, Kind: graph.RelContains,
		FromLabel: "Class", From: fmt.Sprintf("%s.%s", ex.modulePrefix, className),
		ToLabel: "Function", To: qualifiedName,
	})
}

func findParentClassDeclaration(node *sitter.Node, code []byte) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "class_declaration" {
			if nameNode := p.ChildByFieldName("name"); nameNode != nil {
				return text(nameNode, code)
			}
		}
	}
	return ""
}

func (ex *jsExtraction) extractImportStatement(node *sitter.Node) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	importPath := strings.Trim(text(sourceNode, ex.code), "\"'`")

	ex.entities = append(ex.entities, graph.Module{
		RepoID: ex.repoID, RepoSlug: ex.repoSlug,
		QualifiedName: importPath, IsExternal: true,
	})
	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID: ex.repoID, Kind: graph.RelImports,
		FromLabel: "File", From: ex.relPath,
		ToLabel: "Module", To: importPath,
	})
}
