package parserbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/archgraph/sentinel/internal/graph"
)

// PythonBridge parses Python source with tree-sitter, adapted from the
// teacher's internal/treesitter package (parser.go/python_extractor.go)
// but emitting graph.Entity/graph.Relationship directly instead of the
// teacher's generic CodeEntity, and resolving qualifiedNames against the
// file's own repo-relative path dotted form.
type PythonBridge struct{}

// NewPythonBridge returns a Bridge for .py/.pyi/.pyw files.
func NewPythonBridge() *PythonBridge { return &PythonBridge{} }

func (b *PythonBridge) SupportsPath(path string) bool {
	switch filepath.Ext(path) {
	case ".py", ".pyi", ".pyw":
		return true
	default:
		return false
	}
}

func (b *PythonBridge) Parse(absPath, relPath, repoID, repoSlug string) (Result, error) {
	code, err := os.ReadFile(absPath)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}

	parser := sitter.NewParser()
	if parser == nil {
		return Result{}, fmt.Errorf("failed to create tree-sitter parser")
	}
	defer parser.Close()

	language := sitter.NewLanguage(tree_sitter_python.Language())
	if err := parser.SetLanguage(language); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}

	tree := parser.Parse(code, nil)
	if tree == nil {
		return Result{}, fmt.Errorf("failed to parse %s", relPath)
	}
	defer tree.Close()

	modulePrefix := modulePathFromRelPath(relPath)

	ex := &pythonExtraction{
		repoID:       repoID,
		repoSlug:     repoSlug,
		relPath:      relPath,
		modulePrefix: modulePrefix,
		code:         code,
	}
	ex.walk(tree.RootNode())

	return Result{Entities: ex.entities, Relationships: ex.relationships}, nil
}

type pythonExtraction struct {
	repoID       string
	repoSlug     string
	relPath      string
	modulePrefix string
	code         []byte

	entities      []graph.Entity
	relationships []graph.Relationship
}

func (ex *pythonExtraction) walk(node *sitter.Node) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "function_definition":
		ex.extractFunction(node)
	case "class_definition":
		ex.extractClass(node)
	case "import_statement", "import_from_statement":
		ex.extractImport(node)
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		ex.walk(node.Child(i))
	}
}

func (ex *pythonExtraction) extractFunction(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	funcName := text(nameNode, ex.code)

	className := findParentClassName(node, ex.code)
	simpleName := funcName
	isMethod := className != ""
	var qualifiedName string
	if isMethod {
		qualifiedName = fmt.Sprintf("%s.%s.%s", ex.modulePrefix, className, funcName)
	} else {
		qualifiedName = fmt.Sprintf("%s.%s", ex.modulePrefix, funcName)
	}

	paramsNode := node.ChildByFieldName("parameters")
	params := extractParamNames(paramsNode, ex.code)

	returnTypeNode := node.ChildByFieldName("return_type")
	returnType := ""
	if returnTypeNode != nil {
		returnType = text(returnTypeNode, ex.code)
	}

	decorators := findDecorators(node, ex.code)
	isAsync := hasAsyncKeyword(node, ex.code)
	hasYield := containsYield(node)

	fn := graph.Function{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: qualifiedName,
		SimpleName:    simpleName,
		FilePath:      ex.relPath,
		LineStart:     int(node.StartPosition().Row) + 1,
		LineEnd:       int(node.EndPosition().Row) + 1,
		Complexity:    cyclomaticComplexity(node),
		Parameters:    params,
		ReturnType:    returnType,
		IsMethod:      isMethod,
		IsStatic:      hasDecorator(decorators, "staticmethod"),
		IsAsync:       isAsync,
		HasYield:      hasYield,
		Decorators:    decorators,
	}
	ex.entities = append(ex.entities, fn)

	if isMethod {
		ex.relationships = append(ex.relationships, graph.Relationship{
			RepoID:    ex.repoID,
			Kind:      graph.RelContains,
			FromLabel: "Class",
			From:      fmt.Sprintf("%s.%s", ex.modulePrefix, className),
			ToLabel:   "Function",
			To:        qualifiedName,
		})
	} else {
		ex.relationships = append(ex.relationships, graph.Relationship{
			RepoID:    ex.repoID,
			Kind:      graph.RelContains,
			FromLabel: "File",
			From:      ex.relPath,
			ToLabel:   "Function",
			To:        qualifiedName,
		})
	}

	ex.extractCalls(node, qualifiedName)
}

func (ex *pythonExtraction) extractClass(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	className := text(nameNode, ex.code)
	qualifiedName := fmt.Sprintf("%s.%s", ex.modulePrefix, className)

	nestingLevel := 0
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "class_definition" {
			nestingLevel++
		}
	}

	cls := graph.Class{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: qualifiedName,
		SimpleName:    className,
		FilePath:      ex.relPath,
		LineStart:     int(node.StartPosition().Row) + 1,
		LineEnd:       int(node.EndPosition().Row) + 1,
		IsException:   strings.HasSuffix(className, "Error") || strings.HasSuffix(className, "Exception"),
		NestingLevel:  nestingLevel,
	}
	ex.entities = append(ex.entities, cls)

	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID:    ex.repoID,
		Kind:      graph.RelContains,
		FromLabel: "File",
		From:      ex.relPath,
		ToLabel:   "Class",
		To:        qualifiedName,
	})

	if superclasses := node.ChildByFieldName("superclasses"); superclasses != nil {
		for _, base := range splitArgList(text(superclasses, ex.code)) {
			if base == "" || base == "object" {
				continue
			}
			ex.relationships = append(ex.relationships, graph.Relationship{
				RepoID:        ex.repoID,
				Kind:          graph.RelInherits,
				FromLabel:     "Class",
				From:          qualifiedName,
				ToLabel:       "Class",
				To:            fmt.Sprintf("%s.%s", ex.modulePrefix, base),
				ExternalLabel: externalLabelIfBuiltin(base, "ExternalClass"),
			})
		}
	}
}

func (ex *pythonExtraction) extractImport(node *sitter.Node) {
	var importPath string

	switch node.Kind() {
	case "import_statement":
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			return
		}
		importPath = text(nameNode, ex.code)
	case "import_from_statement":
		moduleNode := node.ChildByFieldName("module_name")
		if moduleNode == nil {
			return
		}
		importPath = text(moduleNode, ex.code)
	default:
		return
	}

	ex.entities = append(ex.entities, graph.Module{
		RepoID:        ex.repoID,
		RepoSlug:      ex.repoSlug,
		QualifiedName: importPath,
		IsExternal:    true,
	})

	ex.relationships = append(ex.relationships, graph.Relationship{
		RepoID:    ex.repoID,
		Kind:      graph.RelImports,
		FromLabel: "File",
		From:      ex.relPath,
		ToLabel:   "Module",
		To:        importPath,
	})
}

// extractCalls walks fn's body for "call" expressions and emits CALLS
// edges from fn to each callee, marking unresolvable (non-local) callees
// external. This is a best-effort, syntactic resolution — it does
// not perform type inference, matching the Parser Bridge's status as an
// external collaborator whose internals are out of this core's scope.
func (ex *pythonExtraction) extractCalls(fnNode *sitter.Node, fnQualifiedName string) {
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Kind() == "call" {
			if fnChild := n.ChildByFieldName("function"); fnChild != nil {
				callee := text(fnChild, ex.code)
				callee = strings.TrimSuffix(callee, "()")
				if callee != "" {
					ex.relationships = append(ex.relationships, graph.Relationship{
						RepoID:        ex.repoID,
						Kind:          graph.RelCalls,
						FromLabel:     "Function",
						From:          fnQualifiedName,
						ToLabel:       "Function",
						To:            callee,
						ExternalLabel: externalLabelIfBuiltin(callee, "ExternalFunction"),
					})
				}
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}

	if body := fnNode.ChildByFieldName("body"); body != nil {
		walk(body)
	}
}

func text(node *sitter.Node, code []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(code) {
		end = uint(len(code))
	}
	return string(code[start:end])
}

func findParentClassName(node *sitter.Node, code []byte) string {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == "class_definition" {
			if nameNode := p.ChildByFieldName("name"); nameNode != nil {
				return text(nameNode, code)
			}
		}
	}
	return ""
}

func extractParamNames(paramsNode *sitter.Node, code []byte) []string {
	if paramsNode == nil {
		return nil
	}
	var names []string
	for i := uint(0); i < paramsNode.ChildCount(); i++ {
		child := paramsNode.Child(i)
		switch child.Kind() {
		case "identifier":
			names = append(names, text(child, code))
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if nameNode := child.ChildByFieldName("name"); nameNode != nil {
				names = append(names, text(nameNode, code))
			} else if c := child.Child(0); c != nil {
				names = append(names, text(c, code))
			}
		}
	}
	return names
}

func findDecorators(node *sitter.Node, code []byte) []string {
	parent := node.Parent()
	if parent == nil || parent.Kind() != "decorated_definition" {
		return nil
	}
	var decorators []string
	for i := uint(0); i < parent.ChildCount(); i++ {
		child := parent.Child(i)
		if child.Kind() == "decorator" {
			decorators = append(decorators, strings.TrimPrefix(strings.TrimSpace(text(child, code)), "@"))
		}
	}
	return decorators
}

func hasDecorator(decorators []string, name string) bool {
	for _, d := range decorators {
		if d == name {
			return true
		}
	}
	return false
}

func hasAsyncKeyword(node *sitter.Node, code []byte) bool {
	return strings.HasPrefix(text(node, code), "async ")
}

func containsYield(node *sitter.Node) bool {
	found := false
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || found {
			return
		}
		if n.Kind() == "yield" {
			found = true
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		walk(body)
	}
	return found
}

// cyclomaticComplexity counts branch-introducing node kinds within the
// function body, starting from a baseline of 1.
func cyclomaticComplexity(node *sitter.Node) int {
	complexity := 1
	branchKinds := map[string]bool{
		"if_statement": true, "elif_clause": true, "for_statement": true,
		"while_statement": true, "except_clause": true, "with_statement": true,
		"boolean_operator": true, "conditional_expression": true,
	}

	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if branchKinds[n.Kind()] {
			complexity++
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	if body := node.ChildByFieldName("body"); body != nil {
		walk(body)
	}
	return complexity
}

// modulePathFromRelPath turns "pkg/sub/mod.py" into "pkg.sub.mod" so
// qualifiedNames read like Python dotted paths.
func modulePathFromRelPath(relPath string) string {
	trimmed := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	trimmed = strings.TrimSuffix(trimmed, "/__init__")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// splitArgList splits a parenthesized, comma-separated argument-list node's
// text (e.g. "(Base1, Base2)") into trimmed identifiers.
func splitArgList(raw string) []string {
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// builtinNames are Python builtins commonly seen as base classes/call
// targets; anything else is treated as internal-until-proven-external by
// the batch loader's MATCH-both-endpoints requirement — a call or
// base class that is neither a builtin nor resolvable within the repo
// simply fails to MATCH and the edge is skipped, never fabricated.
var builtinNames = map[string]bool{
	"object": true, "Exception": true, "BaseException": true, "ValueError": true,
	"TypeError": true, "KeyError": true, "IndexError": true, "RuntimeError": true,
	"print": true, "len": true, "range": true, "open": true, "isinstance": true,
	"super": true, "dict": true, "list": true, "set": true, "str": true, "int": true,
}

func externalLabelIfBuiltin(name, classLabel string) string {
	base := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		base = name[idx+1:]
	}
	if builtinNames[base] {
		if classLabel == "ExternalClass" {
			return "ExternalClass"
		}
		return "BuiltinFunction"
	}
	return ""
}
