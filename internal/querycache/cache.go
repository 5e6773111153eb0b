// Package querycache materializes the seven fixed aggregation indexes a
// detector phase needs before it can run: functions, classes,
// files, calls/calledBy, inherits/inheritedBy, imports, and
// methodsByClass/parentClass. Every lookup against the materialized Cache
// is O(1); detectors without a cache-aware fast path fall back to Cypher
// directly against the graph.
package querycache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/archgraph/sentinel/internal/graph"
)

// FunctionInfo is the functions[qualifiedName] index value.
type FunctionInfo struct {
	FilePath   string
	LineStart  int
	LineEnd    int
	Complexity int
	Parameters []string
	IsMethod   bool
	IsStatic   bool
	IsAsync    bool
}

// ClassInfo is the classes[qualifiedName] index value.
type ClassInfo struct {
	FilePath  string
	LineStart int
	LineEnd   int
}

// FileInfo is the files[path] index value.
type FileInfo struct {
	Language  string
	LineCount int
	IsTest    bool
}

// Cache is the per-analysis, per-repo materialized index set. It
// must never survive a change of tenant — callers materialize a fresh
// Cache per analysis run and discard it afterward.
type Cache struct {
	RepoID string

	Functions map[string]FunctionInfo
	Classes   map[string]ClassInfo
	Files     map[string]FileInfo

	Calls    map[string]map[string]bool // caller -> set(callee)
	CalledBy map[string]map[string]bool // callee -> set(caller)

	Inherits    map[string]map[string]bool // child -> set(parent)
	InheritedBy map[string]map[string]bool // parent -> set(child)

	Imports map[string]map[string]bool // importer -> set(imported)

	MethodsByClass map[string][]string // classQN -> []functionQN
	ParentClass    map[string]string   // functionQN -> classQN

	MaterializedAt time.Time
}

// indexResult carries one aggregation query's outcome through the fan-out
// below, mirroring the teacher's metrics.Registry channel-collection style
// (internal/metrics/registry.go): a failed index is logged and left empty
// rather than failing the whole materialization.
type indexResult struct {
	name string
	rows []map[string]any
	err  error
}

// Materialize issues the fixed aggregation query set against backend,
// filtered by repoID, and assembles the seven indexes concurrently, the
// same parallel-fan-out-over-a-channel shape the teacher uses
// for its Phase 1 metric calculations.
func Materialize(ctx context.Context, backend graph.Backend, repoID string) (*Cache, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	logger := slog.Default().With("component", "querycache", "repo_id", repoID)

	queries := map[string]string{
		"functions": `MATCH (f:Function {repoId: $repoId}) RETURN f.qualifiedName AS qualifiedName,
			f.filePath AS filePath, f.lineStart AS lineStart, f.lineEnd AS lineEnd,
			f.complexity AS complexity, f.parameters AS parameters,
			f.isMethod AS isMethod, f.isStatic AS isStatic, f.isAsync AS isAsync`,
		"classes": `MATCH (c:Class {repoId: $repoId}) RETURN c.qualifiedName AS qualifiedName,
			c.filePath AS filePath, c.lineStart AS lineStart, c.lineEnd AS lineEnd`,
		"files": `MATCH (f:File {repoId: $repoId}) RETURN f.path AS path, f.language AS language,
			f.lineCount AS lineCount, f.isTest AS isTest`,
		"calls": `MATCH (a:Function {repoId: $repoId})-[:CALLS]->(b) RETURN a.qualifiedName AS caller,
			b.qualifiedName AS callee`,
		"inherits": `MATCH (a:Class {repoId: $repoId})-[:INHERITS]->(b) RETURN a.qualifiedName AS child,
			b.qualifiedName AS parent`,
		"imports": `MATCH (a:File {repoId: $repoId})-[:IMPORTS]->(b:Module) RETURN a.path AS importer,
			b.qualifiedName AS imported`,
		"methodsByClass": `MATCH (c:Class {repoId: $repoId})-[:CONTAINS]->(f:Function) RETURN
			c.qualifiedName AS classQN, f.qualifiedName AS functionQN`,
	}

	resultChan := make(chan indexResult, len(queries))
	for name, query := range queries {
		go func(name, query string) {
			rows, err := backend.ExecuteQuery(ctx, query, map[string]any{"repoId": repoID}, 30*time.Second)
			resultChan <- indexResult{name: name, rows: rows, err: err}
		}(name, query)
	}

	results := make(map[string]indexResult, len(queries))
	for i := 0; i < len(queries); i++ {
		r := <-resultChan
		if r.err != nil {
			logger.Warn("index materialization failed, leaving index empty", "index", r.name, "error", r.err)
		}
		results[r.name] = r
	}

	c := &Cache{
		RepoID:         repoID,
		Functions:      map[string]FunctionInfo{},
		Classes:        map[string]ClassInfo{},
		Files:          map[string]FileInfo{},
		Calls:          map[string]map[string]bool{},
		CalledBy:       map[string]map[string]bool{},
		Inherits:       map[string]map[string]bool{},
		InheritedBy:    map[string]map[string]bool{},
		Imports:        map[string]map[string]bool{},
		MethodsByClass: map[string][]string{},
		ParentClass:    map[string]string{},
		MaterializedAt: time.Now(),
	}

	for _, row := range results["functions"].rows {
		qn, _ := row["qualifiedName"].(string)
		if qn == "" {
			continue
		}
		c.Functions[qn] = FunctionInfo{
			FilePath:   asString(row["filePath"]),
			LineStart:  asInt(row["lineStart"]),
			LineEnd:    asInt(row["lineEnd"]),
			Complexity: asInt(row["complexity"]),
			Parameters: asStringSlice(row["parameters"]),
			IsMethod:   asBool(row["isMethod"]),
			IsStatic:   asBool(row["isStatic"]),
			IsAsync:    asBool(row["isAsync"]),
		}
	}

	for _, row := range results["classes"].rows {
		qn, _ := row["qualifiedName"].(string)
		if qn == "" {
			continue
		}
		c.Classes[qn] = ClassInfo{
			FilePath:  asString(row["filePath"]),
			LineStart: asInt(row["lineStart"]),
			LineEnd:   asInt(row["lineEnd"]),
		}
	}

	for _, row := range results["files"].rows {
		path, _ := row["path"].(string)
		if path == "" {
			continue
		}
		c.Files[path] = FileInfo{
			Language:  asString(row["language"]),
			LineCount: asInt(row["lineCount"]),
			IsTest:    asBool(row["isTest"]),
		}
	}

	for _, row := range results["calls"].rows {
		caller, callee := asString(row["caller"]), asString(row["callee"])
		if caller == "" || callee == "" {
			continue
		}
		addToSetIndex(c.Calls, caller, callee)
		addToSetIndex(c.CalledBy, callee, caller)
	}

	for _, row := range results["inherits"].rows {
		child, parent := asString(row["child"]), asString(row["parent"])
		if child == "" || parent == "" {
			continue
		}
		addToSetIndex(c.Inherits, child, parent)
		addToSetIndex(c.InheritedBy, parent, child)
	}

	for _, row := range results["imports"].rows {
		importer, imported := asString(row["importer"]), asString(row["imported"])
		if importer == "" || imported == "" {
			continue
		}
		addToSetIndex(c.Imports, importer, imported)
	}

	for _, row := range results["methodsByClass"].rows {
		classQN, funcQN := asString(row["classQN"]), asString(row["functionQN"])
		if classQN == "" || funcQN == "" {
			continue
		}
		c.MethodsByClass[classQN] = append(c.MethodsByClass[classQN], funcQN)
		c.ParentClass[funcQN] = classQN
	}

	return c, nil
}

func addToSetIndex(index map[string]map[string]bool, key, value string) {
	set, ok := index[key]
	if !ok {
		set = map[string]bool{}
		index[key] = set
	}
	set[value] = true
}

// Callees returns the callee set of caller, in no defined order, or nil.
func (c *Cache) Callees(caller string) []string { return setKeys(c.Calls[caller]) }

// Callers returns the caller set of callee, or nil.
func (c *Cache) Callers(callee string) []string { return setKeys(c.CalledBy[callee]) }

// Parents returns the direct base-class set of child, or nil.
func (c *Cache) Parents(child string) []string { return setKeys(c.Inherits[child]) }

// Children returns the direct subclass set of parent, or nil.
func (c *Cache) Children(parent string) []string { return setKeys(c.InheritedBy[parent]) }

// ImportedModules returns the set of modules importer imports, or nil.
func (c *Cache) ImportedModules(importer string) []string { return setKeys(c.Imports[importer]) }

func setKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// ErrNilBackend is returned when Materialize is called with a nil backend.
var ErrNilBackend = fmt.Errorf("querycache: backend must not be nil")
