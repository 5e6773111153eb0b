package graph

import "fmt"

// Entity is anything the Ingestion Pipeline can batch-upsert into the graph.
// Label and UniqueKey generalize the teacher's per-type getUniqueKey switch
// (neo4j_backend.go) into a registry keyed by label, since this schema has
// six entity types (File, Module, Class, Function, ExternalSymbol,
// DetectorMetadata) instead of the teacher's fixed File/Developer/Commit/PR/Issue set.
type Entity interface {
	Label() string
	UniqueKey() (key string, value any)
	Props() map[string]any
}

// RelationshipKind enumerates the edge types in the schema.
type RelationshipKind string

const (
	RelContains RelationshipKind = "CONTAINS"
	RelCalls    RelationshipKind = "CALLS"
	RelInherits RelationshipKind = "INHERITS"
	RelImports  RelationshipKind = "IMPORTS"
	RelUses     RelationshipKind = "USES"
	RelFlaggedBy RelationshipKind = "FLAGGED_BY"
)

// Relationship names endpoints by qualifiedName. External targets
// carry ExternalLabel (e.g. "ExternalFunction"), which BatchCreateRelationships
// uses instead of ToLabel when matching the target node.
type Relationship struct {
	RepoID        string
	Kind          RelationshipKind
	FromLabel     string
	From          string // qualifiedName or path
	ToLabel       string
	To            string
	ExternalLabel string // set when To names a builtin/library symbol
	Props         map[string]any
}

func (r Relationship) IsExternal() bool {
	return r.ExternalLabel != ""
}

// matchKeyForLabel returns the property BatchCreateRelationships matches
// endpoints on for a given label. File is keyed on path; every other node
// type in the schema is keyed on qualifiedName; DetectorMetadata is keyed
// on its own globally unique id and never composited with repoId.
func matchKeyForLabel(label string) string {
	switch label {
	case "File":
		return "path"
	case "DetectorMetadata":
		return "id"
	default:
		return "qualifiedName"
	}
}

// matchValueForLabel composites repoId into the match value the same way
// UniqueKey() does for that label's entity, so relationship endpoints line
// up with the nodes BatchCreateNodes already MERGEd.
func matchValueForLabel(repoID, label, value string) string {
	if label == "DetectorMetadata" {
		return value
	}
	return fmt.Sprintf("%s::%s", repoID, value)
}

// File is the root container node; its unique key is repo-relative path,
// not qualifiedName.
type File struct {
	RepoID      string
	RepoSlug    string
	Path        string
	Language    string
	LineCount   int
	ContentHash string
	LastModified string
	IsTest      bool
}

func (f File) Label() string { return "File" }

func (f File) UniqueKey() (string, any) { return "path", fileUniqueValue(f.RepoID, f.Path) }

func (f File) Props() map[string]any {
	return map[string]any{
		"repoId":       f.RepoID,
		"repoSlug":     f.RepoSlug,
		"path":         f.Path,
		"language":     f.Language,
		"lineCount":    f.LineCount,
		"contentHash":  f.ContentHash,
		"lastModified": f.LastModified,
		"isTest":       f.IsTest,
	}
}

// fileUniqueValue composites repoId into the unique key value so that File
// nodes across tenants never collide on a bare path like "utils.py"
// (scenario 3, cross-tenant isolation) even within the defense-in-depth
// repoId filter.
func fileUniqueValue(repoID, path string) string {
	return fmt.Sprintf("%s::%s", repoID, path)
}

// Module represents a first-party or external import target.
type Module struct {
	RepoID        string
	RepoSlug      string
	QualifiedName string
	IsExternal    bool
}

func (m Module) Label() string { return "Module" }

func (m Module) UniqueKey() (string, any) {
	return "qualifiedName", fmt.Sprintf("%s::%s", m.RepoID, m.QualifiedName)
}

func (m Module) Props() map[string]any {
	return map[string]any{
		"repoId":        m.RepoID,
		"repoSlug":      m.RepoSlug,
		"qualifiedName": m.QualifiedName,
		"isExternal":    m.IsExternal,
	}
}

// Class is the graph's Class entity.
type Class struct {
	RepoID        string
	RepoSlug      string
	QualifiedName string
	SimpleName    string
	FilePath      string
	LineStart     int
	LineEnd       int
	IsAbstract    bool
	IsException   bool
	IsDataclass   bool
	NestingLevel  int
}

func (c Class) Label() string { return "Class" }

func (c Class) UniqueKey() (string, any) {
	return "qualifiedName", fmt.Sprintf("%s::%s", c.RepoID, c.QualifiedName)
}

func (c Class) Props() map[string]any {
	return map[string]any{
		"repoId":        c.RepoID,
		"repoSlug":      c.RepoSlug,
		"qualifiedName": c.QualifiedName,
		"simpleName":    c.SimpleName,
		"filePath":      c.FilePath,
		"lineStart":     c.LineStart,
		"lineEnd":       c.LineEnd,
		"isAbstract":    c.IsAbstract,
		"isException":   c.IsException,
		"isDataclass":   c.IsDataclass,
		"nestingLevel":  c.NestingLevel,
	}
}

// Function is the graph's Function entity.
type Function struct {
	RepoID        string
	RepoSlug      string
	QualifiedName string
	SimpleName    string
	FilePath      string
	LineStart     int
	LineEnd       int
	Complexity    int
	Parameters    []string
	ReturnType    string
	IsMethod      bool
	IsStatic      bool
	IsAsync       bool
	HasYield      bool
	Decorators    []string
}

func (f Function) Label() string { return "Function" }

func (f Function) UniqueKey() (string, any) {
	return "qualifiedName", fmt.Sprintf("%s::%s", f.RepoID, f.QualifiedName)
}

func (f Function) Props() map[string]any {
	return map[string]any{
		"repoId":        f.RepoID,
		"repoSlug":      f.RepoSlug,
		"qualifiedName": f.QualifiedName,
		"simpleName":    f.SimpleName,
		"filePath":      f.FilePath,
		"lineStart":     f.LineStart,
		"lineEnd":       f.LineEnd,
		"complexity":    f.Complexity,
		"parameters":    f.Parameters,
		"returnType":    f.ReturnType,
		"isMethod":      f.IsMethod,
		"isStatic":      f.IsStatic,
		"isAsync":       f.IsAsync,
		"hasYield":      f.HasYield,
		"decorators":    f.Decorators,
	}
}

// ExternalSymbol materializes a builtin/library call target. Label is
// one of BuiltinFunction/ExternalFunction/ExternalClass, mirroring the
// teacher's parseNodeID label-prefix convention but keyed on qualifiedName
// rather than a positional "label:id" string.
type ExternalSymbol struct {
	RepoID        string
	Label_        string
	QualifiedName string
}

func (e ExternalSymbol) Label() string { return e.Label_ }

func (e ExternalSymbol) UniqueKey() (string, any) {
	return "qualifiedName", fmt.Sprintf("%s::%s", e.RepoID, e.QualifiedName)
}

func (e ExternalSymbol) Props() map[string]any {
	return map[string]any{
		"repoId":        e.RepoID,
		"qualifiedName": e.QualifiedName,
		"external":      true,
	}
}

// DetectorMetadata is a Flag, per the glossary: an analysis-run-scoped node
// linked FLAGGED_BY from the entity it describes.
type DetectorMetadata struct {
	ID           string
	RepoID       string
	AnalysisRunID string
	Detector     string
	Severity     string
	Issues       []string
	Confidence   float64
	Timestamp    string
	MetadataJSON string
}

func (d DetectorMetadata) Label() string { return "DetectorMetadata" }

func (d DetectorMetadata) UniqueKey() (string, any) { return "id", d.ID }

func (d DetectorMetadata) Props() map[string]any {
	return map[string]any{
		"id":            d.ID,
		"repoId":        d.RepoID,
		"analysisRunId": d.AnalysisRunID,
		"detector":      d.Detector,
		"severity":      d.Severity,
		"issues":        d.Issues,
		"confidence":    d.Confidence,
		"timestamp":     d.Timestamp,
		"metadataJson":  d.MetadataJSON,
	}
}
