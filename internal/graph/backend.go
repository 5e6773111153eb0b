package graph

import (
	"context"
	"time"
)

// FileMetadata is the hash-gating input for incremental diffing.
type FileMetadata struct {
	Hash         string
	LastModified string
}

// Backend defines the interface for graph database operations. Both Neo4j
// (Cypher) and Gremlin-style stores can implement it; upper layers must
// never branch on backend name, only on the feature-flag properties below.
type Backend interface {
	// ExecuteQuery runs a parameterized read/write query and returns a list
	// of homogeneous row maps. Implementations classify failures as transient
	// (retried with backoff) or permanent (propagated immediately).
	ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error)

	// BatchCreateNodes groups entities by label and MERGEs each group in one
	// statement, matching on the label's unique key and re-assigning all
	// mapped properties on match.
	BatchCreateNodes(ctx context.Context, entities []Entity) error

	// BatchCreateRelationships groups relationships by kind and MERGEs each
	// edge between two nodes that already exist. An external relationship's
	// target is looked up under its ExternalLabel; the target node is not
	// created here, and an edge with a missing endpoint is not written.
	BatchCreateRelationships(ctx context.Context, rels []Relationship) error

	// DeleteFileEntities removes the File node at path and everything it
	// CONTAINS, returning the count of removed nodes.
	DeleteFileEntities(ctx context.Context, repoID, path string) (int, error)

	// DeleteRepository purges every node tagged with repoID.
	DeleteRepository(ctx context.Context, repoID string) (int, error)

	// GetAllFilePaths lists every File.path currently tagged with repoID.
	GetAllFilePaths(ctx context.Context, repoID string) ([]string, error)

	// GetFileMetadata returns the stored hash/lastModified for a path, used
	// by the ingestion diff step. Returns (nil, nil) when the file is unknown.
	GetFileMetadata(ctx context.Context, repoID, path string) (*FileMetadata, error)

	// CreateIndexes creates the schema index set appropriate to the backend
	// appropriate to the backend; idempotent.
	CreateIndexes(ctx context.Context) error

	// Feature flags let upper layers adapt without naming the backend.
	SupportsTemporalTypes() bool
	SupportsConstraints() bool
	SupportsFullTextIndex() bool

	Close() error
}
