package graph

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/archgraph/sentinel/internal/apperrors"
)

// Neo4jBackend implements Backend against a Neo4j cluster via the v5 driver's
// ExecuteQuery API. All writes are idempotent MERGE statements so retries
// after a transient failure never double-create entities.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	config   BatchConfig
	retry    RetryPolicy
}

// RetryPolicy controls the exponential backoff applied to transient faults
// classified by apperrors.IsRetryable.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy backs off 200ms, 400ms, 800ms, 1.6s (capped at 5s) with
// full jitter, giving up after 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// NewNeo4jBackend creates a Neo4j-backed Backend and verifies connectivity
// before returning, so startup fails fast rather than on the first query.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(username, password, ""),
		func(cfg *neo4j.Config) {
			cfg.MaxConnectionPoolSize = 50
			cfg.ConnectionAcquisitionTimeout = 60 * time.Second
			cfg.MaxConnectionLifetime = time.Hour
			cfg.SocketConnectTimeout = 5 * time.Second
			cfg.SocketKeepalive = true
		})
	if err != nil {
		return nil, apperrors.NetworkError(err, "failed to create neo4j driver")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, apperrors.NetworkError(err, fmt.Sprintf("failed to connect to neo4j at %s", uri))
	}

	return &Neo4jBackend{
		driver:   driver,
		database: database,
		config:   DefaultBatchConfig(),
		retry:    DefaultRetryPolicy(),
	}, nil
}

// withRetry runs fn, retrying transient faults (apperrors.IsRetryable) with
// exponential backoff and full jitter. Permanent faults propagate immediately.
func (n *Neo4jBackend) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < n.retry.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.IsRetryable(classifyNeo4jError(op, err)) {
			return err
		}
		if attempt == n.retry.MaxAttempts-1 {
			break
		}

		delay := time.Duration(math.Min(
			float64(n.retry.BaseDelay)*math.Pow(2, float64(attempt)),
			float64(n.retry.MaxDelay),
		))
		jittered := time.Duration(rand.Int63n(int64(delay) + 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
	}
	return fmt.Errorf("%s: exhausted %d retries: %w", op, n.retry.MaxAttempts, lastErr)
}

// classifyNeo4jError tags a raw driver error as transient or permanent so
// withRetry and callers higher up (the Job Runner) can make consistent
// retry decisions without re-deriving neo4j-specific classification logic.
func classifyNeo4jError(op string, err error) *apperrors.Error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*apperrors.Error); ok {
		return appErr
	}

	// neo4j.IsRetryable recognizes deadlocks, leader switches, and
	// connection resets; everything else (syntax errors, constraint
	// violations) is permanent.
	if neo4j.IsRetryable(err) {
		return apperrors.NetworkError(err, op).WithContext("transient", true)
	}
	return apperrors.DatabaseError(err, op)
}

// ExecuteQuery runs a parameterized query with a timeout and retry policy,
// returning every result row as a map.
func (n *Neo4jBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	var rows []map[string]any

	err := n.withRetry(ctx, "ExecuteQuery", func() error {
		queryCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			queryCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := neo4j.ExecuteQuery(queryCtx, n.driver, query, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(n.database))
		if err != nil {
			return err
		}

		rows = make([]map[string]any, 0, len(result.Records))
		for _, record := range result.Records {
			rows = append(rows, record.AsMap())
		}
		return nil
	})

	return rows, err
}

// BatchCreateNodes groups entities by label and MERGEs each group in one
// UNWIND statement, matching on the label's unique key. SET n += row
// re-assigns every mapped property whether the node was just created or
// already existed.
func (n *Neo4jBackend) BatchCreateNodes(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}

	byLabel := make(map[string][]Entity)
	for _, e := range entities {
		byLabel[e.Label()] = append(byLabel[e.Label()], e)
	}

	for label, group := range byLabel {
		uniqueKey, _ := group[0].UniqueKey()
		batchSize := n.config.GetBatchSizeForLabel(label)

		for i := 0; i < len(group); i += batchSize {
			end := i + batchSize
			if end > len(group) {
				end = len(group)
			}
			rows := make([]map[string]any, end-i)
			for j, e := range group[i:end] {
				rows[j] = e.Props()
			}

			query := fmt.Sprintf(
				"UNWIND $rows AS row MERGE (n:%s {%s: row.%s}) SET n += row",
				label, uniqueKey, uniqueKey,
			)

			if err := n.withRetry(ctx, "BatchCreateNodes:"+label, func() error {
				_, err := neo4j.ExecuteQuery(ctx, n.driver, query,
					map[string]any{"rows": rows},
					neo4j.EagerResultTransformer,
					neo4j.ExecuteQueryWithDatabase(n.database))
				return err
			}); err != nil {
				return fmt.Errorf("batch create %s nodes (rows %d-%d): %w", label, i, end, err)
			}
		}
	}

	return nil
}

// BatchCreateRelationships groups relationships by kind and loads each group
// with a single UNWIND + MATCH + MERGE statement. External relationships
// are no different at this layer: the ExternalSymbol node they target
// must already exist via a prior BatchCreateNodes call, so the match logic
// is identical for internal and external edges — only the target label
// used to compute the match key differs.
func (n *Neo4jBackend) BatchCreateRelationships(ctx context.Context, rels []Relationship) error {
	if len(rels) == 0 {
		return nil
	}

	byKind := make(map[RelationshipKind][]Relationship)
	for _, r := range rels {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	batchSize := n.config.EdgeBatchSize

	for kind, group := range byKind {
		for i := 0; i < len(group); i += batchSize {
			end := i + batchSize
			if end > len(group) {
				end = len(group)
			}
			batch := group[i:end]

			rows := make([]map[string]any, len(batch))
			for j, r := range batch {
				toLabel := r.ToLabel
				if r.IsExternal() {
					toLabel = r.ExternalLabel
				}
				rows[j] = map[string]any{
					"fromKey":   matchKeyForLabel(r.FromLabel),
					"fromValue": matchValueForLabel(r.RepoID, r.FromLabel, r.From),
					"toKey":     matchKeyForLabel(toLabel),
					"toValue":   matchValueForLabel(r.RepoID, toLabel, r.To),
					"props":     r.Props,
				}
			}

			query := fmt.Sprintf(`
				UNWIND $rows AS row
				MATCH (from) WHERE from[row.fromKey] = row.fromValue
				MATCH (to) WHERE to[row.toKey] = row.toValue
				MERGE (from)-[rel:%s]->(to)
				SET rel += row.props
			`, kind)

			if err := n.withRetry(ctx, "BatchCreateRelationships:"+string(kind), func() error {
				_, err := neo4j.ExecuteQuery(ctx, n.driver, query,
					map[string]any{"rows": rows},
					neo4j.EagerResultTransformer,
					neo4j.ExecuteQueryWithDatabase(n.database))
				return err
			}); err != nil {
				return fmt.Errorf("batch create %s relationships (rows %d-%d): %w", kind, i, end, err)
			}
		}
	}

	return nil
}

// DeleteFileEntities removes the File node at path and everything it
// transitively CONTAINS (classes, functions), matched through the repoId
// property as a defense-in-depth check in addition to the composite key.
func (n *Neo4jBackend) DeleteFileEntities(ctx context.Context, repoID, path string) (int, error) {
	query := `
		MATCH (f:File {path: $path, repoId: $repoId})
		OPTIONAL MATCH (f)-[:CONTAINS*0..]->(n)
		WITH f, collect(DISTINCT n) + f AS doomed
		UNWIND doomed AS d
		DETACH DELETE d
		RETURN count(d) AS deleted
	`
	pathKey := matchValueForLabel(repoID, "File", path)

	var deleted int
	err := n.withRetry(ctx, "DeleteFileEntities", func() error {
		result, err := neo4j.ExecuteQuery(ctx, n.driver, query,
			map[string]any{"path": pathKey, "repoId": repoID},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(n.database))
		if err != nil {
			return err
		}
		if len(result.Records) > 0 {
			if v, ok := result.Records[0].Get("deleted"); ok {
				deleted = int(v.(int64))
			}
		}
		return nil
	})

	return deleted, err
}

// DeleteRepository purges every node tagged with repoID, regardless of
// label, in batches to avoid a single unbounded transaction on large graphs.
func (n *Neo4jBackend) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	query := `
		MATCH (n {repoId: $repoId})
		WITH n LIMIT 10000
		DETACH DELETE n
		RETURN count(n) AS deleted
	`

	total := 0
	for {
		var batchDeleted int
		err := n.withRetry(ctx, "DeleteRepository", func() error {
			result, err := neo4j.ExecuteQuery(ctx, n.driver, query,
				map[string]any{"repoId": repoID},
				neo4j.EagerResultTransformer,
				neo4j.ExecuteQueryWithDatabase(n.database))
			if err != nil {
				return err
			}
			if len(result.Records) > 0 {
				if v, ok := result.Records[0].Get("deleted"); ok {
					batchDeleted = int(v.(int64))
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += batchDeleted
		if batchDeleted < 10000 {
			break
		}
	}

	return total, nil
}

// GetAllFilePaths lists every File.path tagged with repoID, for the
// ingestion diff step's orphan-detection pass.
func (n *Neo4jBackend) GetAllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	query := `MATCH (f:File {repoId: $repoId}) RETURN f.path AS path`

	rows, err := n.ExecuteQuery(ctx, query, map[string]any{"repoId": repoID}, 60*time.Second)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(rows))
	for _, row := range rows {
		if p, ok := row["path"].(string); ok {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// GetFileMetadata returns the stored hash/lastModified for a path, used to
// gate re-parsing on content change. Returns (nil, nil)
// when the file is not yet known to the graph.
func (n *Neo4jBackend) GetFileMetadata(ctx context.Context, repoID, path string) (*FileMetadata, error) {
	query := `
		MATCH (f:File {path: $path, repoId: $repoId})
		RETURN f.contentHash AS hash, f.lastModified AS lastModified
	`
	pathKey := matchValueForLabel(repoID, "File", path)

	rows, err := n.ExecuteQuery(ctx, query, map[string]any{"path": pathKey, "repoId": repoID}, 30*time.Second)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	meta := &FileMetadata{}
	if h, ok := rows[0]["hash"].(string); ok {
		meta.Hash = h
	}
	if lm, ok := rows[0]["lastModified"].(string); ok {
		meta.LastModified = lm
	}
	return meta, nil
}

// CreateIndexes creates the schema index set for the backend. Index creation is
// itself idempotent in Neo4j (IF NOT EXISTS), so this is safe to call on
// every tenant-factory provisioning pass.
func (n *Neo4jBackend) CreateIndexes(ctx context.Context) error {
	statements := []string{
		"CREATE INDEX file_repo_path IF NOT EXISTS FOR (f:File) ON (f.repoId, f.path)",
		"CREATE INDEX file_path IF NOT EXISTS FOR (f:File) ON (f.path)",
		"CREATE INDEX module_qualified_name IF NOT EXISTS FOR (m:Module) ON (m.qualifiedName)",
		"CREATE INDEX class_qualified_name IF NOT EXISTS FOR (c:Class) ON (c.qualifiedName)",
		"CREATE INDEX function_qualified_name IF NOT EXISTS FOR (fn:Function) ON (fn.qualifiedName)",
		"CREATE INDEX detector_metadata_id IF NOT EXISTS FOR (d:DetectorMetadata) ON (d.id)",
		"CREATE INDEX detector_metadata_run IF NOT EXISTS FOR (d:DetectorMetadata) ON (d.analysisRunId)",
	}

	for _, stmt := range statements {
		if err := n.withRetry(ctx, "CreateIndexes", func() error {
			_, err := neo4j.ExecuteQuery(ctx, n.driver, stmt, nil,
				neo4j.EagerResultTransformer,
				neo4j.ExecuteQueryWithDatabase(n.database))
			return err
		}); err != nil {
			return fmt.Errorf("create index (%s): %w", stmt, err)
		}
	}

	return nil
}

func (n *Neo4jBackend) SupportsTemporalTypes() bool { return true }
func (n *Neo4jBackend) SupportsConstraints() bool   { return true }
func (n *Neo4jBackend) SupportsFullTextIndex() bool { return true }

// Close closes the Neo4j driver connection.
func (n *Neo4jBackend) Close() error {
	return n.driver.Close(context.Background())
}
