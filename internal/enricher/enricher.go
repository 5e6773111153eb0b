// Package enricher implements the Graph Enricher (C7): detector findings
// are written back into the graph as DetectorMetadata nodes linked
// FLAGGED_BY from the entity they describe. Enrichment is advisory
// collaboration, never load-bearing for a detector run — FlagEntity
// swallows its own failures after logging them (the read and cleanup
// methods return theirs), the same tolerant
// style the teacher's cache client uses for Redis misses and errors
// (internal/cache/redis_client.go).
package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/archgraph/sentinel/internal/graph"
)

// Flag is the DetectorMetadata view callers read back.
type Flag struct {
	ID            string
	EntityQN      string
	Detector      string
	Severity      string
	Issues        []string
	Confidence    float64
	Timestamp     string
	Metadata      map[string]any
}

// Enricher writes and reads DetectorMetadata flags for one analysis run.
type Enricher struct {
	backend graph.Backend
	logger  *slog.Logger
}

// New creates an Enricher bound to backend.
func New(backend graph.Backend) *Enricher {
	return &Enricher{
		backend: backend,
		logger:  slog.Default().With("component", "enricher"),
	}
}

// FlagEntity creates or updates a DetectorMetadata node linked FLAGGED_BY
// from entityQN, storing metadata as a JSON-encoded string to avoid schema
// churn. Per the failure contract, an error here is logged and
// swallowed rather than returned to a caller whose detector run must not
// abort because enrichment failed — callers that need to observe the
// outcome should inspect the returned bool.
func (e *Enricher) FlagEntity(ctx context.Context, repoID, analysisRunID, entityQN, detector, severity string, issues []string, confidence float64, metadata map[string]any) bool {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		e.logger.Warn("flagEntity: failed to marshal metadata, flagging without it", "entity", entityQN, "detector", detector, "error", err)
		metadataJSON = []byte("{}")
	}

	flag := graph.DetectorMetadata{
		ID:            uuid.NewString(),
		RepoID:        repoID,
		AnalysisRunID: analysisRunID,
		Detector:      detector,
		Severity:      severity,
		Issues:        issues,
		Confidence:    confidence,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		MetadataJSON:  string(metadataJSON),
	}

	if err := e.backend.BatchCreateNodes(ctx, []graph.Entity{flag}); err != nil {
		e.logger.Warn("flagEntity: failed to create DetectorMetadata node", "entity", entityQN, "detector", detector, "error", err)
		return false
	}

	rel := graph.Relationship{
		RepoID: repoID, Kind: graph.RelFlaggedBy,
		FromLabel: entityLabelGuess(entityQN), From: entityQN,
		ToLabel: "DetectorMetadata", To: flag.ID,
	}
	if err := e.backend.BatchCreateRelationships(ctx, []graph.Relationship{rel}); err != nil {
		e.logger.Warn("flagEntity: failed to link FLAGGED_BY edge", "entity", entityQN, "detector", detector, "error", err)
		return false
	}

	return true
}

// entityLabelGuess is a deliberately loose guess at the flagged entity's
// label: FLAGGED_BY's FromLabel only matters for readability of the
// written edge, since BatchCreateRelationships matches File on "path" and
// everything else on "qualifiedName" (matchKeyForLabel) — Function/Class
// both match correctly under the generic "qualifiedName" key regardless
// of which of the two this guesses.
func entityLabelGuess(entityQN string) string {
	return "Function"
}

// GetEntityFlags returns every flag attached to entityQN.
func (e *Enricher) GetEntityFlags(ctx context.Context, repoID, entityQN string) ([]Flag, error) {
	query := `MATCH (n {qualifiedName: $entityQN, repoId: $repoId})-[:FLAGGED_BY]->(d:DetectorMetadata)
		RETURN d.id AS id, d.detector AS detector, d.severity AS severity, d.issues AS issues,
		d.confidence AS confidence, d.timestamp AS timestamp, d.metadataJson AS metadataJson`
	rows, err := e.backend.ExecuteQuery(ctx, query, map[string]any{
		"entityQN": entityQN,
		"repoId":   repoID,
	}, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("get entity flags: %w", err)
	}
	return rowsToFlags(entityQN, rows), nil
}

// IsEntityFlagged reports whether entityQN carries at least one flag,
// optionally restricted to a specific detector.
func (e *Enricher) IsEntityFlagged(ctx context.Context, repoID, entityQN, detector string) (bool, error) {
	flags, err := e.GetEntityFlags(ctx, repoID, entityQN)
	if err != nil {
		return false, err
	}
	if detector == "" {
		return len(flags) > 0, nil
	}
	for _, f := range flags {
		if f.Detector == detector {
			return true, nil
		}
	}
	return false, nil
}

// GetFlaggedEntitiesFilter narrows GetFlaggedEntities; zero values mean
// "no restriction" on that dimension.
type GetFlaggedEntitiesFilter struct {
	Detector      string
	Severity      string
	MinConfidence float64
}

// GetFlaggedEntities returns a filtered listing of (entityQN, Flag) pairs.
func (e *Enricher) GetFlaggedEntities(ctx context.Context, repoID string, filter GetFlaggedEntitiesFilter) (map[string][]Flag, error) {
	conditions := []string{"d.repoId = $repoId", "d.confidence >= $minConfidence"}
	params := map[string]any{"repoId": repoID, "minConfidence": filter.MinConfidence}

	if filter.Detector != "" {
		conditions = append(conditions, "d.detector = $detector")
		params["detector"] = filter.Detector
	}
	if filter.Severity != "" {
		conditions = append(conditions, "d.severity = $severity")
		params["severity"] = filter.Severity
	}

	query := fmt.Sprintf(`MATCH (n)-[:FLAGGED_BY]->(d:DetectorMetadata) WHERE %s
		RETURN n.qualifiedName AS entityQN, d.id AS id, d.detector AS detector,
		d.severity AS severity, d.issues AS issues, d.confidence AS confidence,
		d.timestamp AS timestamp, d.metadataJson AS metadataJson`, joinAnd(conditions))

	rows, err := e.backend.ExecuteQuery(ctx, query, params, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("get flagged entities: %w", err)
	}

	byEntity := map[string][]Flag{}
	for _, row := range rows {
		entityQN, _ := row["entityQN"].(string)
		byEntity[entityQN] = append(byEntity[entityQN], rowToFlag(entityQN, row))
	}
	return byEntity, nil
}

// GetDuplicateFindings reports whether entityQN is flagged by at least
// minDetectors distinct detectors — a hotspot signal — and returns the
// entity's flags.
func (e *Enricher) GetDuplicateFindings(ctx context.Context, repoID, entityQN string, minDetectors int) (bool, []Flag, error) {
	flags, err := e.GetEntityFlags(ctx, repoID, entityQN)
	if err != nil {
		return false, nil, err
	}
	distinct := map[string]bool{}
	for _, f := range flags {
		distinct[f.Detector] = true
	}
	return len(distinct) >= minDetectors, flags, nil
}

// HotspotFilter narrows FindHotspots; zero Severity means no restriction.
type HotspotFilter struct {
	MinDetectors  int
	MinConfidence float64
	Severity      string
}

// FindHotspots ranks entities repo-wide by distinct-detector flag count,
// descending, with ties in qualified-name order.
func (e *Enricher) FindHotspots(ctx context.Context, repoID string, filter HotspotFilter) ([]string, error) {
	byEntity, err := e.GetFlaggedEntities(ctx, repoID, GetFlaggedEntitiesFilter{
		Severity:      filter.Severity,
		MinConfidence: filter.MinConfidence,
	})
	if err != nil {
		return nil, err
	}

	var hotspots []string
	counts := map[string]int{}
	for entityQN, flags := range byEntity {
		distinct := map[string]bool{}
		for _, f := range flags {
			distinct[f.Detector] = true
		}
		if len(distinct) >= filter.MinDetectors {
			hotspots = append(hotspots, entityQN)
			counts[entityQN] = len(distinct)
		}
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if counts[hotspots[i]] != counts[hotspots[j]] {
			return counts[hotspots[i]] > counts[hotspots[j]]
		}
		return hotspots[i] < hotspots[j]
	})
	return hotspots, nil
}

// CleanupMetadata bulk-removes DetectorMetadata nodes, optionally scoped to
// one detector; the engine calls this at analysis start to guarantee a
// clean slate. Unlike FlagEntity, a cleanup failure is returned to
// the caller — a stale flag surviving cleanup is a correctness problem for
// the detector run that follows, not merely advisory.
func (e *Enricher) CleanupMetadata(ctx context.Context, repoID, detector string) error {
	conditions := []string{"d.repoId = $repoId"}
	params := map[string]any{"repoId": repoID}
	if detector != "" {
		conditions = append(conditions, "d.detector = $detector")
		params["detector"] = detector
	}

	query := fmt.Sprintf(`MATCH (d:DetectorMetadata) WHERE %s DETACH DELETE d`, joinAnd(conditions))
	if _, err := e.backend.ExecuteQuery(ctx, query, params, 30*time.Second); err != nil {
		return fmt.Errorf("cleanup metadata: %w", err)
	}
	return nil
}

func rowsToFlags(entityQN string, rows []map[string]any) []Flag {
	flags := make([]Flag, 0, len(rows))
	for _, row := range rows {
		flags = append(flags, rowToFlag(entityQN, row))
	}
	return flags
}

func rowToFlag(entityQN string, row map[string]any) Flag {
	var metadata map[string]any
	if raw, ok := row["metadataJson"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &metadata)
	}

	return Flag{
		ID:         asString(row["id"]),
		EntityQN:   entityQN,
		Detector:   asString(row["detector"]),
		Severity:   asString(row["severity"]),
		Issues:     asStringSlice(row["issues"]),
		Confidence: asFloat(row["confidence"]),
		Timestamp:  asString(row["timestamp"]),
		Metadata:   metadata,
	}
}

func joinAnd(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
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
