// Package ingestion orchestrates scan -> diff-against-graph -> parse ->
// batch-upsert -> delete-removed for a single repository, tagging every
// entity with its tenant-and-repo identity.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/archgraph/sentinel/internal/graph"
	"github.com/archgraph/sentinel/internal/parserbridge"
	"github.com/archgraph/sentinel/internal/scanner"
)

// DefaultBatchSize is the buffered-entity count that triggers a flush to the
// backend when Input.BatchSize is not positive.
const DefaultBatchSize = 100

// ProgressFunc reports (current, total, filename) as files are processed.
type ProgressFunc func(current, total int, filename string)

// OnFileChangedFunc is the dependency-aware re-ingestion extension point
// named in the Open Question decision (see DESIGN.md): called once per
// successfully parsed file (every file in a full run, new/changed files in
// an incremental run) after its entities are buffered for loading; the
// buffer may not have been flushed to the backend yet. A higher layer may
// schedule re-analysis of files that import it. The core itself never
// calls back into itself transitively.
type OnFileChangedFunc func(relPath string)

// Input configures a single ingestion run.
type Input struct {
	Root         string
	Backend      graph.Backend
	RepoID       string
	RepoSlug     string
	Incremental  bool
	BatchSize    int
	Patterns     []string
	Progress     ProgressFunc
	OnFileChanged OnFileChangedFunc
}

// Result is the run summary returned to callers.
type Result struct {
	FilesNew       int
	FilesChanged   int
	FilesUnchanged int
	FilesDeleted   int
	FilesFailed    int
	FilesSkipped   []scanner.Skipped
	DurationSec    float64
	FilesPerSec    float64
}

// Pipeline runs ingestion against one tenant-scoped backend, using registry
// to dispatch file bytes to a Parser Bridge.
type Pipeline struct {
	registry *parserbridge.Registry
	logger   *logrus.Logger
}

// New creates a Pipeline. logger may be nil, in which case a standard
// logrus.Logger is used (the teacher's ambient logging choice throughout
// internal/ingestion).
func New(registry *parserbridge.Registry, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{registry: registry, logger: logger}
}

// Run executes the full pipeline: schema ensure, scan, diff, parse+load,
// flush, report.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	batchSize := in.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	log := p.logger.WithFields(logrus.Fields{"repo_id": in.RepoID, "incremental": in.Incremental})

	// Step 1: schema ensure.
	if err := in.Backend.CreateIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	// Step 2: scan.
	sc, err := scanner.New(in.Root)
	if err != nil {
		return nil, fmt.Errorf("open scanner: %w", err)
	}
	files, skipped, err := sc.Scan(scanner.Options{Patterns: in.Patterns})
	if err != nil {
		return nil, fmt.Errorf("scan repository: %w", err)
	}
	log.WithField("files_found", len(files)).Info("scan complete")

	result := &Result{FilesSkipped: skipped}

	// Step 3: diff (incremental only).
	toProcess := files
	if in.Incremental {
		toProcess, result.FilesNew, result.FilesChanged, result.FilesUnchanged, err =
			p.diff(ctx, in.Backend, in.RepoID, files)
		if err != nil {
			return nil, fmt.Errorf("diff against graph: %w", err)
		}

		deleted, err := p.cleanupDeletedFiles(ctx, in.Backend, in.RepoID, files)
		if err != nil {
			return nil, fmt.Errorf("cleanup deleted files: %w", err)
		}
		result.FilesDeleted = deleted
	}

	// Steps 4-5: parse, load, flush.
	var entityBuf []graph.Entity
	var relBuf []graph.Relationship

	flush := func() error {
		if len(entityBuf) == 0 {
			return nil
		}
		if err := in.Backend.BatchCreateNodes(ctx, entityBuf); err != nil {
			return fmt.Errorf("batch create nodes: %w", err)
		}
		if len(relBuf) > 0 {
			if err := in.Backend.BatchCreateRelationships(ctx, relBuf); err != nil {
				return fmt.Errorf("batch create relationships: %w", err)
			}
		}
		entityBuf = nil
		relBuf = nil
		return nil
	}

	for i, f := range toProcess {
		if in.Progress != nil {
			in.Progress(i+1, len(toProcess), f.RelPath)
		}

		entities, rels, err := p.parseFile(in.Backend, in.RepoID, in.RepoSlug, f)
		if err != nil {
			result.FilesFailed++
			result.FilesSkipped = append(result.FilesSkipped, scanner.Skipped{Path: f.AbsPath, Reason: "parse_error: " + err.Error()})
			log.WithError(err).WithField("file", f.RelPath).Warn("parse failed, skipping file")
			continue
		}

		entityBuf = append(entityBuf, entities...)
		relBuf = append(relBuf, rels...)

		if in.OnFileChanged != nil {
			in.OnFileChanged(f.RelPath)
		}

		if len(entityBuf) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	if err := flush(); err != nil {
		return nil, err
	}

	result.DurationSec = time.Since(start).Seconds()
	if result.DurationSec > 0 {
		result.FilesPerSec = float64(len(toProcess)) / result.DurationSec
	}

	log.WithFields(logrus.Fields{
		"files_new":       result.FilesNew,
		"files_changed":   result.FilesChanged,
		"files_unchanged": result.FilesUnchanged,
		"files_deleted":   result.FilesDeleted,
		"files_failed":    result.FilesFailed,
		"files_skipped":   len(result.FilesSkipped),
		"duration_sec":    result.DurationSec,
	}).Info("ingestion complete")

	return result, nil
}

// parseFile creates the File node plus whatever its Parser Bridge produces.
// The bridge receives repoID, repoSlug and the repo-relative path the Path
// Scanner produced, and sets repo identity and filePath on its own entities;
// parseFile does not modify them.
func (p *Pipeline) parseFile(backend graph.Backend, repoID, repoSlug string, f scanner.File) ([]graph.Entity, []graph.Relationship, error) {
	bridge := p.registry.For(f.RelPath)
	if bridge == nil {
		return nil, nil, fmt.Errorf("no parser bridge for %s", f.RelPath)
	}

	parsed, err := bridge.Parse(f.AbsPath, f.RelPath, repoID, repoSlug)
	if err != nil {
		return nil, nil, err
	}

	fileEntity := graph.File{
		RepoID:      repoID,
		RepoSlug:    repoSlug,
		Path:        f.RelPath,
		Language:    languageFromRelPath(f.RelPath),
		ContentHash: f.Hash,
		IsTest:      isTestPath(f.RelPath),
	}

	entities := make([]graph.Entity, 0, len(parsed.Entities)+1)
	entities = append(entities, fileEntity)
	entities = append(entities, parsed.Entities...)

	return entities, parsed.Relationships, nil
}

// diff classifies each scanned file as new/changed/unchanged against the
// graph's stored content hash, deleting a changed file's
// subgraph before it's re-queued for parsing.
func (p *Pipeline) diff(ctx context.Context, backend graph.Backend, repoID string, files []scanner.File) (toProcess []scanner.File, filesNew, filesChanged, filesUnchanged int, err error) {
	for _, f := range files {
		meta, err := backend.GetFileMetadata(ctx, repoID, f.RelPath)
		if err != nil {
			return nil, 0, 0, 0, fmt.Errorf("get metadata for %s: %w", f.RelPath, err)
		}

		switch {
		case meta == nil:
			toProcess = append(toProcess, f)
			filesNew++
		case meta.Hash == f.Hash:
			filesUnchanged++
		default:
			if _, err := backend.DeleteFileEntities(ctx, repoID, f.RelPath); err != nil {
				return nil, 0, 0, 0, fmt.Errorf("delete stale subgraph for %s: %w", f.RelPath, err)
			}
			toProcess = append(toProcess, f)
			filesChanged++
		}
	}
	return toProcess, filesNew, filesChanged, filesUnchanged, nil
}

// cleanupDeletedFiles removes the subgraph of any File the graph still
// tracks but the scan no longer found on disk.
func (p *Pipeline) cleanupDeletedFiles(ctx context.Context, backend graph.Backend, repoID string, scanned []scanner.File) (int, error) {
	scannedPaths := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		scannedPaths[f.RelPath] = true
	}

	allPaths, err := backend.GetAllFilePaths(ctx, repoID)
	if err != nil {
		return 0, fmt.Errorf("list graph file paths: %w", err)
	}

	deleted := 0
	for _, path := range allPaths {
		if scannedPaths[path] {
			continue
		}
		if _, err := backend.DeleteFileEntities(ctx, repoID, path); err != nil {
			return deleted, fmt.Errorf("delete removed file %s: %w", path, err)
		}
		deleted++
	}
	return deleted, nil
}

func languageFromRelPath(relPath string) string {
	switch {
	case hasAnySuffix(relPath, ".py", ".pyi", ".pyw"):
		return "python"
	case hasAnySuffix(relPath, ".js", ".jsx", ".mjs", ".cjs"):
		return "javascript"
	case hasAnySuffix(relPath, ".ts", ".tsx", ".mts", ".cts"):
		return "typescript"
	default:
		return "unknown"
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

func isTestPath(relPath string) bool {
	return hasAnySuffix(relPath, "_test.py") ||
		hasAnySuffix(relPath, ".test.js") ||
		hasAnySuffix(relPath, ".test.ts") ||
		hasAnySuffix(relPath, "_spec.py")
}
