// Package scanner walks a repository tree and selects candidate source
// files, applying the same directory-exclusion and security checks the
// Ingestion Pipeline relies on before anything is parsed.
package scanner

import (
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// excludedDirs are never descended into, regardless of pattern match.
var excludedDirs = map[string]bool{
	".git":         true,
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
	"build":        true,
	"dist":         true,
}

// DefaultPatterns is used when Scan is called with no patterns.
var DefaultPatterns = []string{"**/*.py"}

// DefaultMaxFileSizeMB is the size policy ceiling.
const DefaultMaxFileSizeMB = 10

// Skipped records a single rejected candidate and why, so rejections are
// reported to the caller rather than silently dropped.
type Skipped struct {
	Path   string
	Reason string
}

// File is a validated candidate: a repo-relative path plus its content hash.
type File struct {
	RelPath string
	AbsPath string
	Hash    string
}

// Options configures a Scan. Zero value is the secure default: no symlink
// following, 10MB size cap, default Python glob.
type Options struct {
	Patterns        []string
	FollowSymlinks  bool
	MaxFileSizeMB   float64
}

// Scanner validates and walks a single repository root.
type Scanner struct {
	root   string
	logger *slog.Logger
}

// New creates a Scanner rooted at repoPath, rejecting it outright if the
// root itself is a symlink, mirroring the teacher's pre-resolution
// symlink check.
func New(repoPath string) (*Scanner, error) {
	info, err := os.Lstat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("repository path does not exist: %s: %w", repoPath, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("repository root cannot be a symbolic link: %s", repoPath)
	}

	root, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}

	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("repository does not exist: %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("repository must be a directory: %s", root)
	}

	return &Scanner{root: root, logger: slog.Default().With("component", "scanner")}, nil
}

// Scan walks the repository, applying in order: extension/glob match,
// directory exclusion, symlink policy, size policy, and boundary policy.
// It returns accepted files plus every rejection with a reason;
// no candidate is ever silently dropped.
func (s *Scanner) Scan(opts Options) ([]File, []Skipped, error) {
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	maxSize := opts.MaxFileSizeMB
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSizeMB
	}
	maxBytes := int64(maxSize * 1024 * 1024)

	var files []File
	var skipped []Skipped

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != s.root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := matchesAny(patterns, s.root, path)
		if err != nil {
			return err
		}
		if !matched {
			return nil
		}

		if reason, ok := s.reject(path, d, opts, maxBytes); ok {
			skipped = append(skipped, Skipped{Path: path, Reason: reason})
			return nil
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			skipped = append(skipped, Skipped{Path: path, Reason: "could not compute repo-relative path"})
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			skipped = append(skipped, Skipped{Path: path, Reason: fmt.Sprintf("could not read file: %v", err)})
			return nil
		}

		files = append(files, File{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
			Hash:    hash,
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk repository: %w", err)
	}

	s.logger.Info("scan complete",
		"files_found", len(files),
		"files_skipped", len(skipped),
		"patterns", patterns)

	return files, skipped, nil
}

// reject applies the symlink, size, and boundary policies in order,
// returning the rejection reason when the file must be skipped.
func (s *Scanner) reject(path string, d os.DirEntry, opts Options, maxBytes int64) (string, bool) {
	info, err := d.Info()
	if err != nil {
		return fmt.Sprintf("could not stat file: %v", err), true
	}

	if info.Mode()&os.ModeSymlink != 0 && !opts.FollowSymlinks {
		return "symbolic link (use FollowSymlinks to include)", true
	}

	if info.Size() > maxBytes {
		return fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", info.Size(), maxBytes), true
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Sprintf("could not resolve canonical path: %v", err), true
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") || rel == ".." {
		return "outside repository boundary (possible path traversal)", true
	}

	return "", false
}

// matchesAny reports whether path (relative to root) matches any of the
// supplied glob patterns. Patterns are matched against the repo-relative,
// slash-normalized path so "**/*.py" matches at any depth.
func matchesAny(patterns []string, root, path string) (bool, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false, err
	}
	rel = filepath.ToSlash(rel)

	for _, p := range patterns {
		pattern := strings.TrimPrefix(p, "**/")
		if matched, err := filepath.Match(pattern, filepath.Base(rel)); err == nil && matched {
			return true, nil
		}
		if matched, err := filepath.Match(p, rel); err == nil && matched {
			return true, nil
		}
	}
	return false, nil
}

// hashFile computes an MD5 digest of raw file bytes, used only as a
// change-detection key, never for security purposes.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
