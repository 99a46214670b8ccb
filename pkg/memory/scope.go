package memory

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	memoryDir     = "memory"
	scopesDir     = "scopes"
	transcriptDir = "transcripts"
	longTermFile  = "MEMORY.md"
)

var dailyNamePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.md$`)

// classifyPath derives (scopeKey, sourceType) from a workspace-relative
// markdown path. Layout:
//
//	MEMORY.md                                  -> main, long-term
//	*.md                                       -> main, long-term
//	memory/<file>.md                           -> main
//	memory/transcripts/<file>.md               -> main, transcript
//	memory/scopes/<key>/<file>.md              -> <key>
//	memory/scopes/<key>/transcripts/<file>.md  -> <key>, transcript
//
// Date-named files (YYYY-MM-DD.md) are daily entries; everything else that is
// not a transcript is long-term.
func classifyPath(relPath string) (scopeKey string, source SourceType) {
	rel := filepath.ToSlash(relPath)
	parts := strings.Split(rel, "/")

	scopeKey = string(ScopeMain)
	rest := parts

	if len(parts) >= 2 && parts[0] == memoryDir {
		rest = parts[1:]
		if len(rest) >= 2 && rest[0] == scopesDir {
			scopeKey = rest[1]
			rest = rest[2:]
		}
	}

	if len(rest) >= 2 && rest[0] == transcriptDir {
		return scopeKey, SourceTranscript
	}

	name := parts[len(parts)-1]
	if dailyNamePattern.MatchString(name) {
		return scopeKey, SourceDaily
	}
	return scopeKey, SourceLongTerm
}

// scopeRoot returns the workspace-relative directory a scope writes into.
func scopeRoot(scope Scope) string {
	if scope.Key == "" || scope.Key == string(ScopeMain) {
		return memoryDir
	}
	return filepath.Join(memoryDir, scopesDir, scope.Key)
}

// pathAllowedForScope reports whether a workspace-relative markdown path may
// be read by the given scope. "main" may read its own root-level files plus
// the whole memory directory except other scopes' subtrees; any other scope
// is confined to its own scopes/<key>/ subtree.
func pathAllowedForScope(relPath string, scope Scope) bool {
	rel := filepath.ToSlash(relPath)
	owner, _ := classifyPath(rel)

	if scope.Key == "" || scope.Key == string(ScopeMain) {
		return owner == string(ScopeMain)
	}
	return owner == scope.Key
}

// resolveWorkspacePath joins relPath onto the workspace root and verifies the
// result stays inside it. Traversal outside the root is a hard error.
func resolveWorkspacePath(workspace, relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if strings.Contains(relPath, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, relPath)
	}

	cleaned := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, relPath)
	}

	absBase, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	absFull, err := filepath.Abs(filepath.Join(absBase, cleaned))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, relPath)
	}
	return absFull, nil
}

// listIndexablePaths returns every workspace-relative markdown path the
// indexer considers: *.md directly under the workspace root plus everything
// under the memory subtree.
func listIndexablePaths(workspace string) ([]string, error) {
	var paths []string

	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			paths = append(paths, e.Name())
		}
	}

	memRoot := filepath.Join(workspace, memoryDir)
	err = filepath.WalkDir(memRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk memory subtree: %w", err)
	}

	return paths, nil
}
