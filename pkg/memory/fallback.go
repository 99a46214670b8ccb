package memory

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// scanFiles is the terminal rung of the degradation ladder: a direct,
// in-process, case-insensitive substring scan over the scope's raw files.
// It has no store dependency and is always available.
func scanFiles(workspace, query string, scope Scope, limit int) []SearchHit {
	paths, err := listIndexablePaths(workspace)
	if err != nil {
		return nil
	}

	needle := strings.ToLower(query)
	var hits []SearchHit

	for _, rel := range paths {
		if !pathAllowedForScope(rel, scope) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		content := string(data)
		pos := strings.Index(strings.ToLower(content), needle)
		if pos < 0 {
			continue
		}

		startLine, endLine, snippet := snippetAround(content, pos, len(query))
		_, source := classifyPath(rel)
		hits = append(hits, SearchHit{
			Path:      rel,
			StartLine: startLine,
			EndLine:   endLine,
			Score:     1.0 / (1.0 + float64(pos)),
			Snippet:   snippet,
			Source:    source,
			Strategy:  "keyword",
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// snippetAround returns the 1-based line range and text of the line
// containing the match plus one line of trailing context.
func snippetAround(content string, pos, matchLen int) (startLine, endLine int, snippet string) {
	lines := strings.Split(content, "\n")
	offset := 0
	matchLine := 1
	for i, line := range lines {
		next := offset + len(line) + 1
		if pos < next {
			matchLine = i + 1
			break
		}
		offset = next
	}

	startLine = matchLine
	endLine = matchLine
	if matchLine < len(lines) && strings.TrimSpace(lines[matchLine]) != "" {
		endLine = matchLine + 1
	}
	snippet = strings.Join(lines[startLine-1:endLine], "\n")
	return startLine, endLine, snippet
}

// firstMatchScore mirrors the keyword strategy's scoring for store-backed
// candidates: 1/(1+firstMatchCharPosition), case-insensitive.
func firstMatchScore(content, query string) (float64, bool) {
	pos := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if pos < 0 {
		return 0, false
	}
	return 1.0 / (1.0 + float64(pos)), true
}
