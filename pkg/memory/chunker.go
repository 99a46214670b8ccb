package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// chunkCharBudget flushes a chunk once accumulated content reaches it.
	chunkCharBudget = 1200
	// chunkOverlapLines is the trailing window of lines carried into the next
	// chunk to preserve context across the boundary.
	chunkOverlapLines = 2
)

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// chunkLines splits file content into line-aligned chunks. Lines accumulate
// until the character budget is hit, then the chunk is flushed and the last
// chunkOverlapLines lines seed the next one. Line numbers are 1-based and
// inclusive; overlap lines repeat the previous chunk's tail, so discounting
// the overlap the chunks cover every original line exactly once.
func chunkLines(scopeKey, relPath string, source SourceType, content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	// A trailing newline yields one empty trailing element; drop it so line
	// ranges stay within the file's real line count.
	if n := len(lines); n > 1 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var chunks []Chunk
	var buf []string
	bufStart := 1
	size := 0
	newLines := 0 // lines in buf that are not overlap carried from the previous chunk

	flush := func(endLine int) {
		text := strings.Join(buf, "\n")
		chunks = append(chunks, Chunk{
			ScopeKey:  scopeKey,
			RelPath:   relPath,
			Index:     len(chunks),
			Source:    source,
			StartLine: bufStart,
			EndLine:   endLine,
			Content:   text,
			ChunkHash: hashContent(text),
		})
	}

	for i, line := range lines {
		lineNo := i + 1
		buf = append(buf, line)
		size += len(line) + 1
		newLines++

		if size >= chunkCharBudget {
			flush(lineNo)

			overlap := chunkOverlapLines
			if overlap > len(buf)-1 {
				overlap = len(buf) - 1
			}
			buf = append([]string(nil), buf[len(buf)-overlap:]...)
			bufStart = lineNo - overlap + 1
			newLines = 0
			size = 0
			for _, l := range buf {
				size += len(l) + 1
			}
		}
	}
	if newLines > 0 || len(chunks) == 0 {
		flush(len(lines))
	}

	return chunks
}
