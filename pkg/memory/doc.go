// Package memory indexes workspace markdown content and serves scoped
// retrieval for a conversational agent.
//
// Invariants:
// - Indexed chunks stay consistent with file content hashes; unchanged files are never re-embedded.
// - Search degrades through vector, full-text and substring tiers without surfacing capability gaps as errors.
// - Reads and writes never escape the workspace or cross scope boundaries.
//
// Usage:
//
//	rt, _ := memory.New(memory.Config{Workspace: "/workspace", Mode: "hybrid"}, store, logger)
//	defer rt.Close()
//	_ = rt.SyncIncremental(ctx, memory.SyncOptions{})
//	hits, _ := rt.Search(ctx, "deployment checklist", memory.Scope{Kind: memory.ScopeMain, Key: "main"})
//	_ = hits
package memory
