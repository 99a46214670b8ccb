package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danuwira/engram/pkg/memory"
)

var (
	searchScopeKey  string
	searchScopeKind string
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed memory",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchScopeKey, "scope", "main", "scope key to search within")
	searchCmd.Flags().StringVar(&searchScopeKind, "kind", "", "scope kind (main, direct, group); inferred from the key when empty")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	hits, err := a.runtime.Search(ctx, query, resolveScope(searchScopeKey, searchScopeKind))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("%.3f  %s:%d-%d  [%s/%s]\n    %s\n",
			h.Score, h.Path, h.StartLine, h.EndLine, h.Source, h.Strategy, h.Snippet)
	}
	return nil
}

// resolveScope builds a Scope from CLI flags. When the kind is not given,
// "main" maps to the main scope and anything else to a group scope.
func resolveScope(key, kind string) memory.Scope {
	if key == "" {
		key = "main"
	}
	switch memory.ScopeKind(kind) {
	case memory.ScopeMain, memory.ScopeDirect, memory.ScopeGroup:
		return memory.Scope{Key: key, Kind: memory.ScopeKind(kind)}
	}
	if key == "main" {
		return memory.Scope{Key: key, Kind: memory.ScopeMain}
	}
	return memory.Scope{Key: key, Kind: memory.ScopeGroup}
}
