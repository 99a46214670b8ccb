package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danuwira/engram/pkg/memory"
)

var (
	saveScopeKey  string
	saveScopeKind string
	saveTarget    string
)

var saveCmd = &cobra.Command{
	Use:   "save <content>",
	Short: "Append a note to memory",
	Long: `Append content to the scope's daily note or long-term memory file.
The target file is created with a header when missing, and the index is
refreshed immediately so the note is searchable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSave,
}

func init() {
	saveCmd.Flags().StringVar(&saveScopeKey, "scope", "main", "scope key to save under")
	saveCmd.Flags().StringVar(&saveScopeKind, "kind", "", "scope kind (main, direct, group)")
	saveCmd.Flags().StringVar(&saveTarget, "target", "daily", "target file: daily or long-term")
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	content := strings.Join(args, " ")

	var target memory.SaveTarget
	switch saveTarget {
	case "daily":
		target = memory.TargetDaily
	case "long-term":
		target = memory.TargetLongTerm
	default:
		return fmt.Errorf("invalid target %q (expected daily or long-term)", saveTarget)
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runtime.Save(ctx, content, target, resolveScope(saveScopeKey, saveScopeKind))
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	fmt.Printf("saved to %s\n", res.Path)
	return nil
}
