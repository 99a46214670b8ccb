package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danuwira/engram/pkg/memory"
)

var (
	getScopeKey  string
	getScopeKind string
	getFrom      int
	getLines     int
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Read a memory file or session event",
	Long: `Read a workspace-relative memory file, or a session event by its
session_events/<scope>/<conversation>/event-<id> path. Output is windowed
by --from and --lines.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVar(&getScopeKey, "scope", "main", "scope key the read is performed as")
	getCmd.Flags().StringVar(&getScopeKind, "kind", "", "scope kind (main, direct, group)")
	getCmd.Flags().IntVar(&getFrom, "from", 0, "first line of the window (1-based)")
	getCmd.Flags().IntVar(&getLines, "lines", 0, "window size in lines")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.runtime.Get(ctx, args[0], memory.GetOptions{From: getFrom, Lines: getLines}, resolveScope(getScopeKey, getScopeKind))
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	fmt.Printf("%s (lines %d-%d of %d)\n", res.Path, res.FromLine, res.ToLine, res.LineCount)
	if res.Truncated {
		fmt.Println("... output truncated ...")
	}
	fmt.Println(res.Text)
	return nil
}
