package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danuwira/engram/pkg/memory"
)

var syncWatch bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index workspace memory files",
	Long: `Scan the workspace and bring the index up to date. Unchanged files are
skipped by content hash. With --watch the process stays up and re-indexes
as files change.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "keep running and re-index on file changes")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, syncWatch)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.runtime.SyncIncremental(ctx, memory.SyncOptions{Force: false}); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	status := a.runtime.Status(ctx)
	fmt.Printf("indexed %d files, %d chunks\n", status.Files, status.Chunks)

	if !syncWatch {
		return nil
	}

	fmt.Println("watching for changes, Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
