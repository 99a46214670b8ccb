package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime health and index counters",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	st := a.runtime.Status(ctx)

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	fmt.Printf("mode:       %s\n", st.Mode)
	fmt.Printf("store:      %s\n", onOff(st.StoreAvailable))
	fmt.Printf("vector:     %s\n", onOff(st.VectorAvailable))
	fmt.Printf("events:     %s\n", onOff(st.EventsAvailable))
	fmt.Printf("embedder:   %s\n", onOff(st.EmbedderEnabled))
	fmt.Printf("files:      %d\n", st.Files)
	fmt.Printf("chunks:     %d\n", st.Chunks)
	fmt.Printf("events:     %d\n", st.Events)
	fmt.Printf("cache:      %d hits / %d misses\n", st.CacheHits, st.CacheMisses)
	if !st.LastSync.IsZero() {
		fmt.Printf("last sync:  %s\n", st.LastSync.Format("2006-01-02 15:04:05"))
	}
	return nil
}
