package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark of every pipeline",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, err := openDatabaseStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	watermarks, err := store.Watermarks().List(ctx)
	if err != nil {
		slog.Error("Failed to list watermarks", "error", err)
		os.Exit(1)
	}
	events, err := store.Events().Count(ctx)
	if err != nil {
		slog.Error("Failed to count events", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "PIPELINE\tCHECKPOINT\tCHECKPOINT TIME\tUPDATED")
	for _, wm := range watermarks {
		cpTime := "-"
		if wm.TimestampMsHi > 0 {
			cpTime = time.UnixMilli(int64(wm.TimestampMsHi)).UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			wm.Pipeline,
			wm.CheckpointHiInclusive,
			cpTime,
			time.Unix(wm.UpdatedAt, 0).UTC().Format(time.RFC3339),
		)
	}
	_ = w.Flush()
	fmt.Printf("\n%d offer events stored\n", events)
}
