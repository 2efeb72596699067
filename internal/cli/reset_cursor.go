package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var resetCursorCmd = &cobra.Command{
	Use:   "reset-cursor [pipeline] [checkpoint]",
	Short: "Set a pipeline watermark so indexing resumes after the given checkpoint",
	Long: `Set a pipeline watermark so indexing resumes after the given checkpoint.
Offer rows are left untouched; stop the indexer before running this.`,
	Args: cobra.ExactArgs(2),
	Run:  runResetCursor,
}

func init() {
	rootCmd.AddCommand(resetCursorCmd)
}

func runResetCursor(cmd *cobra.Command, args []string) {
	pipeline := args[0]
	checkpoint, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Printf("Invalid checkpoint: %v\n", err)
		os.Exit(1)
	}

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

	if err := store.Watermarks().Reset(ctx, pipeline, checkpoint); err != nil {
		slog.Error("Failed to reset watermark", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully reset %s to checkpoint %d\n", pipeline, checkpoint)
}
