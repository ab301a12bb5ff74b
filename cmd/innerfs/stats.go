package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/app"
	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/pkg/utils"
)

type repositoryStats struct {
	Files      uint64 `json:"files"`
	TotalBytes int64  `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	Backend    string `json:"backend"`
}

var statsHuman bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate counters for the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := app.Open(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		totals, err := a.Store.FileTotals(ctx)
		if err != nil {
			return err
		}

		stats := repositoryStats{
			Files:      totals.Count,
			TotalBytes: totals.Bytes,
			FreeBytes:  a.Pipeline.FreeSpace(ctx),
			Backend:    cfg.Backend.Kind,
		}

		if statsHuman {
			fmt.Printf("files:   %d\n", stats.Files)
			fmt.Printf("used:    %s\n", utils.FormatBytes(stats.TotalBytes))
			fmt.Printf("free:    %s\n", utils.FormatBytes(int64(stats.FreeBytes)))
			fmt.Printf("backend: %s\n", stats.Backend)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsHuman, "human", false, "print sizes in human-readable units instead of JSON")
	rootCmd.AddCommand(statsCmd)
}
