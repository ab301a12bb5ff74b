package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/blob"
	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/internal/metadata"
)

var nukeForce bool

var nukeCmd = &cobra.Command{
	Use:   "nuke",
	Short: "Destroy every object and metadata row in the repository",
	Long: `nuke deletes every blob from the primary backend and every replica,
then truncates all metadata tables and reinitializes the root directory.
This is irreversible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}

		if !nukeForce && !confirmNuke(cfg.Mount.DatabasePath) {
			fmt.Println("aborted")
			return nil
		}

		ctx := cmd.Context()
		primary, replicas, err := config.BuildBackends(ctx, cfg)
		if err != nil {
			return err
		}

		if err := wipeBackend(ctx, primary); err != nil {
			return err
		}
		for _, r := range replicas {
			if err := wipeBackend(ctx, r); err != nil {
				return err
			}
		}
		primary.Close()
		for _, r := range replicas {
			r.Close()
		}

		store, err := metadata.Open(cfg.Mount.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Nuke(ctx); err != nil {
			return err
		}

		fmt.Println("repository reinitialized")
		return nil
	},
}

func wipeBackend(ctx context.Context, b blob.Backend) error {
	names, err := b.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := b.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func confirmNuke(dbPath string) bool {
	fmt.Printf("This will permanently destroy every file and blob in %q.\nType \"yes\" to continue: ", dbPath)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == "yes"
}

func init() {
	nukeCmd.Flags().BoolVar(&nukeForce, "force", false, "skip the confirmation prompt")
	rootCmd.AddCommand(nukeCmd)
}
