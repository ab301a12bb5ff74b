package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/internal/metadata"
)

var exportIndexFormat string

type indexEntry struct {
	Path       string `json:"path" yaml:"path"`
	Inode      uint64 `json:"inode" yaml:"inode"`
	Size       int64  `json:"size" yaml:"size"`
	Perms      uint32 `json:"perms" yaml:"perms"`
	UID        uint32 `json:"uid" yaml:"uid"`
	GID        uint32 `json:"gid" yaml:"gid"`
	SHA512     string `json:"sha512,omitempty" yaml:"sha512,omitempty"`
	ModifiedAt int64  `json:"modified_at" yaml:"modified_at"`
}

var exportIndexCmd = &cobra.Command{
	Use:   "export-index",
	Short: "Print every file's path and metadata, without bodies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return err
		}

		store, err := metadata.Open(cfg.Mount.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		files, err := store.AllFiles(ctx)
		if err != nil {
			return err
		}

		entries := make([]indexEntry, 0, len(files))
		for _, n := range files {
			path, err := store.PathOf(ctx, n.ID)
			if err != nil {
				return err
			}
			entries = append(entries, indexEntry{
				Path:       "/" + path,
				Inode:      n.ID,
				Size:       n.Size,
				Perms:      n.Perms,
				UID:        n.UID,
				GID:        n.GID,
				SHA512:     n.SHA512,
				ModifiedAt: n.UpdatedAt,
			})
		}

		switch exportIndexFormat {
		case "yaml":
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(entries)
		case "json", "":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		default:
			return fmt.Errorf("unknown format %q, want json or yaml", exportIndexFormat)
		}
	},
}

func init() {
	exportIndexCmd.Flags().StringVar(&exportIndexFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(exportIndexCmd)
}
