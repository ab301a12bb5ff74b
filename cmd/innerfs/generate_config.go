package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/config"
)

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Write a documented configuration template",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewDefault()
		if err := cfg.SaveToFile(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote default configuration to %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateConfigCmd)
}
