package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/app"
	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/internal/fuseadapter"
)

var (
	mountAllowOther bool
	mountReadOnly   bool
	mountDebug      bool
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the repository at its configured mountpoint",
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

		if a.Metrics != nil {
			if err := a.Metrics.Start(); err != nil {
				a.Logger.Warn("metrics server disabled", map[string]interface{}{"error": err.Error()})
			} else {
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = a.Metrics.Stop(stopCtx)
				}()
			}
		}

		if err := os.MkdirAll(cfg.Mount.Mountpoint, 0o755); err != nil {
			return err
		}

		server, err := fuseadapter.Mount(cfg.Mount.Mountpoint, a.Facade, a.Logger, fuseadapter.MountOptions{
			AllowOther: mountAllowOther,
			ReadOnly:   mountReadOnly,
			Debug:      mountDebug,
		})
		if err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			server.Unmount()
		}()

		fmt.Printf("innerfs mounted at %s\n", cfg.Mount.Mountpoint)
		server.Wait()
		return nil
	},
}

func init() {
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().BoolVar(&mountReadOnly, "read-only", false, "mount read-only")
	mountCmd.Flags().BoolVar(&mountDebug, "debug", false, "enable FUSE debug logging")
	rootCmd.AddCommand(mountCmd)
}
