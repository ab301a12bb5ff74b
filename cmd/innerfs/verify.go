package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/app"
	"github.com/innerfs/innerfs/internal/config"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Read every file's body and confirm it matches its recorded hash",
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

		total, failures, err := runVerify(ctx, a, os.Stderr)
		if err != nil {
			return err
		}
		if failures > 0 {
			return ifserrors.New(ifserrors.KindIntegrityFailure,
				fmt.Sprintf("%d of %d files failed verification", failures, total)).
				WithComponent("cmd")
		}

		fmt.Printf("%d files verified\n", total)
		return nil
	},
}

// runVerify reads every file's body through the blob pipeline, which
// performs its own SHA-512 check, and reports how many of the total files
// failed. It never returns failures as an error itself; the caller decides
// what to do with a non-zero count.
func runVerify(ctx context.Context, a *app.App, mismatches io.Writer) (total, failures int, err error) {
	files, err := a.Store.AllFiles(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, n := range files {
		if n.Size == 0 {
			continue
		}
		if _, readErr := a.Pipeline.Read(ctx, n); readErr != nil {
			if ifserrors.Is(readErr, ifserrors.KindIntegrityFailure) {
				path, pathErr := a.Store.PathOf(ctx, n.ID)
				if pathErr != nil {
					path = fmt.Sprintf("inode %d", n.ID)
				}
				fmt.Fprintf(mismatches, "MISMATCH /%s: %v\n", path, readErr)
				failures++
				continue
			}
			return len(files), failures, readErr
		}
	}
	return len(files), failures, nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
