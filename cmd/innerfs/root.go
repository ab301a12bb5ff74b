package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// Exit codes for the CLI.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitBackendError   = 2
	exitIntegrityError = 3
	exitUsageError     = 64
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "innerfs",
	Short: "A POSIX-ish filesystem backed by a relational metadata store and pluggable blob backends",
	Long: `innerfs mounts a user-space filesystem whose metadata lives in SQLite and
whose file bodies live in a pluggable blob backend (local directory, S3-compatible
object store, an in-database blob table, or an embedded key-value store), with
optional per-blob encryption, compression and content-addressed deduplication.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "innerfs.yaml", "path to the repository's configuration file")
}

// Execute runs the root command and translates any returned error into the
// matching process exit code.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCodeFor(err))
}

func exitCodeFor(err error) int {
	switch {
	case ifserrors.Is(err, ifserrors.KindIncompatibleConfig):
		return exitConfigError
	case ifserrors.Is(err, ifserrors.KindBackendIO):
		return exitBackendError
	case ifserrors.Is(err, ifserrors.KindIntegrityFailure):
		return exitIntegrityError
	case ifserrors.Is(err, ifserrors.KindInvalidName):
		return exitUsageError
	default:
		return exitConfigError
	}
}
