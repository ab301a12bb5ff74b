package main

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/innerfs/innerfs/internal/app"
	"github.com/innerfs/innerfs/internal/config"
	"github.com/innerfs/innerfs/internal/metadata"
)

var (
	exportFilesPath   string
	exportFilesFormat string
)

var exportFilesCmd = &cobra.Command{
	Use:   "export-files",
	Short: "Stream every file's body out of the repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFilesPath == "" {
			return fmt.Errorf("--path is required")
		}
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

		files, err := a.Store.AllFiles(ctx)
		if err != nil {
			return err
		}

		switch exportFilesFormat {
		case "directory":
			return exportToDirectory(ctx, a, files)
		case "zip":
			return exportToZip(ctx, a, files)
		case "tar", "":
			return exportToTar(ctx, a, files)
		default:
			return fmt.Errorf("unknown format %q, want zip, tar or directory", exportFilesFormat)
		}
	},
}

func exportToDirectory(ctx context.Context, a *app.App, files []*metadata.Inode) error {
	for _, n := range files {
		path, err := a.Store.PathOf(ctx, n.ID)
		if err != nil {
			return err
		}
		body, err := a.Pipeline.Read(ctx, n)
		if err != nil {
			return err
		}
		dest := filepath.Join(exportFilesPath, path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, body, os.FileMode(n.Perms)); err != nil {
			return err
		}
	}
	return nil
}

func exportToZip(ctx context.Context, a *app.App, files []*metadata.Inode) error {
	out, err := os.Create(exportFilesPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	for _, n := range files {
		path, err := a.Store.PathOf(ctx, n.ID)
		if err != nil {
			return err
		}
		body, err := a.Pipeline.Read(ctx, n)
		if err != nil {
			return err
		}
		fw, err := w.Create(path)
		if err != nil {
			return err
		}
		if _, err := fw.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func exportToTar(ctx context.Context, a *app.App, files []*metadata.Inode) error {
	out, err := os.Create(exportFilesPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := tar.NewWriter(out)
	defer w.Close()

	for _, n := range files {
		path, err := a.Store.PathOf(ctx, n.ID)
		if err != nil {
			return err
		}
		body, err := a.Pipeline.Read(ctx, n)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:    path,
			Mode:    int64(n.Perms),
			Size:    int64(len(body)),
			ModTime: time.Unix(n.UpdatedAt, 0),
		}
		if err := w.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	exportFilesCmd.Flags().StringVar(&exportFilesPath, "path", "", "destination path (archive file or directory)")
	exportFilesCmd.Flags().StringVar(&exportFilesFormat, "format", "tar", "output format: zip, tar or directory")
	rootCmd.AddCommand(exportFilesCmd)
}
