package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dexhelper/internal/dex/dexbuild"
)

var fixtureCmd = &cobra.Command{
	Use:   "fixture <out.apk>",
	Short: "Write a small sample application for trying out queries",
	Long: `Write a two-dex sample application. The first dex holds an activity and the
helpers it calls; the second holds a worker that calls back across the dex
boundary. Every query in the command examples resolves against it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		defer f.Close()
		if err := dexbuild.WriteArchive(f, dexbuild.SampleApp()...); err != nil {
			return err
		}
		logger.Info("Sample application written to %s", path)
		return f.Close()
	},
}

func init() {
	rootCmd.AddCommand(fixtureCmd)
}
