package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/writer"
)

var (
	indexFull bool
	indexJSON bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load the class path and print per-dex statistics",
	Long: `Load every dex on the class path and print its table sizes and the
digest that identifies the image set in hunt results.

With --full the reverse maps (callers, field readers and writers, string
users) are built for every method up front, which is what the server does
for eager indexing.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "Build the full cross-reference cache")
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "Print statistics as JSON")
}

type indexSummary struct {
	Digest string               `json:"digest"`
	Dexes  []dexhelper.DexStats `json:"dexes"`
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, err := openHelper(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	if indexFull {
		start := time.Now()
		if err := h.CreateFullCache(ctx); err != nil {
			return fmt.Errorf("failed to build full cache: %w", err)
		}
		logger.Info("Full cache built in %s", time.Since(start).Round(time.Millisecond))
	}

	digest, err := h.Digest()
	if err != nil {
		return err
	}
	stats, err := h.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if indexJSON {
		return writer.NewPrettyJSONWriter[indexSummary]().Write(indexSummary{Digest: digest, Dexes: stats}, out)
	}

	fmt.Fprintf(out, "Digest: %s\n", digest)
	if size := sourceSize(); size > 0 {
		fmt.Fprintf(out, "Size:   %s\n", humanize.Bytes(uint64(size)))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEX\tNAME\tCLASSES\tMETHODS\tFIELDS\tSTRINGS\tSCANNED")
	for _, s := range stats {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Ordinal, s.Name,
			humanize.Comma(int64(s.Classes)),
			humanize.Comma(int64(s.Methods)),
			humanize.Comma(int64(s.Fields)),
			humanize.Comma(int64(s.Strings)),
			humanize.Comma(int64(s.Scanned)),
		)
	}
	return tw.Flush()
}

// sourceSize sums the sizes of the local class path entries.
func sourceSize() int64 {
	var total int64
	for _, e := range dexhelper.ParseClassPath(classPath).Entries {
		if fi, err := os.Stat(e); err == nil && !fi.IsDir() {
			total += fi.Size()
		}
	}
	return total
}
