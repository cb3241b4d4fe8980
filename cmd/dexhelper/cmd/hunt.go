package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/internal/repository"
	"github.com/dexhelper/internal/storage"
)

var (
	huntWorkers   int
	huntOutputDir string
	huntFormat    string
	huntNoDB      bool
	huntUpload    bool
)

var huntCmd = &cobra.Command{
	Use:   "hunt <fingerprints.yaml>",
	Short: "Resolve a file of named fingerprints",
	Long: `Resolve every fingerprint in a YAML file against the class path.

Runs are recorded in the configured database. A fingerprint whose query is
unchanged since the last completed run over the same images reuses the stored
result instead of searching again. The report is written to the output
directory and, with --upload, copied to the configured object storage.

Example file:

  fingerprints:
    - name: token_reader
      getting: "Lcom/example/app/MainActivity;->token:Ljava/lang/String;"
    - name: api_client
      string: "https://api.example.com/"
      prefix: true
      query:
        declaring_class: com.example.net.Http`,
	Args: cobra.ExactArgs(1),
	RunE: runHunt,
}

var reportCmd = &cobra.Command{
	Use:   "report <report.json[.gz|.zst]>",
	Short: "Print a hunt report written earlier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := hunt.LoadReport(args[0])
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), report)
	},
}

func init() {
	rootCmd.AddCommand(huntCmd, reportCmd)
	huntCmd.Flags().IntVarP(&huntWorkers, "workers", "w", 0, "Concurrent fingerprints (default from config)")
	huntCmd.Flags().StringVarP(&huntOutputDir, "output-dir", "o", "", "Report directory (default from config)")
	huntCmd.Flags().StringVar(&huntFormat, "format", "json", "Report format: json, json.gz or json.zst")
	huntCmd.Flags().BoolVar(&huntNoDB, "no-db", false, "Do not record the run or reuse earlier results")
	huntCmd.Flags().BoolVar(&huntUpload, "upload", false, "Upload the report to the configured storage")
}

func runHunt(cmd *cobra.Command, args []string) error {
	set, err := hunt.LoadFile(args[0])
	if err != nil {
		return err
	}
	ext := "." + strings.TrimPrefix(strings.ToLower(huntFormat), ".")
	switch ext {
	case ".json", ".json.gz", ".json.zst":
	default:
		return fmt.Errorf("unknown report format %q (valid: json, json.gz, json.zst)", huntFormat)
	}

	opts := hunt.Options{
		Workers:   cfg.Hunt.Workers,
		OutputDir: cfg.Hunt.OutputDir,
		ReportExt: ext,
		Logger:    logger,
	}
	if huntWorkers > 0 {
		opts.Workers = huntWorkers
	}
	if huntOutputDir != "" {
		opts.OutputDir = huntOutputDir
	}
	if !huntNoDB {
		repos, err := openRepositories()
		if err != nil {
			return err
		}
		defer repos.Close()
		opts.Runs = repos.Run
		opts.Resolutions = repos.Resolution
	}
	if huntUpload {
		st, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to configure storage: %w", err)
		}
		opts.Storage = st
	}

	ctx := cmd.Context()
	h, err := openHelper(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	report, err := hunt.NewRunner(h, opts).Run(ctx, classPath, set)
	if err != nil {
		return err
	}
	if err := printReport(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if report.URL != "" {
		logger.Info("Report uploaded to %s", report.URL)
	}
	return nil
}

func openRepositories() (*repository.Repositories, error) {
	db, err := repository.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return repository.NewRepositories(db), nil
}

func printReport(w io.Writer, report *hunt.Report) error {
	run := report.Run
	if run.Finished() {
		fmt.Fprintf(w, "Run:    %s (%s in %s)\n", run.ID, run.Status, run.Duration().Round(time.Millisecond))
	} else {
		fmt.Fprintf(w, "Run:    %s (%s)\n", run.ID, run.Status)
	}
	fmt.Fprintf(w, "Digest: %s\n", run.Digest)
	fmt.Fprintf(w, "Unique: %d/%d, reused %d\n", run.Resolved, run.Fingerprints, run.Reused)
	if report.Path != "" {
		fmt.Fprintf(w, "Report: %s\n", report.Path)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMATCHES\tRESULT")
	for _, res := range report.Resolutions {
		result := strings.Join(res.Refs, ", ")
		switch {
		case res.Error != "":
			result = "error: " + res.Error
		case len(res.Refs) == 0:
			result = "-"
		}
		name := res.Name
		if res.Reused {
			name += " (reused)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, len(res.Refs), result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if names := report.Unresolved(); len(names) > 0 {
		fmt.Fprintf(w, "\nUnresolved: %s\n", strings.Join(names, ", "))
	}
	if names := report.Ambiguous(); len(names) > 0 {
		fmt.Fprintf(w, "Ambiguous:  %s\n", strings.Join(names, ", "))
	}
	return nil
}
