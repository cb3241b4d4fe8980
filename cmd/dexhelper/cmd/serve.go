package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dexhelper/internal/hunt"
	"github.com/dexhelper/internal/server"
	"github.com/dexhelper/pkg/utils"
)

var (
	serveAddr      string
	serveNoDB      bool
	serveDebug     bool
	serveProfiling bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	Long: `Load the class path once and answer queries over a JSON HTTP API:

  GET  /api/v1/_ping
  GET  /api/v1/stats
  POST /api/v1/find                 fingerprint as JSON
  GET  /api/v1/find/string?s=&prefix=
  GET  /api/v1/decode/:kind/:handle
  GET  /api/v1/xref?method=&direction=&depth=&max_nodes=
  GET  /api/v1/hunts?digest=&limit=
  GET  /api/v1/hunts/:id
  POST /api/v1/hunts                fingerprint set as YAML

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveNoDB, "no-db", false, "Disable the hunt endpoints")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Run the router in debug mode")
	serveCmd.Flags().BoolVar(&serveProfiling, "profiling", false, "Expose /debug/pprof/")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHelper(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	sc := cfg.Server
	if serveAddr != "" {
		sc.Addr = serveAddr
	}
	conf := &server.Config{
		Server:    &sc,
		Helper:    h,
		Source:    classPath,
		Debug:     serveDebug,
		Profiling: serveProfiling,
		Logger:    logger.WithField("component", "server"),
	}

	if !serveNoDB {
		repos, err := openRepositories()
		if err != nil {
			return err
		}
		defer repos.Close()
		conf.Repos = repos
		conf.Runner = hunt.NewRunner(h, hunt.Options{
			Workers:     cfg.Hunt.Workers,
			OutputDir:   cfg.Hunt.OutputDir,
			Runs:        repos.Run,
			Resolutions: repos.Resolution,
			Logger:      logger.WithField("component", "hunt"),
			Clock:       utils.NewRealClock(),
		})
	}

	digest, err := h.Digest()
	if err != nil {
		return err
	}
	logger.Info("Serving %s (digest %s) on %s", classPath, digest[:12], sc.Addr)
	return server.NewServer(conf).Run(ctx)
}
