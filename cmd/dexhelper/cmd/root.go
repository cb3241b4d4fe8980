package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dexhelper/internal/storage"
	"github.com/dexhelper/pkg/config"
	"github.com/dexhelper/pkg/dexhelper"
	"github.com/dexhelper/pkg/pprof"
	"github.com/dexhelper/pkg/telemetry"
	"github.com/dexhelper/pkg/utils"
)

var (
	// Global flags
	configPath string
	classPath  string
	verbose    bool
	logger     utils.Logger
	cfg        *config.Config

	// Pprof flags
	pprofEnabled     bool
	pprofDir         string
	pprofProfiles    string
	pprofInterval    time.Duration
	pprofCPUDuration time.Duration

	pprofCollector    *pprof.Collector
	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dexhelper",
	Short: "Index dex bytecode and search it structurally",
	Long: `dexhelper loads the dex images of an application (APK, JAR, dex files or
storage URIs), indexes strings, call sites and field accesses, and answers
structural queries: which methods use a string, call a method, read or write
a field, or match a signature.

Named queries ("fingerprints") can be hunted in bulk; results are stored per
image set so unchanged fingerprints are not searched again.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			fl, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
			logger = fl
		} else {
			logger = utils.NewDefaultLogger(level, cmd.ErrOrStderr())
		}
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("Failed to initialize telemetry: %v", err)
		}
		telemetryShutdown = shutdown

		if pprofEnabled {
			pcfg, err := buildPprofConfig()
			if err != nil {
				return err
			}
			collector, err := pprof.NewCollector(pcfg, logger)
			if err != nil {
				return err
			}
			if err := collector.Start(); err != nil {
				return err
			}
			pprofCollector = collector
			logger.Info("pprof collection started (dir: %s)", pcfg.OutputDir)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if pprofCollector != nil {
			logger.Info("Stopping pprof collection...")
			if err := pprofCollector.Stop(); err != nil {
				logger.Warn("Failed to stop pprof collector: %v", err)
			}
			logger.Info("pprof data saved to: %s", pprofCollector.OutputDir())
			pprofCollector = nil
		}
		if telemetryShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetryShutdown(ctx); err != nil {
				logger.Warn("Failed to flush traces: %v", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&classPath, "classpath", "p", "", "Colon separated dex sources: .apk/.jar/.dex files, directories, cos:// or s3:// keys")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Profile dexhelper itself while the command runs")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "./pprof", "Output directory for pprof data")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap,goroutine", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")
	rootCmd.PersistentFlags().DurationVar(&pprofInterval, "pprof-interval", 30*time.Second, "Snapshot interval")
	rootCmd.PersistentFlags().DurationVar(&pprofCPUDuration, "pprof-cpu-duration", 10*time.Second, "CPU profile duration per snapshot")

	binName := BinName()
	rootCmd.Example = `  # Write the bundled sample application and index it
  ` + binName + ` fixture sample.apk
  ` + binName + ` index -p sample.apk

  # Methods that use a URL prefix
  ` + binName + ` find string -p sample.apk --prefix "https://api.example.com/"

  # Call graph around a method, as DOT
  ` + binName + ` xref -p sample.apk "Lcom/example/net/Http;->request(Ljava/lang/String;)Ljava/lang/String;" --format dot

  # Resolve a fingerprint file and keep the results
  ` + binName + ` hunt -p app.apk fingerprints.yaml

  # Serve the query API
  ` + binName + ` serve -p app.apk --addr :8080`
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

func buildPprofConfig() (*pprof.Config, error) {
	profiles, err := pprof.ParseProfileTypes(pprofProfiles)
	if err != nil {
		return nil, err
	}
	pcfg := pprof.DefaultConfig()
	pcfg.OutputDir = pprofDir
	pcfg.Profiles = profiles
	pcfg.Interval = pprofInterval
	pcfg.CPUDuration = pprofCPUDuration
	return pcfg, pcfg.Validate()
}

// openHelper loads the --classpath images with the loaded configuration.
func openHelper(ctx context.Context) (*dexhelper.Helper, error) {
	cctx := dexhelper.ParseClassPath(classPath)
	if len(cctx.Entries) == 0 {
		return nil, fmt.Errorf("--classpath is required")
	}
	fetchers, err := storage.Fetchers(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to configure storage: %w", err)
	}
	start := time.Now()
	h, err := dexhelper.New(ctx, cctx,
		dexhelper.WithConfig(cfg),
		dexhelper.WithLogger(logger),
		dexhelper.WithFetchers(fetchers),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded %s in %s", classPath, time.Since(start).Round(time.Millisecond))
	return h, nil
}
