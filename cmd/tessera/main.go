package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tessera"
	"github.com/ajitpratap0/tessera/pkg/config"
	"github.com/ajitpratap0/tessera/pkg/errors"
	"github.com/ajitpratap0/tessera/pkg/logger"
)

var version = "0.1.0"

func main() {
	var (
		configFiles []string
		targetDir   string
		forceNew    bool
		dryRun      bool
		traceback   bool
		helpConfig  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:   "tessera [flags] [SLICE...]",
		Short: "Tessera - Transactional slice appends for chunked array cubes",
		Long: `Tessera creates and extends chunked multi-dimensional array cubes by
appending slice datasets along one append dimension. Every append is a
crash-safe transaction: either the slice is fully integrated, or the
cube is restored to its previous state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			if helpConfig != "" {
				return printConfigHelp(helpConfig)
			}

			raw, err := config.LoadRaw(configFiles...)
			if err != nil {
				return err
			}
			if targetDir != "" {
				raw["target_dir"] = targetDir
			}
			if forceNew {
				raw["force_new"] = true
			}
			if dryRun {
				raw["dry_run"] = true
			}
			cfg, err := config.FromMap(raw)
			if err != nil {
				return err
			}

			if err := logger.Init(logger.Config{
				Level:       cfg.Logging.Level,
				Encoding:    cfg.Logging.Encoding,
				OutputPaths: cfg.Logging.OutputPaths,
				Development: cfg.Logging.Development,
			}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			slices := make([]interface{}, len(args))
			for i, arg := range args {
				slices[i] = arg
			}

			log := logger.Get()
			log.Info("starting",
				zap.String("target", cfg.TargetDir),
				zap.Int("slices", len(args)))

			return tessera.Process(ctx, cfg, slices...)
		},
	}

	flags := root.Flags()
	flags.StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file (repeatable; later files merge into earlier)")
	flags.StringVarP(&targetDir, "target", "t", "",
		"Target cube path or URI (overrides target_dir)")
	flags.BoolVar(&forceNew, "force-new", false,
		"Destroy an existing cube and its lock before processing")
	flags.BoolVar(&dryRun, "dry-run", false,
		"Log intended actions without writing")
	flags.BoolVar(&traceback, "traceback", false,
		"Include a stack trace on error")
	flags.StringVar(&helpConfig, "help-config", "",
		"Print the configuration schema as 'json' or 'md' and exit")
	flags.BoolVar(&showVersion, "version", false,
		"Print version and exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if traceback {
			if stack := errors.FormatStack(err); stack != "" {
				fmt.Fprint(os.Stderr, stack)
			}
		}
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Tessera v%s\n", version)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func printConfigHelp(format string) error {
	switch format {
	case "json":
		out, err := config.HelpJSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
	case "md":
		fmt.Print(config.HelpMarkdown())
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"--help-config must be 'json' or 'md'; got %q", format)
	}
	return nil
}
