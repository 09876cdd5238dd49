package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/zap"

	"cartograph/internal/config"
	"cartograph/internal/domain"
	"cartograph/internal/logging"
)

// rootFlags override the config file
type rootFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string
	mode       string
	posture    string
}

func main() {
	var root rootFlags
	rootFS := flag.NewFlagSet("cartograph", flag.ExitOnError)
	rootFS.StringVar(&root.configPath, "config", "", "config file path (default: search $CARTOGRAPH_CONFIG, ./cartograph.yaml, XDG, /etc)")
	rootFS.StringVar(&root.dbPath, "db", "", "SQLite database path")
	rootFS.StringVar(&root.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootFS.StringVar(&root.logFormat, "log-format", "", "log format: console or json")
	rootFS.StringVar(&root.mode, "mode", "", "probe ceiling: passive, monitor or discovery")
	rootFS.StringVar(&root.posture, "posture", "", "stealth, cautious, balanced or aggressive")

	cmd := &ffcli.Command{
		Name:       "cartograph",
		ShortUsage: "cartograph [flags] <subcommand> [args...]",
		ShortHelp:  "Reconcile reconnaissance findings into one entity graph.",
		FlagSet:    rootFS,
		Options:    []ff.Option{ff.WithEnvVarPrefix("CARTOGRAPH")},
		Subcommands: []*ffcli.Command{
			serveCommand(&root),
			addCommand(&root),
			importCommand(&root),
			exportCommand(&root),
			configCommand(&root),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "cartograph: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config file and applies the root flag overrides
func (r *rootFlags) load() (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if r.configPath != "" {
		cfg, path, err = config.LoadFromPath(r.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}

	if r.dbPath != "" {
		cfg.Database.Path = r.dbPath
	}
	if r.logLevel != "" {
		cfg.Log.Level = strings.ToLower(r.logLevel)
	}
	if r.logFormat != "" {
		cfg.Log.Format = r.logFormat
	}
	if r.mode != "" {
		mode := config.Mode(r.mode)
		cfg.Mode = &mode
	}
	if r.posture != "" {
		cfg.Posture = config.Posture(r.posture)
	}

	return cfg, path, cfg.Validate()
}

// setup loads the config, builds the logger and wires the app
func (r *rootFlags) setup() (*app, error) {
	cfg, path, err := r.load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if path != "" {
		logger.Debug("config loaded", zap.String("path", path))
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func addCommand(root *rootFlags) *ffcli.Command {
	fs := flag.NewFlagSet("cartograph add", flag.ExitOnError)
	scan := fs.Bool("scan", false, "run the enabled probes against what the targets resolve to")

	return &ffcli.Command{
		Name:       "add",
		ShortUsage: "cartograph add [-scan] <host|ip>...",
		ShortHelp:  "Resolve targets and record their machines and domains.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("add requires at least one target")
			}
			a, err := root.setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			var handles []domain.Handle
			for _, target := range args {
				added, err := a.ingest.Add(ctx, target)
				if err != nil {
					return err
				}
				for _, h := range added {
					fmt.Printf("%s\t%s\n", target, h)
				}
				handles = append(handles, added...)
			}

			if *scan {
				return a.scheduleAll(ctx, handles)
			}
			return nil
		},
	}
}

func importCommand(root *rootFlags) *ffcli.Command {
	fs := flag.NewFlagSet("cartograph import", flag.ExitOnError)
	format := fs.String("format", "", "json, yaml or ansible-inventory (default: from the file extension)")

	return &ffcli.Command{
		Name:       "import",
		ShortUsage: "cartograph import [-format f] <file|->",
		ShortHelp:  "Reconcile a document of observations into the graph.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("import takes exactly one file")
			}
			a, err := root.setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			result, err := a.ingest.Import(ctx, formatFor(*format, args[0]), in)
			if err != nil {
				return err
			}
			fmt.Printf("reconciled %d observations, %d failed\n", result.Reconciled, result.Failed)
			for _, msg := range result.Errors {
				fmt.Printf("  %s\n", msg)
			}
			return nil
		},
	}
}

func exportCommand(root *rootFlags) *ffcli.Command {
	fs := flag.NewFlagSet("cartograph export", flag.ExitOnError)
	format := fs.String("format", "", "json, yaml or ansible-inventory (default: from -o, else json)")
	out := fs.String("o", "-", "output file")

	return &ffcli.Command{
		Name:       "export",
		ShortUsage: "cartograph export [-format f] [-o file]",
		ShortHelp:  "Write a snapshot of the graph.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := root.setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			var w io.Writer = os.Stdout
			if *out != "-" {
				f, err := os.Create(*out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.graph.Export(ctx, formatFor(*format, *out), w)
		},
	}
}

func configCommand(root *rootFlags) *ffcli.Command {
	fs := flag.NewFlagSet("cartograph config", flag.ExitOnError)
	initFile := fs.Bool("init", false, "write a default config file to -config or the XDG location")

	return &ffcli.Command{
		Name:       "config",
		ShortUsage: "cartograph config [-init]",
		ShortHelp:  "Print the effective configuration, or write a default one.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if *initFile {
				path, err := root.initConfig()
				if err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
				return nil
			}

			cfg, path, err := root.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = "(defaults, none of: " + strings.Join(config.SearchPaths(), ", ") + ")"
			}
			fmt.Printf("Config: %s\n%s\n", path, cfg.Summary())
			return nil
		},
	}
}

// initConfig writes the default config without replacing an existing file
func (r *rootFlags) initConfig() (string, error) {
	path := r.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s already exists", path)
	}
	return path, config.DefaultConfig().Save(path)
}

// formatFor picks the codec format: explicit, else by file extension,
// else json
func formatFor(explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if strings.Contains(strings.ToLower(filepath.Base(path)), "inventory") {
			return "ansible-inventory"
		}
		return "yaml"
	}
	return "json"
}
