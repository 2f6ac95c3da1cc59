package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mmcdole/bundlesync/internal/adapter"
)

// Version is set at build time via -ldflags
var Version = "dev"

type command struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"index", "index [--platform P] [--hash md5|blake3] <build-root>", "generate the bundle index for a build output", runIndex},
		{"sync", "sync [--server URL] [--plain]", "bring the local cache up to date", runSync},
		{"diff", "diff [--unified] <local-index> <remote-index>", "show what a sync would download", runDiff},
		{"find", "find <query>", "fuzzy search the local index", runFind},
		{"load", "load --kind K <path>...", "load assets through the bundle cache", runLoad},
		{"pack", "pack --out F [--scene] [--compression C] <file>...", "write a bundle or packaged store", runPack},
		{"pack-manifest", "pack-manifest --out F <bundle>=<dep>,<dep>...", "write a dependency manifest bundle", runPackManifest},
		{"run", "run <module>", "run a synced script module", runScript},
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	if args[0] == "-v" || args[0] == "--version" {
		fmt.Printf("bundlesync %s\n", Version)
		return nil
	}

	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		e := &env{}
		defer e.close()
		return c.run(ctx, e, args[1:])
	}
	printUsage()
	return fmt.Errorf("unknown command: %s", args[0])
}

func printUsage() {
	var sb strings.Builder
	sb.WriteString("usage: bundlesync <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&sb, "  %-14s %s\n", c.name, c.summary)
	}
	sb.WriteString("\nevery command accepts --config FILE\n")
	fmt.Fprint(os.Stderr, sb.String())
}

// env is the configuration and logger shared by all commands.
type env struct {
	cfg      *adapter.Config
	logger   *slog.Logger
	closeLog func() error
}

// flags returns a flag set for name carrying the shared --config flag.
func (e *env) flags(c string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet("bundlesync "+c, pflag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: search the config directory)")
	fs.Usage = func() {
		for _, cmd := range commands {
			if cmd.name == c {
				fmt.Fprintf(os.Stderr, "usage: bundlesync %s\n\n", cmd.usage)
			}
		}
		fs.PrintDefaults()
	}
	return fs, configPath
}

// load reads the config and sets up logging. It is called after flag
// parsing so --config is known.
func (e *env) load(configPath string) error {
	cfg, err := adapter.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	e.cfg = cfg

	logger, closeLog, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger, closeLog = adapter.NullLogger(), nil
	}
	e.logger, e.closeLog = logger, closeLog
	slog.SetDefault(logger)

	logger.Info("starting bundlesync", "version", Version)
	return nil
}

func (e *env) close() {
	if e.closeLog != nil {
		e.closeLog()
	}
}
