package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("branchdeploy", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	branch := fs.String("branch", "", "Branch that triggered the run")
	previous := fs.String("previous-revision", "", "Last deployed revision (empty deploys everything eligible)")
	current := fs.String("current-revision", "", "Revision being deployed")
	treeRoot := fs.String("tree-root", "", "Root of the checked-out source tree")
	dryRun := fs.Bool("dry-run", false, "Package components but do not deploy them")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	if *showVersion {
		fmt.Printf("branchdeploy %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Flags win over file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "branch":
			cfg.Trigger.Branch = *branch
		case "previous-revision":
			cfg.Trigger.PreviousRevision = *previous
		case "current-revision":
			cfg.Trigger.CurrentRevision = *current
		case "tree-root":
			cfg.Trigger.TreeRoot = *treeRoot
		case "dry-run":
			cfg.Deploy.DryRun = *dryRun
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg, os.Stderr)
	logger.Info("starting branchdeploy",
		"version", Version,
		"config", *configPath,
		"dry_run", cfg.Deploy.DryRun,
	)

	app, err := NewApp(context.Background(), cfg, logger)
	if err != nil {
		return exitCode(logger, "failed to set up run", err)
	}

	summary, err := app.Run(context.Background())
	if err != nil {
		return exitCode(logger, "run aborted", err)
	}

	if err := WriteSummary(os.Stdout, cfg.Summary.Path, summary); err != nil {
		logger.Error("failed to write summary", "error", err)
	}

	if !summary.Succeeded() {
		return ExitComponentFailed
	}
	return ExitSuccess
}

func exitCode(logger *slog.Logger, msg string, err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		logger.Error(msg, "error", appErr.Err, "operation", appErr.Op)
		return appErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
