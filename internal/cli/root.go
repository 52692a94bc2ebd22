// Package cli wires configuration, logging, and the session pipelines into the
// taxroll command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxrollsync/internal/config"
	"taxrollsync/internal/logging"
)

// Version is stamped at build time with -ldflags "-X taxrollsync/internal/cli.Version=...".
var Version = "dev"

const (
	// annotationStandalone marks commands that run without loading configuration.
	annotationStandalone = "taxroll/standalone"
	// annotationInteractive marks commands that own the terminal.
	annotationInteractive = "taxroll/interactive"
)

// app holds the state shared by every command of one invocation.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand returns the taxroll command tree. Running it without a
// subcommand starts the interactive session.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "taxroll",
		Short: "Replicated tax roll update entry",
		Long: `taxroll collects tax roll updates by grid entry or spreadsheet upload,
writes every row to all configured databases, and mails a session report.`,
		Annotations:       map[string]string{annotationInteractive: "true"},
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSession(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: ./taxroll.yaml or ~/.config/taxroll/taxroll.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newSessionCommand(a),
		newIngestCommand(a),
		newTargetsCommand(a),
		newAuthCommand(a),
		newReportsCommand(a),
		newUploadCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Annotations[annotationStandalone] == "true" {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	opts := logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, Verbose: a.verbose}
	// the terminal UI owns stderr, so its logs go to a file
	if opts.File == "" && cmd.Annotations[annotationInteractive] == "true" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("resolve log directory: %w", err)
		}
		opts.File = filepath.Join(dir, "taxroll", "session.log")
	}
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.logger = logger
	a.logger.Debug("configuration loaded",
		zap.String("file", cfg.File),
		zap.Int("targets", len(cfg.Targets)),
		zap.String("policy", cfg.Replication.Policy))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version number",
		Annotations: map[string]string{annotationStandalone: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taxroll %s\n", Version)
		},
	}
}
