package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/foiacquire/muckrake/pkg/config"
	"github.com/foiacquire/muckrake/pkg/custody"
	"github.com/foiacquire/muckrake/pkg/logging"
	"github.com/foiacquire/muckrake/pkg/pipeline"
	"github.com/foiacquire/muckrake/pkg/workspace"
)

var (
	outputFmt string
	cfgFile   string
	inWS      bool

	vcfg    = viper.New()
	cfg     *config.Config
	logger  *slog.Logger
	syncLog func() error
)

var rootCmd = &cobra.Command{
	Use:   "mkrk",
	Short: "Chain-of-custody tracking for investigation files",
	Long: `mkrk records where every file in an investigation came from, what it
hashed to, who has signed off on it, and everything that has happened
to it since.

A directory holding a .mkrk database is a project; a directory holding
a .mksp database is a workspace grouping several projects.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mkrk/config.yaml)")
	if err := config.BindFlags(vcfg, flags); err != nil {
		glog.Fatalf("bind flags: %v", err)
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(enterCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(untrackCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tagCmd)
	rootCmd.AddCommand(untagCmd)
	rootCmd.AddCommand(tagsCmd)
	rootCmd.AddCommand(categorizeCmd)
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(unsignCmd)
	rootCmd.AddCommand(signsCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(toolCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(auditCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(vcfg, cfgFile)
	if err != nil {
		glog.Fatalf("load config: %v", err)
	}
	logger, syncLog, err = logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		glog.Fatalf("set up logging: %v", err)
	}
	slog.SetDefault(logger)
	if cfg.File != "" {
		logger.Debug("using config file", "path", cfg.File)
	}
}

// scopeFlag adds --workspace to commands that can target the workspace
// database instead of the project's.
func scopeFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&inWS, "workspace", "w", false, "Operate on the workspace database")
}

func scope() custody.Scope {
	if inWS {
		return custody.ScopeWorkspace
	}
	return custody.ScopeProject
}

// openContext discovers the project or workspace around the working
// directory.
func openContext() (*workspace.Context, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return workspace.Load(cwd, cfg.Cache, logger)
}

func openTracker() (*custody.Tracker, func(), error) {
	wc, err := openContext()
	if err != nil {
		return nil, nil, err
	}
	t, err := newTracker(wc)
	if err != nil {
		_ = wc.Close()
		return nil, nil, err
	}
	return t, func() {
		if err := wc.Close(); err != nil {
			logger.Warn("close databases", "error", err)
		}
	}, nil
}

func newTracker(wc *workspace.Context) (*custody.Tracker, error) {
	signer, err := loadSigner()
	if err != nil {
		return nil, err
	}
	return custody.New(wc, custody.Options{
		Actor:     cfg.Actor,
		Signer:    signer,
		Jobs:      cfg.Jobs,
		Rules:     cfg.Rules,
		Tools:     cfg.Tools,
		Audit:     cfg.Audit,
		HashCheck: cfg.HashCheck,
	}, logger), nil
}

// loadSigner returns the configured OpenPGP signer, or nil when no signing
// identity is configured.
func loadSigner() (pipeline.Signer, error) {
	if cfg.Signer == "" {
		return nil, nil
	}
	if cfg.Keyring == "" {
		return nil, fmt.Errorf("signer %q configured without gpg.keyring", cfg.Signer)
	}
	s, err := pipeline.LoadOpenPGPSigner(cfg.Keyring, cfg.Signer, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// withTracker wraps a command body with opening and closing the tracker.
func withTracker(run func(cmd *cobra.Command, t *custody.Tracker, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		t, done, err := openTracker()
		if err != nil {
			return err
		}
		defer done()
		return run(cmd, t, args)
	}
}
