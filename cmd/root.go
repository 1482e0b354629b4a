package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/output"
	"github.com/joescharf/bd/internal/service"
	"github.com/joescharf/bd/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	svc       *service.Service

	verbose bool
	jsonOut bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bd",
	Short: "bd - dependency-aware issue tracker for autonomous agents",
	Long: `bd tracks issues linked by typed relationships and answers the
questions agents ask constantly: what is ready to work on right now,
does this dependency create a cycle, and in what parallel order can
independent work proceed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go. Exit codes: 0
// success, 1 user error, 2 engine/store error, 3 schema mismatch.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(bderr.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().Bool("version", false, "Print version and exit")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if ok, _ := cmd.Flags().GetBool("version"); ok {
			fmt.Fprintf(ui.Out, "bd %s (%s, %s)\n", buildVersion, buildCommit, buildDate)
			return nil
		}
		return cmd.Help()
	}
}

func initConfig() {
	viper.SetEnvPrefix("BD")
	viper.AutomaticEnv()

	viper.SetDefault("db_path", "")
	viper.SetDefault("actor", "")

	// A .beads/config.yaml found by walking up from the CWD supplies
	// project-local settings; all keys can be overridden via BD_* env vars.
	if dir := findBeadsDir(); dir != "" {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		_ = viper.ReadInConfig()
	}
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// findBeadsDir walks up from the CWD looking for a .beads directory.
func findBeadsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".beads")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// resolveDBPath returns the store location: BD_DB_PATH (or config db_path)
// wins, then a .beads/issues.db discovered by walking up, then the default
// relative path for a fresh init.
func resolveDBPath() string {
	if p := viper.GetString("db_path"); p != "" {
		return p
	}
	if dir := findBeadsDir(); dir != "" {
		return filepath.Join(dir, "issues.db")
	}
	return filepath.Join(".beads", "issues.db")
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	s, err := store.NewSQLiteStore(resolveDBPath())
	if err != nil {
		return nil, err
	}
	dataStore = s
	return dataStore, nil
}

// getService returns the shared service, wiring the clock (BD_NOW) and
// actor (BD_ACTOR) from the environment.
func getService() (*service.Service, error) {
	if svc != nil {
		return svc, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	opts := []service.Option{}
	if fixed := viper.GetString("now"); fixed != "" {
		t, err := time.Parse(time.RFC3339, fixed)
		if err != nil {
			return nil, bderr.New(bderr.CodeInvalidField, "BD_NOW must be RFC 3339: %v", err)
		}
		opts = append(opts, service.WithClock(func() time.Time { return t }))
	}
	if actor := resolveActor(); actor != "" {
		opts = append(opts, service.WithActor(actor))
	}

	svc = service.New(s, opts...)
	return svc, nil
}

func resolveActor() string {
	if a := viper.GetString("actor"); a != "" {
		return a
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "bd"
}
