package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a bd database in the current directory",
	Long:  "Creates .beads/ with an empty issue database and a config file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initRun()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initialConfig is written to .beads/config.yaml on init.
type initialConfig struct {
	Actor  string `yaml:"actor,omitempty"`
	DBPath string `yaml:"db_path,omitempty"`
}

func initRun() error {
	beadsDir := ".beads"
	dbPath := filepath.Join(beadsDir, "issues.db")

	if _, err := os.Stat(dbPath); err == nil {
		ui.Info("database already exists at %s", dbPath)
		return nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	cfgPath := filepath.Join(beadsDir, "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(initialConfig{Actor: resolveActor()})
		if err != nil {
			return bderr.Wrap(bderr.CodeIoError, err, "marshal config")
		}
		if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
			return bderr.Wrap(bderr.CodeIoError, err, "write config")
		}
	}

	ui.Success("initialized empty bd database at %s", dbPath)
	return nil
}
