// Package cli implements the xp command, a read-only view over a storage
// root.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/thalesfsp/xp"
	"github.com/thalesfsp/xp/internal/config"
	"github.com/thalesfsp/xp/internal/logger"
)

// Version is set at build time
var Version = "0.1.0"

type globals struct {
	root      string
	logLevel  string
	logFormat string
}

// NewRootCmd builds the xp command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	settings, err := config.Load()
	if err != nil {
		settings = &config.Settings{Root: "experiments", LogLevel: "info", LogFormat: "console"}
	}

	rootCmd := &cobra.Command{
		Use:   "xp",
		Short: "Inspect recorded experiments",
		Long: `xp lists and inspects the observations recorded under a storage root.

Commands:
  ls     - List experiments, or the observations of one experiment
  show   - Print one observation
  best   - Print the best observation of an experiment
  space  - Validate a parameter space file

Example:
  xp ls
  xp ls train --root ./experiments
  xp best train --field metrics.accuracy --maximize`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.Init(logger.Config{Level: g.logLevel, Format: g.logFormat}, os.Stderr)
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.root, "root", settings.Root, "Storage root (or set XP_ROOT)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", settings.LogLevel, "Log level")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "Log format (json or console)")

	rootCmd.AddCommand(newLsCmd(g))
	rootCmd.AddCommand(newShowCmd(g))
	rootCmd.AddCommand(newBestCmd(g))
	rootCmd.AddCommand(newSpaceCmd())

	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	defer func() { _ = logger.Sync() }()

	return NewRootCmd().Execute()
}

// open returns the backend of the named experiment.
func (g *globals) open(name string) (xp.Backend, *xp.Label, error) {
	b, label, err := xp.Open(filepath.Join(g.root, name))
	if err != nil {
		return nil, nil, fmt.Errorf("open experiment %q: %w", name, err)
	}

	return b, label, nil
}

// experiments lists the directories under the root holding a label.
func (g *globals) experiments() ([]string, error) {
	entries, err := os.ReadDir(g.root)
	if err != nil {
		return nil, err
	}

	var names []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(g.root, entry.Name(), xp.LabelFile)); err == nil {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
