package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/xp"
	"github.com/thalesfsp/xp/internal/logger"
	"github.com/thalesfsp/xp/optimize"
)

const resultWidth = 60

//////
// ls.
//////

func newLsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [experiment]",
		Short: "List experiments, or the observations of one experiment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			if len(args) == 0 {
				return listExperiments(cmd, g, out)
			}

			return listObservations(cmd, g, out, args[0])
		},
	}
}

func listExperiments(cmd *cobra.Command, g *globals, out io.Writer) error {
	names, err := g.experiments()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "EXPERIMENT\tBACKEND\tOBSERVATIONS")

	for _, name := range names {
		b, label, err := g.open(name)
		if err != nil {
			logger.L().Warn("skipping experiment", zap.String("experiment", name), zap.Error(err))

			continue
		}

		history, err := b.LoadAll(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s\t%s\t%d\n", name, label.Backend, len(history))
	}

	return nil
}

func listObservations(cmd *cobra.Command, g *globals, out io.Writer, name string) error {
	b, _, err := g.open(name)
	if err != nil {
		return err
	}

	history, err := b.LoadAll(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "ID\tCONFIG\tRESULT")

	for _, obs := range history {
		cfg, err := json.Marshal(obs.Config)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s\t%s\t%s\n", obs.ID, cfg, clip(fmt.Sprint(obs.Result), resultWidth))
	}

	return nil
}

//////
// show.
//////

func newShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <experiment> <id>",
		Short: "Print one observation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := g.open(args[0])
			if err != nil {
				return err
			}

			history, err := b.LoadAll(cmd.Context())
			if err != nil {
				return err
			}

			for _, obs := range history {
				if obs.ID == args[1] {
					return writeYAML(cmd.OutOrStdout(), obs)
				}
			}

			return fmt.Errorf("experiment %q has no observation %q", args[0], args[1])
		},
	}
}

//////
// best.
//////

func newBestCmd(g *globals) *cobra.Command {
	var (
		field    string
		maximize bool
	)

	cmd := &cobra.Command{
		Use:   "best <experiment>",
		Short: "Print the best observation of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _, err := g.open(args[0])
			if err != nil {
				return err
			}

			history, err := b.LoadAll(cmd.Context())
			if err != nil {
				return err
			}

			objective := optimize.Objective{Field: field}
			if maximize {
				objective.Direction = optimize.Maximize
			}

			if err := objective.Validate(); err != nil {
				return err
			}

			best, _, ok := optimize.Best(history, objective)
			if !ok {
				return fmt.Errorf("%w: no observation of %q has a usable result", optimize.ErrObjective, args[0])
			}

			return writeYAML(cmd.OutOrStdout(), best)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Dotted path to the objective inside the result")
	cmd.Flags().BoolVar(&maximize, "maximize", false, "Higher values are better")

	return cmd
}

//////
// space.
//////

func newSpaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "space <file>",
		Short: "Validate a parameter space file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			space, err := optimize.LoadSpace(args[0])
			if err != nil {
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			fmt.Fprintln(out, "PARAMETER\tKIND\tDOMAIN")

			for _, name := range space.Names() {
				d := space[name]
				fmt.Fprintf(out, "%s\t%s\t%v\n", name, d.Kind(), d)
			}

			return nil
		},
	}
}

//////
// Helpers.
//////

func writeYAML(w io.Writer, obs *xp.Observation) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(obs); err != nil {
		return err
	}

	return enc.Close()
}

func clip(s string, width int) string {
	if len(s) <= width {
		return s
	}

	return s[:width-3] + "..."
}
