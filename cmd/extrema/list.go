package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/extrema/internal/functions"
	"github.com/copyleftdev/extrema/internal/objective"
)

func newTechniquesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "techniques",
		Short: "List optimization techniques",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			offered, err := a.offered()
			if err != nil {
				return err
			}
			var rows [][]string
			for _, name := range a.factory.Names() {
				mark := ""
				if slices.Contains(offered, name) {
					mark = "yes"
				}
				rows = append(rows, []string{name, mark})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Technique", "Offered"}, rows, noHighlight, nil))
			return err
		},
	}
}

func newFunctionsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List the configured objective functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := functions.NewSet(a.cfg.Functions.Keys, a.cfg.Functions.Overrides)
			if err != nil {
				return err
			}

			type view struct {
				Key string `json:"key"`
				objective.Snapshot
			}
			var (
				views []view
				rows  [][]string
			)
			set.Each(func(key string, fn *objective.Function) {
				snap := fn.Snapshot()
				views = append(views, view{Key: key, Snapshot: snap})
				rows = append(rows, []string{
					key,
					snap.Title,
					direction(snap.Minimize),
					formatInputs(snap.InputNames, snap.InputValues),
				})
			})

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Title", "Direction", "Start"}, rows, noHighlight, nil))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Write JSON instead of a table")
	return cmd
}
