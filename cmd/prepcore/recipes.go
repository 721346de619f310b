package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ferralab/prepcore/internal/config"
	"github.com/ferralab/prepcore/internal/recipe"
)

func newRecipesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "Inspect recipe files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available recipes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, err := newLoader(*configPath)
			if err != nil {
				return err
			}
			names, err := loader.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <name>",
		Short: "Validate a recipe without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := newLoader(*configPath)
			if err != nil {
				return err
			}
			rec, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s mode, %.1f V)\n", rec.Name, rec.Cycle.Mode, rec.VoltageV)
			return nil
		},
	})

	return cmd
}

func newLoader(configPath string) (*recipe.Loader, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return recipe.NewLoader(cfg.Paths.RecipesDir)
}
