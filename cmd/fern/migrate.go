package main

import (
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/migration"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	var skipMelt bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run a full migration from the source graph into the destination",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := a.start(ctx, true)
			if err != nil {
				return err
			}
			src, err := a.sourceStore(d)
			if err != nil {
				return err
			}
			files, err := a.files(ctx)
			if err != nil {
				return err
			}
			options, err := a.plannerOptions()
			if err != nil {
				return err
			}
			dest, runs := a.repositories(d)

			runner := migration.NewRunner(a.logger, src, dest, files, runs, migration.Config{
				Planner:  options,
				Copy:     a.copyConfig(),
				Melt:     a.meltConfig(),
				SkipMelt: skipMelt || !a.cfg.MeltEnabled,
			})
			summary, err := runner.Run(ctx)
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", summary.ID, summary.CurrentStatus())
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&skipMelt, "skip-melt", false, "stop after the bulk copy")
	return cmd
}

func (a *app) planCmd() *cobra.Command {
	var ddl bool
	var flavor string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the relational plan for the source collections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var graphDeps *deps
			if a.cfg.SourceKind == "neo4j" {
				d := &deps{}
				dep := a.graphDependency(d)
				if err := dep.Start(ctx); err != nil {
					return err
				}
				a.onClose(dep.Stop)
				graphDeps = d
			}
			src, err := a.sourceStore(graphDeps)
			if err != nil {
				return err
			}
			descriptors, err := src.Descriptors(ctx)
			if err != nil {
				return err
			}
			options, err := a.plannerOptions()
			if err != nil {
				return err
			}
			plan, err := schema.NewPlanner(a.logger, options).Plan(ctx, descriptors)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ddl {
				if flavor == "" {
					flavor = a.cfg.DatabaseDriver
				}
				for _, stmt := range plan.DDL(database.FlavorForDriver(flavor)) {
					fmt.Fprintln(out, stmt+";")
				}
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}
	cmd.Flags().BoolVar(&ddl, "ddl", false, "print CREATE statements instead of the JSON plan")
	cmd.Flags().StringVar(&flavor, "flavor", "", "SQL dialect for --ddl (postgres, mysql, sqlite); defaults to the configured driver")
	return cmd
}

func (a *app) dbMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "db-migrate",
		Short: "Apply the bookkeeping migrations to the destination database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := a.start(cmd.Context(), false)
			if err == nil {
				a.logger.Info("Destination migrations applied")
			}
			return err
		},
	}
}
