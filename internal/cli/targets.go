package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taxrollsync/internal/replication"
)

// schemaTarget is a target that can create the module tables.
type schemaTarget interface {
	replication.Target
	Dialect() replication.Dialect
	ApplySchema(ctx context.Context, ddl string) error
}

// pingTarget is a target whose reachability can be probed.
type pingTarget interface {
	replication.Target
	Ping(ctx context.Context) error
}

func newTargetsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect and prepare the replicated write targets",
	}
	cmd.AddCommand(newTargetsInitCommand(a), newTargetsCheckCommand(a))
	return cmd
}

func newTargetsInitCommand(a *app) *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the module tables on every target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			catalog, err := a.cfg.Catalog()
			if err != nil {
				return err
			}
			targets, err := a.openTargets()
			if err != nil {
				return err
			}
			defer replication.CloseTargets(targets)

			out := cmd.OutOrStdout()
			var errs []error
			for _, t := range targets {
				st, ok := t.(schemaTarget)
				if !ok {
					errs = append(errs, fmt.Errorf("%s: schema creation unsupported", t.Name()))
					continue
				}
				ddl := replication.SchemaDDL(st.Dialect(), catalog.Schemas())
				if printOnly {
					fmt.Fprintf(out, "-- target %s\n%s", t.Name(), ddl)
					continue
				}
				if err := st.ApplySchema(ctx, ddl); err != nil {
					a.logger.Error("schema apply failed", zap.String("target", t.Name()), zap.Error(err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d table(s) ready\n", t.Name(), len(catalog.Schemas()))
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of executing it")
	return cmd
}

func newTargetsCheckCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every target",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			targets, err := a.openTargets()
			if err != nil {
				return err
			}
			defer replication.CloseTargets(targets)

			out := cmd.OutOrStdout()
			var errs []error
			for _, t := range targets {
				pt, ok := t.(pingTarget)
				if !ok {
					fmt.Fprintf(out, "%s: skipped\n", t.Name())
					continue
				}
				pctx, cancel := context.WithTimeout(ctx, a.cfg.Replication.WriteTimeout)
				err := pt.Ping(pctx)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "%s: unreachable: %v\n", t.Name(), err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok\n", t.Name())
			}
			return errors.Join(errs...)
		},
	}
}
