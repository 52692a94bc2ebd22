package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"taxrollsync/internal/auth"
	"taxrollsync/internal/blob"
	"taxrollsync/internal/config"
	"taxrollsync/internal/upload"
	"taxrollsync/pkg/domain"
)

// reportLinkExpiry is the lifetime of links printed by `reports list`.
const reportLinkExpiry = 24 * time.Hour

func newAuthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage operator credentials",
	}
	cmd.AddCommand(newAuthHashCommand(), newAuthForgetCommand(a))
	return cmd
}

func newAuthHashCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:         "hash",
		Short:       "Hash a secret read from standard input for auth.users",
		Annotations: map[string]string{annotationStandalone: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read secret: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("empty secret")
			}
			hash, err := auth.HashSecret(secret, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newAuthForgetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the remembered login on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Auth.CachePath
			if path == "" {
				var err error
				if path, err = auth.DefaultCachePath(); err != nil {
					return err
				}
			}
			if err := auth.NewCache(path, a.cfg.Auth.MaxAge).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "remembered login cleared")
			return nil
		},
	}
}

func newReportsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect published session reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show the current report and its archived copies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, pub, err := a.openPublisher(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			current, err := store.Head(ctx, pub.Key())
			switch {
			case errors.Is(err, blob.ErrNotFound):
				fmt.Fprintf(out, "no report published at %s\n", pub.Key())
			case err != nil:
				return err
			default:
				printReport(ctx, out, store, current)
			}
			archived, err := pub.Archived(ctx)
			if err != nil {
				return err
			}
			for _, info := range archived {
				printReport(ctx, out, store, info)
			}
			return nil
		},
	})
	return cmd
}

func printReport(ctx context.Context, w io.Writer, store blob.Store, info blob.Info) {
	fmt.Fprintf(w, "%s\t%d bytes\t%s\t%s\n",
		info.Key, info.Size, info.LastModified.UTC().Format(time.RFC3339), info.Metadata["identity"])
	url, err := store.URL(ctx, info.Key, reportLinkExpiry)
	if err == nil {
		fmt.Fprintf(w, "\t%s\n", url)
	}
}

func newUploadCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Spreadsheet upload helpers",
	}
	var out, module string
	template := &cobra.Command{
		Use:   "template",
		Short: "Write an empty xlsx carrying the upload header row",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := a.cfg.Catalog()
			if err != nil {
				return err
			}
			schema, err := ingestSchema(catalog, module)
			if err != nil {
				return err
			}
			data, err := upload.Template(schema)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = templateName(schema.Module)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d columns)\n", path, schema.Len())
			return nil
		},
	}
	template.Flags().StringVarP(&out, "out", "o", "", "output path (default: <module> Template.xlsx)")
	template.Flags().StringVarP(&module, "module", "m", "", "module (default: the upload module)")
	cmd.AddCommand(template)
	return cmd
}

func templateName(module domain.ModuleID) string {
	return string(module) + " Template.xlsx"
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "init [path]",
		Short:       "Write a commented default configuration",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{annotationStandalone: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFileFor(a.configPath, args)
			created, err := config.WriteDefault(path)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration file and targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			file := a.cfg.File
			if file == "" {
				file = "(defaults)"
			}
			fmt.Fprintf(out, "config: %s\npolicy: %s\n", file, a.cfg.Policy())
			for _, t := range a.cfg.Targets {
				fmt.Fprintf(out, "target: %s (%s)\n", t.Label(), t.Driver)
			}
			return nil
		},
	})
	return cmd
}

func configFileFor(flag string, args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case flag != "":
		return flag
	default:
		return "taxroll.yaml"
	}
}
