package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"taxrollsync/internal/session"
	"taxrollsync/internal/upload"
	"taxrollsync/pkg/domain"
)

type ingestOptions struct {
	module   string
	file     string
	identity string
	noHeader bool
	submit   bool
}

func newIngestCommand(a *app) *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest --module NAME --file PATH",
		Short: "Save rows from an xlsx or tab-separated file without the terminal UI",
		Long: `ingest saves every row of FILE into MODULE, replicating each row to all
targets. Files ending in .xlsx must carry the module's exact header row;
anything else is read as tab-separated text.

With --identity the secret is read from the first line of standard input;
otherwise a remembered login is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIngest(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.module, "module", "m", "", "target module (default: the upload module)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "xlsx or tab-separated input file")
	cmd.Flags().StringVar(&opts.identity, "identity", "", "operator identity")
	cmd.Flags().BoolVar(&opts.noHeader, "no-header", false, "tab-separated input has no header row")
	cmd.Flags().BoolVar(&opts.submit, "submit", false, "export, publish, and mail the report after saving")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) runIngest(cmd *cobra.Command, opts ingestOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := a.open(ctx, opts.submit)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := a.authenticate(ctx, cmd.InOrStdin(), rt.svc, opts.identity); err != nil {
		return err
	}

	schema, err := ingestSchema(rt.catalog, opts.module)
	if err != nil {
		return err
	}
	sheet, err := readSheet(opts.file, schema, !opts.noHeader)
	if err != nil {
		return err
	}
	res, err := rt.svc.Save(ctx, schema.Module, sheet.Rows)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Notice())
	for _, f := range res.Failures {
		fmt.Fprintf(out, "  row %d: %v\n", f.Row, f.Err)
	}
	if !opts.submit {
		return nil
	}

	sub, err := rt.svc.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n  %d record(s), %d batch(es), published to %s\n",
		sub.Subject, sub.Summary.Records, len(sub.Summary.Batches), sub.Published.Info.Key)
	return nil
}

// authenticate logs in with identity and a secret read from in, or resumes a
// remembered login when identity is empty.
func (a *app) authenticate(ctx context.Context, in io.Reader, svc *session.Service, identity string) error {
	if strings.TrimSpace(identity) == "" {
		if _, ok, err := svc.Resume(); err != nil || !ok {
			return errors.New("not signed in: pass --identity and the secret on standard input")
		}
		return nil
	}
	secret, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read secret: %w", err)
	}
	_, err = svc.Login(ctx, identity, strings.TrimRight(secret, "\r\n"))
	return err
}

func ingestSchema(catalog *domain.Catalog, module string) (domain.Schema, error) {
	if module != "" {
		return catalog.Lookup(domain.ModuleID(module))
	}
	for _, s := range catalog.Schemas() {
		if s.Source == domain.SourceUpload {
			return s, nil
		}
	}
	return domain.Schema{}, errors.New("no upload module configured; pass --module")
}

func readSheet(path string, schema domain.Schema, header bool) (upload.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return upload.Sheet{}, err
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return upload.ReadWorkbook(f, schema)
	}
	return upload.ReadDelimited(f, schema, header)
}
