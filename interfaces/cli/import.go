package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/preservio/arcrepo/application"
	"github.com/preservio/arcrepo/infrastructure/importer"
)

// importOptions holds options for the import command.
type importOptions struct {
	namespace      string
	auid           string
	storeDuplicate bool
	excludeStatus  string
	jsonOutput     bool
}

// newImportCmd creates the import command.
func (a *App) newImportCmd() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import [archive...]",
		Short: "Bulk-import WARC archives into an archival unit",
		Long: `Import every response and resource record of the given WARC archives
(plain or gzip) into one archival unit. Each record is added, checked
for content-identical duplication against the latest committed version,
and committed. One status line is printed per record.

Examples:
  # Import a crawl into an AU
  arcrepo import -c config.yaml --namespace web --auid crawl-2026 snapshot.warc.gz

  # Keep duplicate content as new versions
  arcrepo import -c config.yaml -n web -u crawl-2026 --store-duplicate snapshot.warc

  # Skip server error responses
  arcrepo import -c config.yaml -n web -u crawl-2026 --exclude-status '5..' snapshot.warc`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "", "Target namespace (required)")
	cmd.Flags().StringVarP(&opts.auid, "auid", "u", "", "Target archival unit identifier (required)")
	cmd.Flags().BoolVar(&opts.storeDuplicate, "store-duplicate", false, "Store content-identical versions instead of abandoning them")
	cmd.Flags().StringVar(&opts.excludeStatus, "exclude-status", "", "Skip records whose HTTP status code matches this regexp")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print statuses as JSON lines")

	_ = cmd.MarkFlagRequired("namespace")
	_ = cmd.MarkFlagRequired("auid")

	return cmd
}

func (a *App) runImport(ctx context.Context, opts *importOptions, archives []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	repo, err := a.openRepository(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer repo.Shutdown(ctx)

	var failures int
	for _, path := range archives {
		n, err := a.importOne(ctx, repo, opts, path)
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		failures += n
	}
	if failures > 0 {
		return fmt.Errorf("%d records failed to import", failures)
	}
	return nil
}

// importOne streams one archive and prints per-record statuses,
// returning the number of failed records.
func (a *App) importOne(ctx context.Context, repo *application.Repository, opts *importOptions, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	statuses, err := repo.AddArtifacts(ctx, opts.namespace, opts.auid, f, importer.Options{
		StoreDuplicate:       opts.storeDuplicate,
		ExcludeStatusPattern: opts.excludeStatus,
	})
	if err != nil {
		return 0, err
	}

	failures := 0
	for st := range statuses {
		if st.Status == importer.StatusError {
			failures++
		}
		a.printStatus(opts.jsonOutput, path, st)
	}
	return failures, nil
}

func (a *App) printStatus(jsonOutput bool, path string, st importer.Status) {
	if jsonOutput {
		line, err := json.Marshal(st)
		if err != nil {
			return
		}
		fmt.Fprintln(a.stdout, string(line))
		return
	}
	switch st.Status {
	case importer.StatusOK:
		fmt.Fprintf(a.stdout, "%s: OK %s v%d %s (%s)\n", path, st.URL, st.Version, st.ArtifactUUID, st.Digest)
	case importer.StatusDuplicate:
		fmt.Fprintf(a.stdout, "%s: DUPLICATE %s of v%d %s\n", path, st.URL, st.Version, st.ArtifactUUID)
	case importer.StatusExcluded:
		fmt.Fprintf(a.stdout, "%s: EXCLUDED %s\n", path, st.URL)
	default:
		fmt.Fprintf(a.stderr, "%s: ERROR at offset %d: %s\n", path, st.Offset, st.Error)
	}
}
