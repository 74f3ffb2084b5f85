package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/preservio/arcrepo/domain/artifact"
)

// listOptions holds options for the list command.
type listOptions struct {
	namespace   string
	auid        string
	prefix      string
	allVersions bool
	jsonOutput  bool
}

// newListCmd creates the list command.
func (a *App) newListCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List committed artifacts in an archival unit",
		Long: `List committed artifacts in one archival unit, latest version per URI
by default. With no --auid, lists the archival units of the namespace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "", "Namespace (required)")
	cmd.Flags().StringVarP(&opts.auid, "auid", "u", "", "Archival unit identifier")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Restrict to URIs with this prefix")
	cmd.Flags().BoolVar(&opts.allVersions, "all-versions", false, "List every committed version, not just the latest")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON lines")

	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

func (a *App) runList(cmd *cobra.Command, opts *listOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	repo, err := a.openRepository(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer repo.Shutdown(cmd.Context())

	ctx := cmd.Context()

	if opts.auid == "" {
		auids, err := repo.AuIDs(ctx, opts.namespace)
		if err != nil {
			return err
		}
		for _, auid := range auids {
			fmt.Fprintln(a.stdout, auid)
		}
		return nil
	}

	var artifacts func(func(artifact.Artifact, error) bool)
	switch {
	case opts.prefix != "" && opts.allVersions:
		artifacts = repo.GetArtifactsWithPrefixAllVersions(ctx, opts.namespace, opts.auid, opts.prefix)
	case opts.prefix != "":
		artifacts = repo.GetArtifactsWithPrefix(ctx, opts.namespace, opts.auid, opts.prefix)
	case opts.allVersions:
		artifacts = repo.GetArtifactsAllVersions(ctx, opts.namespace, opts.auid)
	default:
		artifacts = repo.GetArtifacts(ctx, opts.namespace, opts.auid)
	}

	for art, err := range artifacts {
		if err != nil {
			return err
		}
		if opts.jsonOutput {
			line, err := json.Marshal(art)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, string(line))
			continue
		}
		collected := time.UnixMilli(art.CollectionDate).UTC().Format(time.RFC3339)
		fmt.Fprintf(a.stdout, "%s v%d %s %d bytes %s\n", art.URI, art.Version, art.UUID, art.ContentLength, collected)
	}
	return nil
}
