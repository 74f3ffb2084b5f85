package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newInfoCmd creates the info command.
func (a *App) newInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show repository and storage summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			repo, err := a.openRepository(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer repo.Shutdown(cmd.Context())

			info, err := repo.RepositoryInfo(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, string(out))
				return nil
			}

			fmt.Fprintf(a.stdout, "Store:      %s (%s)\n", info.Store.Name, info.Store.Type)
			fmt.Fprintf(a.stdout, "Capacity:   %d KB total, %d KB used, %d KB available\n",
				info.Store.SizeKB, info.Store.UsedKB, info.Store.AvailKB)
			fmt.Fprintf(a.stdout, "Namespaces: %d\n", len(info.Namespaces))
			for _, ns := range info.Namespaces {
				fmt.Fprintf(a.stdout, "  %s\n", ns)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
