package cli

import (
	"github.com/spf13/cobra"
)

// newReindexCmd creates the reindex command.
func (a *App) newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the artifact index from the data store",
		Long: `Rebuild the index by walking every volume of the data store, even if
the index is non-empty. Use after index loss or corruption; the data
store is the source of truth.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			repo, err := a.openRepository(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer repo.Shutdown(cmd.Context())

			namespaces, err := repo.Namespaces(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("reindexed %d namespace(s)\n", len(namespaces))
			return nil
		},
	}
}
