package main

import (
	"github.com/spf13/cobra"

	"github.com/thecyberginehost/moonforge/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the storage schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.OpenStore(cmd.Context(), cfg.Storage, log.Logger)
		if err != nil {
			return err
		}
		log.Info("Migrations applied")
		return st.Close()
	},
}
