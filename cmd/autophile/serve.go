package main

import (
	"github.com/spf13/cobra"

	"github.com/markdave123-py/autophile/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and ingestion workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, logger, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return app.Serve(cmd.Context(), a, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
