package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/session"
)

var schemaSettings bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the client handshake",
	RunE: func(cmd *cobra.Command, args []string) error {
		generate := session.Schema
		if schemaSettings {
			generate = config.Schema
		}
		out, err := generate()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().BoolVar(&schemaSettings, "settings", false, "Print the settings file schema instead")
}
