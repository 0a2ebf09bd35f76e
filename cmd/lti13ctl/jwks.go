package main

import (
	"errors"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/ggoodman/lti13-go/assertion"
	"github.com/ggoodman/lti13-go/auth"
	"github.com/ggoodman/lti13-go/keys"
)

var jwksCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Print the tool's public key set",
	Long: `Prints the JWK set to register with the platform. The kid is the one used in
client assertions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.PrivateKeyPath == "" {
			return errors.New("private key is required")
		}
		var set jose.JSONWebKeySet
		err := keys.With(cmd.Context(), keys.DiskProvider{}, cfg.PrivateKeyPath, func(keyText string) error {
			var err error
			set, err = assertion.PublicJWKS(keyText)
			return err
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), set)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of a launch result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd.OutOrStdout(), auth.ResultSchema())
	},
}

func init() {
	rootCmd.AddCommand(jwksCmd, schemaCmd)
}
