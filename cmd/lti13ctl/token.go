package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggoodman/lti13-go/token"
)

var (
	tokenScope   string
	tokenTimeout time.Duration
	tokenRaw     bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Obtain a platform access token",
	Long: `Signs a client assertion with the tool private key and exchanges it at the
platform token endpoint. The platform's JSON response is printed as is.`,
	Example: `  # Default Assignment and Grade Services scopes
  lti13ctl token --client-id abc --token-url https://lms.example/token --private-key tool.pem

  # Print only the access token
  lti13ctl token --scope https://purl.imsglobal.org/spec/lti-ags/scope/score -r`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ClientID == "" || cfg.TokenURL == "" || cfg.PrivateKeyPath == "" {
			return errors.New("client id, token url and private key are required")
		}
		client := token.NewClient(
			token.WithLogger(logger(cmd.ErrOrStderr())),
			token.WithStrictKID(cfg.StrictKID),
			token.WithTimeout(tokenTimeout),
		)
		resp, err := client.GetAccessToken(cmd.Context(), cfg.TokenURL, cfg.PrivateKeyPath, cfg.ClientID, tokenScope)
		if err != nil {
			return err
		}
		if tokenRaw {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resp.AccessToken())
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenScope, "scope", "",
		"Space separated scopes (default: the Assignment and Grade Services scopes)")
	tokenCmd.Flags().DurationVar(&tokenTimeout, "timeout", token.DefaultTimeout, "Token request timeout")
	tokenCmd.Flags().BoolVarP(&tokenRaw, "raw", "r", false, "Print only the access token")
}
