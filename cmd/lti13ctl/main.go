// Command lti13ctl is an operator tool for an LTI 1.3 tool registration: it
// obtains platform access tokens and prints the tool's public key set.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ggoodman/lti13-go/auth"
)

var (
	logLevel string
	cfg      auth.Config
)

var rootCmd = &cobra.Command{
	Use:   "lti13ctl",
	Short: "Inspect and exercise an LTI 1.3 tool registration",
	Long: `lti13ctl works with the same LTI13_* environment variables as lti13d.
Flags override the environment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env, err := auth.ConfigFromEnv()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("client-id") {
			cfg.ClientID = env.ClientID
		}
		if !flags.Changed("token-url") {
			cfg.TokenURL = env.TokenURL
		}
		if !flags.Changed("private-key") {
			cfg.PrivateKeyPath = env.PrivateKeyPath
		}
		cfg.StrictKID = cfg.StrictKID || env.StrictKID
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVar(&cfg.ClientID, "client-id", "", "Tool client id (LTI13_CLIENT_ID)")
	pf.StringVar(&cfg.TokenURL, "token-url", "", "Platform token endpoint (LTI13_TOKEN_URL)")
	pf.StringVar(&cfg.PrivateKeyPath, "private-key", "", "Tool private key PEM file (LTI13_PRIVATE_KEY)")
	pf.BoolVar(&cfg.StrictKID, "strict-kid", false, "Fail when no kid can be derived from the key (LTI13_STRICT_KID)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger(w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
