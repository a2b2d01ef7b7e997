package main

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <issuer-or-webid>",
	Short: "Link a Pod to a user account",
	Long: `Starts the authorization flow against the given OIDC issuer or WebID,
prints the authorization URL to open in a browser, and waits for the
code from the provider's redirect to finish the link.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		authURL, err := a.service.StartConnect(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		state := parsed.Query().Get("state")

		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in your browser and authorize access:\n\n  %s\n\n", authURL)
		fmt.Fprint(cmd.OutOrStdout(), "Paste the code from the redirect: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		code, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading code: %w", err)
		}
		code = strings.TrimSpace(code)

		res, err := a.service.FinishConnect(cmd.Context(), userID, state, code)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected %s to %s (issuer %s)\n", userID, res.WebID, res.Issuer)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Remove a user's Pod connection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.service.Disconnect(cmd.Context(), userID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s\n", userID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
}
