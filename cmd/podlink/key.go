package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podlink/podlink/envelope"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Token encryption key utilities",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new token encryption key",
	Long: `Generates a fresh 256-bit key and prints it as 64 hex characters,
suitable for SOLID_TOKEN_ENCRYPTION_KEY.  Rotating the key makes
existing stored token envelopes undecryptable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := envelope.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyGenerateCmd)
	rootCmd.AddCommand(keyCmd)
}
