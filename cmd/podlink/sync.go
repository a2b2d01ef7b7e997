package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/podlink/podlink/portable"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the portable state from a user's Pod",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		state, err := a.service.PullPortableState(cmd.Context(), userID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

var pushFile string

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a partial portable state to a user's Pod",
	Long: `Reads a partial portable state document (JSON) from --file or stdin
and merges it onto the documents stored on the Pod.  Fields absent from
the input are left unchanged remotely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if pushFile != "" {
			f, err := os.Open(pushFile)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		var partial portable.State
		if err := json.Unmarshal(data, &partial); err != nil {
			return fmt.Errorf("parsing state document: %w", err)
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.service.PushPortableState(cmd.Context(), userID, &partial); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Pushed")
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushFile, "file", "", "read the state document from this file instead of stdin")
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}
