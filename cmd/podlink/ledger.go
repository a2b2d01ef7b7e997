package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podlink/podlink/portable"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Activity ledger operations",
}

var (
	ledgerEventType   string
	ledgerInstanceID  string
	ledgerResourceURL string
	ledgerPayload     string
)

var ledgerAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append one event to a user's activity ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(); err != nil {
			return err
		}
		if ledgerEventType == "" {
			return fmt.Errorf("--type is required")
		}
		ev := portable.Event{
			Type:        ledgerEventType,
			InstanceID:  ledgerInstanceID,
			ResourceURL: ledgerResourceURL,
		}
		if ledgerPayload != "" {
			if err := json.Unmarshal([]byte(ledgerPayload), &ev.Payload); err != nil {
				return fmt.Errorf("parsing --payload: %w", err)
			}
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.service.AppendActivityEvent(cmd.Context(), userID, ev); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Appended")
		return nil
	},
}

func init() {
	ledgerAppendCmd.Flags().StringVar(&ledgerEventType, "type", "", "event type, e.g. post.created")
	ledgerAppendCmd.Flags().StringVar(&ledgerInstanceID, "instance", "", "originating application instance")
	ledgerAppendCmd.Flags().StringVar(&ledgerResourceURL, "resource", "", "URL of the resource the event refers to")
	ledgerAppendCmd.Flags().StringVar(&ledgerPayload, "payload", "", "extra event payload as a JSON object")
	ledgerCmd.AddCommand(ledgerAppendCmd)
	rootCmd.AddCommand(ledgerCmd)
}
