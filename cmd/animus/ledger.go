package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-run/animus/pkg/model"
)

func buildLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read and append to a work item's ledger",
	}
	cmd.AddCommand(buildLedgerShowCmd(), buildLedgerAppendCmd())
	return cmd
}

func buildLedgerShowCmd() *cobra.Command {
	var (
		entryType string
		lastN     int
		formatted bool
	)
	cmd := &cobra.Command{
		Use:   "show <work_item_id>",
		Short: "Show a work item's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			workItemID := args[0]

			if formatted {
				text, err := a.ledger.ReadFormatted(cmd.Context(), workItemID)
				if err != nil {
					return fmt.Errorf("reading ledger: %w", err)
				}
				fmt.Println(text)
				return nil
			}

			var typeFilter *model.EntryType
			if entryType != "" {
				t := model.EntryType(entryType)
				if !model.ValidEntryType(t) {
					return fmt.Errorf("invalid entry type %q", entryType)
				}
				typeFilter = &t
			}
			var lastNPtr *int
			if lastN > 0 {
				lastNPtr = &lastN
			}

			entries, err := a.ledger.Read(cmd.Context(), workItemID, typeFilter, lastNPtr)
			if err != nil {
				return fmt.Errorf("reading ledger: %w", err)
			}
			for _, e := range entries {
				fmt.Printf("[%d] %s %s: %s\n", e.Seq, e.CreatedAt.Format("15:04:05"), e.EntryType, e.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entryType, "type", "", "Filter by entry type (plan|finding|decision|step|error|note)")
	cmd.Flags().IntVar(&lastN, "last", 0, "Only show the last N entries")
	cmd.Flags().BoolVar(&formatted, "formatted", false, "Render the six-section formatted view")
	return cmd
}

func buildLedgerAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <work_item_id> <entry_type> <content>",
		Short: "Append one ledger entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			workItemID, entryType, content := args[0], model.EntryType(args[1]), args[2]
			if !model.ValidEntryType(entryType) {
				return fmt.Errorf("invalid entry type %q", args[1])
			}

			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.ledger.Append(cmd.Context(), workItemID, entryType, content)
			if err != nil {
				return fmt.Errorf("appending ledger entry: %w", err)
			}
			fmt.Printf("appended entry seq=%d\n", entry.Seq)
			return nil
		},
	}
	return cmd
}
