package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/config"
	"github.com/animus-run/animus/internal/store"
	"github.com/animus-run/animus/pkg/model"
)

func buildWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Submit and inspect work items",
	}
	cmd.AddCommand(buildWorkSubmitCmd(), buildWorkListCmd(), buildWorkShowCmd())
	return cmd
}

func buildWorkSubmitCmd() *cobra.Command {
	var (
		skill      string
		dedupKey   string
		trigger    string
		paramsJSON string
		priority   int
	)
	cmd := &cobra.Command{
		Use:   "submit <faculty> <source>",
		Short: "Submit a new work item to a faculty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			faculty, source := args[0], args[1]

			var params map[string]any
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("parsing --params: %w", err)
				}
			}

			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			faculties, _, err := config.LoadFaculties(a.cfg.FacultiesDir)
			if err != nil {
				return fmt.Errorf("loading faculties: %w", err)
			}
			if err := validateFaculty(faculties, faculty); err != nil {
				return err
			}

			item := &model.WorkItem{
				Faculty:  faculty,
				Skill:    skill,
				Params:   params,
				DedupKey: dedupKey,
				Priority: priority,
				Provenance: model.Provenance{
					Source:  source,
					Trigger: trigger,
				},
			}

			result, err := a.store.Submit(cmd.Context(), item)
			if animuserr.IsConflict(err) {
				// Lost a dedup race; the retry observes the winner and merges.
				result, err = a.store.Submit(cmd.Context(), item)
			}
			if err != nil {
				return fmt.Errorf("submitting work item: %w", err)
			}

			switch result.Outcome {
			case store.SubmitMerged:
				fmt.Printf("merged into existing work item %s\n", result.CanonicalID)
			default:
				fmt.Printf("submitted work item %s (state=%s)\n", result.Item.ID, result.Item.State)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&skill, "skill", "", "Skill to pre-activate")
	cmd.Flags().StringVar(&dedupKey, "dedup-key", "", "Dedup key within the faculty")
	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger description recorded in provenance")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON object of work item parameters")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatch priority, higher claims first")
	return cmd
}

func buildWorkListCmd() *cobra.Command {
	var (
		stateFlag   string
		facultyFlag string
		limit       int
		parentID    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var items []*model.WorkItem
			if parentID != "" {
				items, err = a.store.Children(cmd.Context(), parentID)
			} else {
				filter := store.ListFilter{Faculty: facultyFlag, Limit: limit}
				if stateFlag != "" {
					s := model.State(stateFlag)
					filter.State = &s
				}
				items, err = a.store.ListState(cmd.Context(), filter)
			}
			if err != nil {
				return fmt.Errorf("listing work items: %w", err)
			}
			for _, item := range items {
				fmt.Printf("%s\t%s\t%s\t%s\tattempts=%d\n", item.ID, item.Faculty, item.State, item.Skill, item.Attempts)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by state (queued|claimed|running|completed|failed|dead|merged)")
	cmd.Flags().StringVar(&facultyFlag, "faculty", "", "Filter by faculty")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum items to list")
	cmd.Flags().StringVar(&parentID, "parent", "", "List only children of this work item")
	return cmd
}

func buildWorkShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetching work item: %w", err)
			}

			out, err := json.MarshalIndent(item, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if ledgerText, err := a.ledger.ReadFormatted(cmd.Context(), item.ID); err == nil && ledgerText != "" {
				fmt.Println()
				fmt.Println(ledgerText)
			}
			return nil
		},
	}
	return cmd
}
