package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/animus-run/animus/internal/config"
)

func buildFacultyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faculty",
		Short: "Inspect configured faculties",
	}
	cmd.AddCommand(buildFacultyListCmd())
	return cmd
}

func buildFacultyListCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List faculties loaded from the faculties directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				dir = cfg.FacultiesDir
			}

			faculties, warnings, err := config.LoadFaculties(dir)
			if err != nil {
				return fmt.Errorf("loading faculties from %s: %w", dir, err)
			}
			for _, w := range warnings {
				fmt.Printf("warning: %s\n", w)
			}
			for name, fc := range faculties {
				concurrency := "serial"
				if fc.Concurrent {
					concurrency = fmt.Sprintf("concurrent(limit=%d)", fc.ConcurrentLimit)
				}
				fmt.Printf("%s\tmode=%s\tmodel=%s\t%s\n", name, fc.Engage.Mode, fc.Engage.Model, concurrency)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Faculties directory (defaults to config's faculties_dir)")
	return cmd
}
