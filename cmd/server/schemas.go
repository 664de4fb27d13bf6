package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"recordhub/internal/schema"
)

func newSchemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Work with schema files",
	}
	cmd.AddCommand(newSchemasLintCmd())
	return cmd
}

func newSchemasLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint [dir]",
		Short: "Check schema YAML files without starting the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "schemas"
			if len(args) == 1 {
				dir = args[0]
			}
			return runLint(cmd, dir)
		},
	}
}

func runLint(cmd *cobra.Command, dir string) error {
	list, err := schema.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("loading schemas: %w", err)
	}

	out := cmd.OutOrStdout()
	bad := 0
	seen := map[string]bool{}
	for _, raw := range list {
		s := raw.Normalized()
		issues := schema.Lint(&s)
		key := s.EntityType
		if seen[key] {
			fmt.Fprintf(out, "%s: duplicate entity type\n", s.EntityType)
			bad++
		}
		seen[key] = true
		for _, fe := range issues {
			fmt.Fprintf(out, "%s: %s [%s] %s\n", s.EntityType, fe.Field, fe.Code, fe.Message)
		}
		if len(issues) > 0 {
			bad++
		}
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d schemas have problems", bad, len(list))
	}
	fmt.Fprintf(out, "%d schemas OK\n", len(list))
	return nil
}
