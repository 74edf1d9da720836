package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd(ro *rootOptions) *cobra.Command {
	var templates string
	cmd := &cobra.Command{
		Use:   "validate <agent.yaml>",
		Short: "Validate an agent definition with the registration rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := readAgentFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			m, err := ro.openMesh(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close(context.Background()) }()

			if err := installTemplates(ctx, m.Registry, templates); err != nil {
				return err
			}
			if err := m.Registry.ValidateAgent(ctx, def); err != nil {
				return fmt.Errorf("agent %s is invalid: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "agent %q (%s) is valid\n", def.Name, def.Type)
			return nil
		},
	}
	cmd.Flags().StringVar(&templates, "templates", "", "YAML list of context management templates to install first")
	return cmd
}
