package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/opensearch-project/mlagent"
	"github.com/opensearch-project/mlagent/connector"
	"github.com/opensearch-project/mlagent/core"
	"github.com/opensearch-project/mlagent/engine"
)

type executeOptions struct {
	input      string
	params     []string
	connectors string
	templates  string
	tenant     string
}

func newExecuteCmd(ro *rootOptions) *cobra.Command {
	eo := &executeOptions{}
	cmd := &cobra.Command{
		Use:   "execute <agent.yaml>",
		Short: "Execute an agent definition in-process and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, ro, eo, args[0])
		},
	}
	cmd.Flags().StringVarP(&eo.input, "input", "i", "", "user input of the run")
	cmd.Flags().StringArrayVarP(&eo.params, "param", "p", nil, "request parameter key=value (repeatable)")
	cmd.Flags().StringVar(&eo.connectors, "connectors", "", "YAML list of connectors")
	cmd.Flags().StringVar(&eo.templates, "templates", "", "YAML list of context management templates to install first")
	cmd.Flags().StringVar(&eo.tenant, "tenant", "", "tenant id of the run")
	return cmd
}

func runExecute(cmd *cobra.Command, ro *rootOptions, eo *executeOptions, path string) error {
	def, err := readAgentFile(path)
	if err != nil {
		return err
	}
	params, err := parseParams(eo.params)
	if err != nil {
		return err
	}
	var conns []*connector.Connector
	if eo.connectors != "" {
		if conns, err = connector.LoadFile(eo.connectors); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	m, err := ro.openMesh(ctx, cmd, func(o *mlagent.Options) { o.Connectors = conns })
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	if err := installTemplates(ctx, m.Registry, eo.templates); err != nil {
		return err
	}

	input := eo.input
	if input == "" {
		input = params[core.ParamQuestion]
	}
	def.TenantID = eo.tenant
	res, err := m.Execute(ctx, &engine.Request{
		Agent:      def,
		Input:      input,
		Parameters: params,
		TenantID:   eo.tenant,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
