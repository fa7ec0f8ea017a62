package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxflow-ai/voxflow/pkg/catalog"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Check a node catalog for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(args[0])
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			if err := cat.Validate(); err != nil {
				return fmt.Errorf("catalog invalid: %w", err)
			}
			fmt.Printf("Catalog OK: %d nodes, greeting node %s\n", len(cat.Nodes), cat.GreetingNode)
			return nil
		},
	}
}
