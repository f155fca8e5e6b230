package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pharmachat/tools"
)

type schemaOptions struct {
	Labels  int
	Samples int
}

func NewSchemaCmd(rt *cliState) *cobra.Command {
	options := schemaOptions{}
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the graph's labels, relationship types and sample nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Neo4j.URI == "" {
				return errors.New("neo4j is not configured: set NEO4J_URI or neo4j.uri")
			}
			ctx := cmd.Context()
			runner, err := tools.NewNeo4jRunner(ctx, rt.cfg.Neo4j, rt.logger)
			if err != nil {
				return err
			}
			defer runner.Close(ctx)

			report, err := tools.ProbeSchema(ctx, runner, options.Labels, options.Samples)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.String())
			return nil
		},
	}

	cmd.Flags().IntVar(&options.Labels, "labels", 5, "number of labels to sample")
	cmd.Flags().IntVar(&options.Samples, "samples", 3, "sample nodes per label")

	return cmd
}
