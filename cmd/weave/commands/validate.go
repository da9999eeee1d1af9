package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodeweave/nodeweave/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph.cue>...",
		Short: "Validate graph definition files",
		Long: `Validate CUE graph definition files.

This command checks:
  - CUE syntax validity
  - Node and connection schema conformance
  - Port type and literal value consistency
  - Grant declarations against their nodes`,
		Example: `  # Validate a single graph
  weave validate pipeline.cue

  # Validate a graph split across files
  weave validate nodes.cue grants.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := config.NewCUEParser()
			parsed, err := parser.Parse(args...)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := json.MarshalIndent(parsed.Errors, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
			} else {
				for _, ve := range parsed.Errors {
					fmt.Println(ve.String())
				}
			}

			if len(parsed.Errors) > 0 {
				return fmt.Errorf("%d validation error(s)", len(parsed.Errors))
			}

			log.Info().
				Int("nodes", len(parsed.Graph.Nodes)).
				Int("connections", len(parsed.Graph.Connections)).
				Int("grants", len(parsed.Grants)).
				Msg("Graph is valid")
			return nil
		},
	}

	return cmd
}
