package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/scenario"
)

type listedScenario struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
}

func newListCmd(stdout io.Writer, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the scenario catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var listed []listedScenario
			for _, s := range scenario.All() {
				if !scenario.Matches(s.Name, cfg.Scenarios) {
					continue
				}
				listed = append(listed, listedScenario{
					Name:        s.Name,
					Kind:        string(s.Kind),
					Tags:        s.Tags,
					Description: s.Description,
				})
			}

			if cfg.JSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(listed)
			}

			w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			for _, s := range listed {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Kind, strings.Join(s.Tags, ","), s.Description)
			}
			return w.Flush()
		},
	}
}
