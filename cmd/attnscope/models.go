package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/catalog"
	"github.com/23skdu/attnscope/internal/store"
)

func NewModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"ls"},
		Short:   "List models, their bounds and whether artifacts are present",
		Args:    cobra.NoArgs,
		RunE:    modelsHandler,
	}
}

func modelsHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	src, closer, err := openSource(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	var data [][]string
	for _, m := range catalog.Models {
		data = append(data, []string{
			m.ID,
			strconv.Itoa(m.Layers),
			strconv.Itoa(m.Heads),
			presence(cmd, src, m.ID, cfg.ArtifactFormat()),
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "source: %s\n\n", src)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"MODEL", "LAYERS", "HEADS", "ARTIFACTS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

// presence names the format whose attention and output artifacts both
// exist, or "missing".
func presence(cmd *cobra.Command, src store.Source, model string, f artifact.Format) string {
	for _, c := range f.Candidates() {
		ok := true
		for _, name := range []string{artifact.AttentionName(model, c), artifact.OutputName(model, c)} {
			rc, err := src.Open(cmd.Context(), name)
			if err != nil {
				ok = false
				break
			}
			rc.Close()
		}
		if ok {
			return string(c)
		}
	}
	return "missing"
}
