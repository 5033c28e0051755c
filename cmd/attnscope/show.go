package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
	"github.com/23skdu/attnscope/internal/catalog"
	"github.com/23skdu/attnscope/internal/render"
	"github.com/23skdu/attnscope/internal/store"
	"github.com/23skdu/attnscope/internal/viewer"
)

func NewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the last token's attention for one model, group, language, layer and head",
		Args:  cobra.NoArgs,
		RunE:  showHandler,
	}
	cmd.Flags().String("model", "", "Model id (default from config)")
	cmd.Flags().String("group", "", "Prompt group (default from config)")
	cmd.Flags().String("language", "", "primary, secondary or code-mixed (default from config)")
	cmd.Flags().Int("layer", -1, "Layer index (default from config)")
	cmd.Flags().Int("head", -1, "Head index (default from config)")
	cmd.Flags().Bool("matrix", false, "Also print the token-bounded attention matrix")
	cmd.Flags().Bool("color", false, "Force ANSI shading even when stdout is not a terminal")
	return cmd
}

func showHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	d := cfg.Defaults
	str := func(name, def string) string {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			return v
		}
		return def
	}
	num := func(name string, def int) int {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetInt(name)
			return v
		}
		return def
	}

	lang, err := attention.ParseLanguage(str("language", d.Language))
	if err != nil {
		return fmt.Errorf("%w (choose one of primary, secondary, code-mixed)", err)
	}
	sel := attention.Selection{
		Model:    str("model", d.Model),
		Group:    str("group", d.Group),
		Language: lang,
		Layer:    num("layer", d.Layer),
		Head:     num("head", d.Head),
	}

	src, closer, err := openSource(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	fonts := fontResolver(cfg)
	svc := viewer.New(store.NewCache(store.NewLoader(src, cfg.ArtifactFormat())), fonts)
	view, err := svc.Show(cmd.Context(), sel)
	if err != nil {
		return correction(err, sel, src.String())
	}

	w := cmd.OutOrStdout()
	force, _ := cmd.Flags().GetBool("color")
	matrix, _ := cmd.Flags().GetBool("matrix")
	printView(w, view, force || isTerminal(w), matrix)
	if lang == attention.Secondary && !fonts.Available() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: Devanagari font not found; secondary-language tokens may not display correctly")
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// correction turns an extraction error into a message telling the user what
// to pick instead.
func correction(err error, sel attention.Selection, src string) error {
	var ae *attention.Error
	if !errors.As(err, &ae) {
		return err
	}
	switch ae.Kind {
	case attention.KindArtifactNotFound:
		if !artifact.ValidModel(sel.Model) {
			return fmt.Errorf("%w: not a model id; choose one of %s", err, strings.Join(catalog.ModelIDs(), ", "))
		}
		return fmt.Errorf("%w: expected %s and %s in %s", err,
			artifact.AttentionName(sel.Model, artifact.FormatArrow),
			artifact.OutputName(sel.Model, artifact.FormatArrow), src)
	case attention.KindGroupNotFound:
		choices := ae.Choices
		if len(choices) == 0 {
			choices = catalog.GroupNames()
		}
		return fmt.Errorf("%w: select another prompt group (%s)", err, strings.Join(choices, ", "))
	case attention.KindLanguageNotFound:
		return fmt.Errorf("%w: group %s has data for %s; select one of those", err, sel.Group, strings.Join(ae.Choices, ", "))
	case attention.KindIndexOutOfRange:
		return fmt.Errorf("%w: choose a %s between 0 and %d", err, ae.Axis, ae.Bound-1)
	}
	return err
}

func printView(w io.Writer, v *viewer.View, color, matrix bool) {
	fmt.Fprintf(w, "%s\n\n", v.Selection)
	fmt.Fprintf(w, "Prompt:   %s\n", v.Prompt)
	fmt.Fprintf(w, "Response: %s\n\n", v.Response)

	if color {
		var b strings.Builder
		for _, c := range v.Strip {
			b.WriteString(c.Color.ANSI())
			b.WriteString("\x1b[30m ")
			b.WriteString(c.Token)
			b.WriteString(" ")
			b.WriteString(render.ANSIReset)
			b.WriteString(" ")
		}
		fmt.Fprintf(w, "%s\n\n", b.String())
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "TOKEN", "ATTENTION", "COLOR"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for i, c := range v.Strip {
		table.Append([]string{strconv.Itoa(i), c.Token, strconv.FormatFloat(c.Weight, 'f', 4, 64), c.Color.Hex()})
	}
	table.Render()
	if v.Degenerate {
		fmt.Fprintln(w, "\nnote: the last token's row sums to zero; weights are shown unnormalized")
	}

	if matrix {
		fmt.Fprintln(w)
		mt := tablewriter.NewWriter(w)
		mt.SetHeader(append([]string{""}, v.Tokens...))
		mt.SetBorder(false)
		mt.SetAutoWrapText(false)
		mt.SetAutoFormatHeaders(false)
		for i, row := range v.Matrix {
			cells := make([]string, 0, len(row)+1)
			cells = append(cells, v.Tokens[i])
			for j, x := range row {
				cell := strconv.FormatFloat(x, 'f', 2, 64)
				if color {
					cell = v.Heatmap[i][j].ANSI() + "\x1b[30m" + cell + render.ANSIReset
				}
				cells = append(cells, cell)
			}
			mt.Append(cells)
		}
		mt.Render()
	}

	fmt.Fprintln(w, "\nKey observations:")
	for _, o := range v.Observations {
		fmt.Fprintf(w, "  • %s\n", o)
	}
}
