// Package viewer answers a selection with everything needed to display it.
package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
	"github.com/23skdu/attnscope/internal/catalog"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/metrics"
	"github.com/23skdu/attnscope/internal/render"
	"github.com/23skdu/attnscope/internal/store"
)

// View is a Result plus presentation data.
type View struct {
	*attention.Result
	Strip        []render.Cell    `json:"strip"`
	StripWidth   float64          `json:"strip_width"`
	Heatmap      [][]render.Color `json:"heatmap"`
	Font         *render.Font     `json:"font,omitempty"`
	Observations []string         `json:"observations"`
}

type Service struct {
	loader   store.ModelLoader
	fonts    *render.FontResolver
	colormap *render.Colormap
}

func New(loader store.ModelLoader, fonts *render.FontResolver) *Service {
	if fonts == nil {
		fonts = render.NewFontResolver(nil)
	}
	return &Service{loader: loader, fonts: fonts, colormap: render.AttentionColormap()}
}

func (s *Service) Fonts() *render.FontResolver { return s.fonts }

// Show loads the model's artifacts and extracts sel. The model id and, for
// catalog models, layer and head are checked before any artifact is read.
func (s *Service) Show(ctx context.Context, sel attention.Selection) (*View, error) {
	if !artifact.ValidModel(sel.Model) {
		metrics.RecordExtraction(sel.Model, attention.KindArtifactNotFound.String(), 0, false, 0)
		return nil, &attention.Error{Kind: attention.KindArtifactNotFound, Detail: sel.Model}
	}
	if m, ok := catalog.LookupModel(sel.Model); ok {
		if err := m.Check(sel.Layer, sel.Head); err != nil {
			metrics.RecordExtraction(sel.Model, attention.KindOf(err).String(), 0, false, 0)
			return nil, err
		}
	}

	st, outputs, found, err := s.loader.Load(ctx, sel.Model)
	if err != nil {
		metrics.RecordExtraction(sel.Model, "error", 0, false, 0)
		return nil, fmt.Errorf("load %s: %w", sel.Model, err)
	}
	if !found {
		metrics.RecordExtraction(sel.Model, attention.KindArtifactNotFound.String(), 0, false, 0)
		return nil, &attention.Error{Kind: attention.KindArtifactNotFound, Detail: sel.Model}
	}

	start := time.Now()
	res, err := attention.Extract(st, outputs, sel)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordExtraction(sel.Model, attention.KindOf(err).String(), 0, false, elapsed)
		logger.Log.Debug("Extraction rejected", "selection", sel, "error", err)
		return nil, err
	}
	metrics.RecordExtraction(sel.Model, "ok", len(res.Tokens), res.Degenerate, elapsed)
	if res.Degenerate {
		logger.Log.Debug("Last-token row sums to zero, passed through", "selection", sel, "raw_sum", res.RawRowSum)
	}

	strip, width := render.TokenStrip(res.Tokens, res.PerToken)
	return &View{
		Result:       res,
		Strip:        strip,
		StripWidth:   width,
		Heatmap:      s.colormap.Heatmap(res.Matrix),
		Font:         s.fonts.ForLanguage(sel.Language),
		Observations: catalog.Observations(sel.Model, sel.Group),
	}, nil
}
