package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
	"github.com/23skdu/attnscope/internal/catalog"
	"github.com/23skdu/attnscope/internal/config"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/viewer"
)

// Viewer is satisfied by *viewer.Service.
type Viewer interface {
	Show(ctx context.Context, sel attention.Selection) (*viewer.View, error)
}

// LoadedModels is satisfied by *store.Cache.
type LoadedModels interface {
	Models() []string
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Axis  string `json:"axis,omitempty"`
	Index *int   `json:"index,omitempty"`
	Bound *int   `json:"bound,omitempty"`
	// Valid lists accepted values when the request named an unknown one.
	Valid []string `json:"valid,omitempty"`
}

type ModelsResponse struct {
	Models    []catalog.Model      `json:"models"`
	Groups    []catalog.Group      `json:"groups"`
	Languages []attention.Language `json:"languages"`
	Loaded    []string             `json:"loaded"`
	Defaults  config.Defaults      `json:"defaults"`
	FontReady bool                 `json:"font_available"`
}

// writeJSON encodes v before committing the status so a value JSON cannot
// represent (NaN or Inf weights) becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Log.Error("Failed to encode response", "error", err)
		buf.Reset()
		json.NewEncoder(&buf).Encode(ErrorResponse{Error: "encode response: " + err.Error()})
		code = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func ModelsHandler(loaded LoadedModels, defaults config.Defaults, fontReady bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
			return
		}
		resp := ModelsResponse{
			Models:    catalog.Models,
			Groups:    catalog.Groups,
			Languages: attention.Languages,
			Loaded:    []string{},
			Defaults:  defaults,
			FontReady: fontReady,
		}
		if loaded != nil {
			resp.Loaded = loaded.Models()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ExtractHandler serves /api/extract. Omitted parameters fall back to
// defaults.
func ExtractHandler(v Viewer, defaults config.Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
			return
		}

		sel, err := parseSelection(r, defaults)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, *err)
			return
		}

		view, verr := v.Show(r.Context(), sel)
		if verr != nil {
			code, body := errorResponse(verr)
			if code == http.StatusInternalServerError {
				logger.Log.Error("Extraction failed", "selection", sel, "error", verr)
			}
			writeJSON(w, code, body)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func parseSelection(r *http.Request, d config.Defaults) (attention.Selection, *ErrorResponse) {
	q := r.URL.Query()
	get := func(key, def string) string {
		if v := q.Get(key); v != "" {
			return v
		}
		return def
	}

	sel := attention.Selection{
		Model: get("model", d.Model),
		Group: get("group", d.Group),
	}
	if !artifact.ValidModel(sel.Model) {
		return sel, &ErrorResponse{Error: fmt.Sprintf("invalid model %q", sel.Model), Valid: catalog.ModelIDs()}
	}

	lang, err := attention.ParseLanguage(get("language", d.Language))
	if err != nil {
		valid := make([]string, len(attention.Languages))
		for i, l := range attention.Languages {
			valid[i] = l.String()
		}
		return sel, &ErrorResponse{Error: err.Error(), Valid: valid}
	}
	sel.Language = lang

	for _, p := range []struct {
		key string
		def int
		dst *int
	}{
		{"layer", d.Layer, &sel.Layer},
		{"head", d.Head, &sel.Head},
	} {
		raw := q.Get(p.key)
		if raw == "" {
			*p.dst = p.def
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return sel, &ErrorResponse{Error: fmt.Sprintf("invalid %s %q: must be an integer", p.key, raw)}
		}
		*p.dst = n
	}
	return sel, nil
}

// errorResponse maps extraction errors to status codes: missing data is 404,
// a selection the data cannot satisfy is 422.
func errorResponse(err error) (int, ErrorResponse) {
	var ae *attention.Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
	}
	body := ErrorResponse{Error: ae.Error(), Kind: ae.Kind.String()}
	switch ae.Kind {
	case attention.KindArtifactNotFound:
		body.Valid = catalog.ModelIDs()
		return http.StatusNotFound, body
	case attention.KindGroupNotFound, attention.KindLanguageNotFound:
		body.Valid = ae.Choices
		return http.StatusNotFound, body
	case attention.KindIndexOutOfRange:
		index, bound := ae.Index, ae.Bound
		body.Axis, body.Index, body.Bound = ae.Axis, &index, &bound
		return http.StatusUnprocessableEntity, body
	case attention.KindShapeMismatch:
		return http.StatusUnprocessableEntity, body
	}
	return http.StatusInternalServerError, body
}
