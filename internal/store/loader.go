package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/attention"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/metrics"
)

// Loader fetches and decodes the attention and output artifacts of a model.
type Loader struct {
	Source Source
	Format artifact.Format
}

func NewLoader(src Source, f artifact.Format) *Loader {
	return &Loader{Source: src, Format: f}
}

// Load returns found=false with empty stores and a nil error when either
// artifact is missing. Any other failure is returned as an error.
func (l *Loader) Load(ctx context.Context, model string) (*attention.Store, *attention.OutputStore, bool, error) {
	start := time.Now()
	log := logger.Log.With("store")

	var (
		store   *attention.Store
		outputs *attention.OutputStore
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		store, err = fetch(gctx, l, model, artifact.AttentionName, artifact.DecodeAttention)
		return err
	})
	g.Go(func() error {
		var err error
		outputs, err = fetch(gctx, l, model, artifact.OutputName, artifact.DecodeOutputs)
		return err
	})
	err := g.Wait()

	switch {
	case err == nil:
		metrics.RecordLoad(model, "ok", time.Since(start))
		log.Info("Artifacts loaded", "model", model, "groups", store.Len(), "responses", outputs.Len(), "elapsed", time.Since(start))
		return store, outputs, true, nil
	case errors.Is(err, ErrArtifactNotFound):
		metrics.RecordLoad(model, "not_found", time.Since(start))
		log.Warn("Artifacts missing", "model", model, "error", err)
		return attention.NewStore(), attention.NewOutputStore(), false, nil
	default:
		metrics.RecordLoad(model, "error", time.Since(start))
		log.Error("Artifact load failed", "model", model, "error", err)
		return attention.NewStore(), attention.NewOutputStore(), false, err
	}
}

// fetch tries each candidate format in order and decodes the first artifact
// that exists.
func fetch[T any](ctx context.Context, l *Loader, model string, name func(string, artifact.Format) string, decode func(artifact.Format, io.Reader) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, f := range l.Format.Candidates() {
		n := name(model, f)
		rc, err := l.Source.Open(ctx, n)
		if err != nil {
			if errors.Is(err, ErrArtifactNotFound) {
				lastErr = err
				continue
			}
			return zero, err
		}
		v, err := decode(f, rc)
		rc.Close()
		if err != nil {
			return zero, fmt.Errorf("decode %s: %w", n, err)
		}
		return v, nil
	}
	return zero, lastErr
}
