// Package pipeline runs a stored fit: it loads a scene, optionally warm
// starts from an earlier fit, fits the model to all exposures and saves the
// record, trace and previews in a store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/evaluator"
	"github.com/cwbudde/multifit/internal/fit"
	"github.com/cwbudde/multifit/internal/opt"
	"github.com/cwbudde/multifit/internal/preview"
	"github.com/cwbudde/multifit/internal/scene"
	"github.com/cwbudde/multifit/internal/store"
)

// ErrNoScene is returned for a request without a scene path.
var ErrNoScene = errors.New("scene path is required")

// Request describes one fit.
type Request struct {
	// ID names the stored fit. A new one is generated when empty.
	ID        string
	ScenePath string
	Config    config.Config
	// Numeric selects finite-difference gradients.
	Numeric bool
	// From is the ID of a stored fit whose parameters start this one.
	From string

	Preview      bool
	PreviewScale int
	TraceParams  bool
}

// Outcome is a finished fit.
type Outcome struct {
	Record  *store.Record
	Elapsed time.Duration
	// Previews are the preview files written, if any.
	Previews []string
}

// Run executes req and saves the result in st. onIteration, if set, sees
// every minimizer iteration after the trace has recorded it. Cancelling ctx
// stops the minimizer; nothing is saved then, but the partial trace stays.
func Run(ctx context.Context, st *store.FSStore, req Request, onIteration func(opt.Iteration)) (*Outcome, error) {
	if req.ScenePath == "" {
		return nil, ErrNoScene
	}
	s, err := scene.Load(req.ScenePath)
	if err != nil {
		return nil, err
	}
	slog.Info("Loaded scene", "path", req.ScenePath, "kind", s.Model.Kind(), "exposures", len(s.Exposures))

	if req.From != "" {
		if err := warmStart(st, s, req.From); err != nil {
			return nil, err
		}
	}

	errs := s.Errors
	if len(errs) == 0 {
		errs = scene.DefaultErrors(s.Model)
	}

	ev, err := evaluator.New(s.Model, evaluator.WithNMinPix(req.Config.NMinPix))
	if err != nil {
		return nil, err
	}
	if err := ev.SetExposureList(s.Exposures); err != nil {
		return nil, fmt.Errorf("failed to bind exposures: %w", err)
	}

	id := req.ID
	if id == "" {
		id = store.NewID()
	}
	trace, err := store.NewTraceWriter(st.BaseDir(), id, req.TraceParams)
	if err != nil {
		return nil, err
	}
	defer trace.Close()

	record := trace.Record
	if onIteration != nil {
		record = func(it opt.Iteration) {
			trace.Record(it)
			onIteration(it)
		}
	}
	opts := []fit.Option{fit.WithIterationCallback(record), fit.WithContext(ctx)}
	var fitter fit.Fitter
	if req.Numeric {
		fitter = fit.NewNumericFitter(req.Config, opts...)
	} else {
		fitter = fit.NewAnalyticFitter(req.Config, opts...)
	}

	start := time.Now()
	result, err := fitter.Apply(ev, errs)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Elapsed: time.Since(start)}
	if err := trace.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "id", id, "error", err)
	}

	out.Record = store.NewRecord(id, req.ScenePath, req.Config, req.Numeric, result, len(ev.Frames()), ev.NPixels())
	if err := st.SaveRecord(id, out.Record); err != nil {
		return nil, err
	}
	if req.Preview {
		out.Previews, err = preview.WriteFrames(st.Dir(id), ev, req.PreviewScale)
		if err != nil {
			slog.Warn("Failed to write previews", "id", id, "error", err)
		}
	}

	slog.Info("Fit stored", "id", id, "elapsed", out.Elapsed.String(), "value", result.Value, "valid", result.Valid)
	return out, nil
}

// warmStart replaces the scene's starting model with the parameters of the
// stored fit from.
func warmStart(st *store.FSStore, s *scene.Scene, from string) error {
	rec, err := st.LoadRecord(from)
	if err != nil {
		return err
	}
	if err := rec.IsCompatible(s.Model); err != nil {
		return fmt.Errorf("cannot start from %s: %w", from, err)
	}
	m, err := rec.Model()
	if err != nil {
		return err
	}
	s.Model = m
	slog.Info("Starting from stored fit", "id", from, "value", rec.Value)
	return nil
}
