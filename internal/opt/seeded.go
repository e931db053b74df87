package opt

import (
	"log/slog"
)

// Seeded runs a global minimizer first and starts a local minimizer from the
// better of the global best and the original starting point.
type Seeded struct {
	Global Minimizer
	Local  Minimizer
}

// Minimize implements Minimizer. Validity and iteration counts are those of
// the local stage; evaluation counts cover both stages.
func (s *Seeded) Minimize(p Problem, x0 []float64, settings Settings) (*Minimum, error) {
	start := x0
	global, err := s.Global.Minimize(p, x0, settings)
	if err != nil {
		return nil, err
	}
	if err := settings.canceled(); err != nil {
		return nil, err
	}
	if f0 := p.Func(x0); global.F < f0 {
		slog.Info("Global search improved starting point", "from", f0, "to", global.F)
		start = global.X
	}

	local, err := s.Local.Minimize(p, start, settings)
	if err != nil {
		return nil, err
	}
	local.FuncEvaluations += global.FuncEvaluations
	local.GradEvaluations += global.GradEvaluations
	return local, nil
}
