package bench

import (
	"fmt"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Phase is a step in one strategy's benchmark.
type Phase int

// Phases in order. Each strategy run moves strictly forward through them.
const (
	PhaseInit Phase = iota
	PhaseIngested
	PhaseQuerying
	PhaseScoring
	PhaseReported
)

var phaseNames = [...]string{"INIT", "INGESTED", "QUERYING", "SCORING", "REPORTED"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// machine tracks the phase of a single strategy run.
type machine struct {
	phase Phase
}

// advance moves to the next phase. Skipping or going back is an error.
func (m *machine) advance(to Phase) error {
	if to != m.phase+1 {
		return errors.InternalError(fmt.Sprintf("illegal phase transition %s -> %s", m.phase, to), nil)
	}
	m.phase = to
	return nil
}
