package bench

import (
	"fmt"

	"github.com/ricesearch/rice-bench/internal/dataset"
	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Mode selects how a run is scored.
type Mode string

// Scoring modes.
const (
	// ModeQA scores exact passage matches: recall@k.
	ModeQA Mode = "qa"
	// ModeIR scores graded judgments: NDCG, MAP, Recall and P at k.
	ModeIR Mode = "ir"
)

// Suite is a fixed, ordered query set with its ground truth.
type Suite struct {
	Mode    Mode
	Dataset string
	Queries []dataset.Query

	// Answers maps query ID to the passage text that answers it (QA).
	Answers map[string]string

	// Qrels holds graded judgments (IR).
	Qrels evaluation.Qrels
}

// QASuite builds a recall suite from question answering pairs.
func QASuite(set *dataset.QASet) *Suite {
	return &Suite{
		Mode:    ModeQA,
		Dataset: set.Name,
		Queries: set.Queries(),
		Answers: set.GroundTruth(),
	}
}

// IRSuite builds a relevance suite from a BEIR split.
func IRSuite(b *dataset.BEIR) *Suite {
	return &Suite{
		Mode:    ModeIR,
		Dataset: b.Name,
		Queries: b.Queries,
		Qrels:   b.Qrels,
	}
}

// Validate checks the suite can be scored.
func (s *Suite) Validate() error {
	if s == nil {
		return errors.ValidationError("suite is required")
	}
	switch s.Mode {
	case ModeQA, ModeIR:
	default:
		return errors.ValidationError("unknown scoring mode: " + string(s.Mode))
	}
	for i, q := range s.Queries {
		if q.ID == "" {
			return errors.ValidationError(fmt.Sprintf("query at position %d has no id", i))
		}
	}
	return nil
}
