// Package rubric resolves the evaluation rubric a job is graded against.
package rubric

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinsim/osce-grader/internal/objectstore"
	"github.com/clinsim/osce-grader/internal/types"
)

// Rubric is the structured evaluation rubric for one case: the checklist
// per section plus the expected phase order hint for this case type.
type Rubric struct {
	CaseID     string                                    `json:"case_id"`
	Sections   map[types.SectionID][]types.ChecklistItem `json:"sections"`
	PhaseOrder []types.Phase                             `json:"phase_order,omitempty"`
}

// EffectivePhaseOrder returns the expected phase order, defaulting to the
// common history -> exam -> education progression when the case does not
// override it.
func (r *Rubric) EffectivePhaseOrder() []types.Phase {
	if len(r.PhaseOrder) > 0 {
		return r.PhaseOrder
	}
	return []types.Phase{types.PhaseHistory, types.PhaseExam, types.PhaseEducation}
}

// Items returns the checklist for a section; missing sections yield nil.
func (r *Rubric) Items(section types.SectionID) []types.ChecklistItem {
	return r.Sections[section]
}

// Lookup resolves a rubric for a job, either from the snapshot embedded in
// the job's rubric reference or by case id.
type Lookup interface {
	Resolve(ctx context.Context, job *types.Job) (*Rubric, error)
}

// BlobLookup resolves rubric snapshots stored as JSON objects in object
// storage, falling back to a case-id keyed path when the job carries no
// explicit reference.
type BlobLookup struct {
	store objectstore.Store
}

// NewBlobLookup creates a rubric lookup backed by object storage.
func NewBlobLookup(store objectstore.Store) *BlobLookup {
	return &BlobLookup{store: store}
}

// Resolve fetches and decodes the rubric snapshot for the job.
func (l *BlobLookup) Resolve(ctx context.Context, job *types.Job) (*Rubric, error) {
	ref := job.RubricRef
	if ref == "" {
		ref = fmt.Sprintf("rubrics/%s.json", job.CaseID)
	}

	data, err := l.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rubric %s: %w", ref, err)
	}

	var r Rubric
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse rubric %s: %w", ref, err)
	}
	if r.CaseID == "" {
		r.CaseID = job.CaseID
	}
	return &r, nil
}
