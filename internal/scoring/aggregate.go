// Package scoring converts collected evidence into capped point values.
package scoring

import "github.com/clinsim/osce-grader/internal/types"

// Aggregate grades one section's checklist against its evidence records.
// It is a pure function: for each checklist item the evidence record is
// looked up by id (absent means empty evidence) and the point value is
// min(evidenceCount, cap). Output preserves the checklist's item order, not
// the evidence list's, so consumers always see rubric-defined ordering.
func Aggregate(items []types.ChecklistItem, records []types.EvidenceRecord) []types.GradeItem {
	byID := make(map[string][]string, len(records))
	for _, rec := range records {
		byID[rec.ItemID] = rec.Quotations
	}

	grades := make([]types.GradeItem, 0, len(items))
	for _, item := range items {
		evidence := byID[item.ID]
		if evidence == nil {
			evidence = []string{}
		}

		pointCap := item.PointCap()
		point := len(evidence)
		if point > pointCap {
			point = pointCap
		}

		grades = append(grades, types.GradeItem{
			ID:       item.ID,
			Title:    item.Title,
			Criteria: item.Criteria,
			Evidence: evidence,
			Point:    point,
			Cap:      pointCap,
		})
	}
	return grades
}
