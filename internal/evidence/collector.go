// Package evidence extracts verbatim supporting quotations for each
// checklist item of a rubric section.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/clinsim/osce-grader/internal/llm"
	"github.com/clinsim/osce-grader/internal/prompts"
	"github.com/clinsim/osce-grader/internal/types"
)

// Collector runs the two-tier evidence extraction strategy: a structured
// output call on the advanced tier, falling back to the lite tier with a
// strict JSON-only reinforcement when the primary attempt fails. The two
// tiers run independently per section.
type Collector struct {
	client  llm.Client
	invoker *llm.Invoker
}

// NewCollector creates an evidence collector.
func NewCollector(client llm.Client, invoker *llm.Invoker) *Collector {
	if invoker == nil {
		invoker = llm.DefaultInvoker()
	}
	return &Collector{client: client, invoker: invoker}
}

// recordsResponse is the JSON shape the extraction prompt requests.
type recordsResponse struct {
	Records []types.EvidenceRecord `json:"records"`
}

// Collect returns one EvidenceRecord per checklist item for the section.
func (c *Collector) Collect(ctx context.Context, transcriptText string, section types.SectionID, items []types.ChecklistItem) ([]types.EvidenceRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}

	prompt := c.buildPrompt(transcriptText, section, items)

	records, primaryErr := c.generate(ctx, prompt, llm.TierAdvanced)
	if primaryErr == nil {
		return sanitize(records, items, transcriptText), nil
	}

	log.Printf("Warning: [evidence] primary extraction failed for section %s, falling back: %v", section, primaryErr)

	reinforced := prompt + prompts.MustGet("grading.json", "json-only-reinforcement")
	records, fallbackErr := c.generate(ctx, reinforced, llm.TierLite)
	if fallbackErr != nil {
		return nil, &types.UpstreamFatalError{
			Message: fmt.Sprintf("evidence extraction failed for section %s on both tiers", section),
			Cause:   fallbackErr,
		}
	}
	return sanitize(records, items, transcriptText), nil
}

// generate performs one tier's extraction attempt: retried call, schema
// validation, then decoding.
func (c *Collector) generate(ctx context.Context, prompt string, tier llm.ModelTier) ([]types.EvidenceRecord, error) {
	var raw string
	err := c.invoker.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = c.client.GenerateJSON(ctx, prompt, tier)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	raw = llm.CleanJSONBlock(raw)
	if err := validateRecordsJSON(raw); err != nil {
		return nil, err
	}

	var resp recordsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode evidence records: %w", err)
	}
	return resp.Records, nil
}

// buildPrompt fills the extraction template with the section's checklist
// and the transcript.
func (c *Collector) buildPrompt(transcriptText string, section types.SectionID, items []types.ChecklistItem) string {
	var checklist strings.Builder
	for _, item := range items {
		fmt.Fprintf(&checklist, "- id: %s\n  title: %s\n  criteria: %s\n", item.ID, item.Title, item.Criteria)
	}

	template := prompts.MustGet("grading.json", "collect-evidence")
	return prompts.Format(template, map[string]string{
		"SectionTitle": string(section),
		"Checklist":    checklist.String(),
		"Transcript":   transcriptText,
	})
}

// sanitize returns exactly one record per checklist item, in checklist
// order. Records for unknown item ids are dropped, items the model skipped
// get an empty record, and quotations that are not verbatim substrings of
// the transcript are removed. Fabricated quotations are never acceptable
// evidence.
func sanitize(records []types.EvidenceRecord, items []types.ChecklistItem, transcriptText string) []types.EvidenceRecord {
	byID := make(map[string][]string, len(records))
	for _, rec := range records {
		byID[rec.ItemID] = append(byID[rec.ItemID], rec.Quotations...)
	}

	out := make([]types.EvidenceRecord, 0, len(items))
	for _, item := range items {
		kept := make([]string, 0, len(byID[item.ID]))
		for _, q := range byID[item.ID] {
			q = strings.TrimSpace(q)
			if q != "" && strings.Contains(transcriptText, q) {
				kept = append(kept, q)
			}
		}
		out = append(out, types.EvidenceRecord{ItemID: item.ID, Quotations: kept})
	}
	return out
}
