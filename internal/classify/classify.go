// Package classify segments a transcript into ordered clinical-phase spans
// and reconstructs per-phase timing from whatever timing source the job
// carries.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinsim/osce-grader/internal/llm"
	"github.com/clinsim/osce-grader/internal/prompts"
	"github.com/clinsim/osce-grader/internal/types"
)

// Classifier asks the reasoning service for phase spans over a turn list.
type Classifier struct {
	client  llm.Client
	invoker *llm.Invoker
	tier    llm.ModelTier
}

// NewClassifier creates a classifier on the standard model tier.
func NewClassifier(client llm.Client, invoker *llm.Invoker) *Classifier {
	if invoker == nil {
		invoker = llm.DefaultInvoker()
	}
	return &Classifier{client: client, invoker: invoker, tier: llm.TierStandard}
}

// SplitTurns splits transcript text into its turns, one per non-empty line.
func SplitTurns(text string) []string {
	var turns []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			turns = append(turns, line)
		}
	}
	return turns
}

// spanResponse is the JSON shape the segmentation prompt requests.
type spanResponse struct {
	Spans []types.PhaseSpan `json:"spans"`
}

// Classify returns phase spans covering every turn index exactly once.
// phaseOrder is the expected order hint for this case type; it is supplied
// by the rubric, never inferred.
func (c *Classifier) Classify(ctx context.Context, turns []string, phaseOrder []types.Phase) ([]types.PhaseSpan, error) {
	if len(turns) == 0 {
		return nil, fmt.Errorf("transcript has no turns")
	}

	prompt := c.buildPrompt(turns, phaseOrder)

	var raw string
	err := c.invoker.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = c.client.GenerateJSON(ctx, prompt, c.tier)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("phase classification call failed: %w", err)
	}

	var resp spanResponse
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &resp); err != nil {
		return nil, &types.UpstreamFatalError{
			Message: "failed to parse phase spans",
			Cause:   err,
		}
	}

	spans := RepairSpans(resp.Spans, len(turns), phaseOrder)
	if len(spans) == 0 {
		return nil, &types.UpstreamFatalError{Message: "classification produced no usable spans"}
	}
	return spans, nil
}

// buildPrompt numbers the turns and fills the segmentation template.
func (c *Classifier) buildPrompt(turns []string, phaseOrder []types.Phase) string {
	var numbered strings.Builder
	for i, turn := range turns {
		fmt.Fprintf(&numbered, "%d: %s\n", i, turn)
	}

	order := make([]string, len(phaseOrder))
	allowed := make([]string, len(phaseOrder))
	for i, p := range phaseOrder {
		order[i] = string(p)
		allowed[i] = fmt.Sprintf("%q", string(p))
	}

	template := prompts.MustGet("classify.json", "segment-phases")
	return prompts.Format(template, map[string]string{
		"LastIndex":     fmt.Sprintf("%d", len(turns)-1),
		"PhaseOrder":    strings.Join(order, " -> "),
		"AllowedPhases": strings.Join(allowed, ", "),
		"NumberedTurns": numbered.String(),
	})
}

// RepairSpans clamps span indices into [0, n-1] and repairs gaps and
// overlaps by construction: each span's start is forced to the prior
// span's end + 1, and the final span is extended to the last turn. Spans
// with phases outside the allowed set are dropped.
func RepairSpans(spans []types.PhaseSpan, n int, phaseOrder []types.Phase) []types.PhaseSpan {
	if n <= 0 {
		return nil
	}

	allowed := make(map[types.Phase]bool, len(phaseOrder))
	for _, p := range phaseOrder {
		allowed[p] = true
	}

	var out []types.PhaseSpan
	prev := -1
	for _, s := range spans {
		if !allowed[s.Phase] {
			continue
		}
		if prev+1 >= n {
			break
		}
		start := prev + 1
		end := s.EndIndex
		if end > n-1 {
			end = n - 1
		}
		if end < start {
			end = start
		}
		out = append(out, types.PhaseSpan{Phase: s.Phase, StartIndex: start, EndIndex: end})
		prev = end
	}

	if len(out) == 0 {
		return nil
	}
	// Coverage must reach the last turn.
	out[len(out)-1].EndIndex = n - 1
	return out
}
