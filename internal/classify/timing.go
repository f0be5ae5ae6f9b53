package classify

import "github.com/clinsim/osce-grader/internal/types"

// TimingSource bundles the alternative timing inputs a job may carry, in
// priority order: per-turn audio segments, client-recorded per-turn elapsed
// stamps, or a single known total duration.
type TimingSource struct {
	Segments      []types.Segment // aligned 1:1 with turns
	TurnTimes     []float64       // elapsed seconds at the start of each turn
	TotalDuration float64         // seconds; 0 means unknown
}

// indexRun is a merged run of contiguous turn indices for one phase.
type indexRun struct {
	start, end int
}

// ComputeTiming derives per-phase durations from the best available timing
// source. Every phase in phaseOrder gets a record; with no source at all
// every duration is nil. Timing is best-effort and never blocks grading.
func ComputeTiming(spans []types.PhaseSpan, phaseOrder []types.Phase, src TimingSource) map[types.Phase]types.TimingRecord {
	timing := make(map[types.Phase]types.TimingRecord, len(phaseOrder))

	totalTurns := 0
	for _, s := range spans {
		totalTurns += s.EndIndex - s.StartIndex + 1
	}

	runs := mergeRuns(spans)
	lastRunEnd := totalTurns - 1

	for _, phase := range phaseOrder {
		switch {
		case len(src.Segments) > 0:
			d := durationFromSegments(runs[phase], src.Segments)
			timing[phase] = types.TimingRecord{DurationSeconds: &d}
		case len(src.TurnTimes) > 0:
			d := durationFromTurnTimes(runs[phase], src.TurnTimes, src.TotalDuration, lastRunEnd)
			timing[phase] = types.TimingRecord{DurationSeconds: &d}
		case src.TotalDuration > 0 && totalTurns > 0:
			// Explicit approximation: share of turns times total duration.
			count := 0
			for _, r := range runs[phase] {
				count += r.end - r.start + 1
			}
			d := float64(count) / float64(totalTurns) * src.TotalDuration
			timing[phase] = types.TimingRecord{DurationSeconds: &d}
		default:
			timing[phase] = types.TimingRecord{DurationSeconds: nil}
		}
	}
	return timing
}

// mergeRuns collects each phase's index runs, merging contiguous spans so
// boundary segments are not double-counted when a phase recurs.
func mergeRuns(spans []types.PhaseSpan) map[types.Phase][]indexRun {
	runs := make(map[types.Phase][]indexRun)
	for _, s := range spans {
		existing := runs[s.Phase]
		if n := len(existing); n > 0 && existing[n-1].end+1 == s.StartIndex {
			existing[n-1].end = s.EndIndex
			runs[s.Phase] = existing
			continue
		}
		runs[s.Phase] = append(existing, indexRun{start: s.StartIndex, end: s.EndIndex})
	}
	return runs
}

// durationFromSegments sums segment end-minus-start per merged run.
func durationFromSegments(runs []indexRun, segments []types.Segment) float64 {
	total := 0.0
	for _, r := range runs {
		start, end := r.start, r.end
		if start >= len(segments) {
			continue
		}
		if end >= len(segments) {
			end = len(segments) - 1
		}
		total += segments[end].EndSec - segments[start].StartSec
	}
	return total
}

// durationFromTurnTimes sums elapsed-time deltas per merged run. The run
// that ends the transcript takes its end time from the total duration when
// one is known.
func durationFromTurnTimes(runs []indexRun, turnTimes []float64, totalDuration float64, lastRunEnd int) float64 {
	total := 0.0
	for _, r := range runs {
		start, end := r.start, r.end
		if start >= len(turnTimes) {
			continue
		}

		var endTime float64
		switch {
		case end+1 < len(turnTimes):
			endTime = turnTimes[end+1]
		case end >= lastRunEnd && totalDuration > 0:
			endTime = totalDuration
		default:
			endTime = turnTimes[len(turnTimes)-1]
		}
		total += endTime - turnTimes[start]
	}
	return total
}
