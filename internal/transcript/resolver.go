package transcript

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinsim/osce-grader/internal/llm"
	"github.com/clinsim/osce-grader/internal/objectstore"
	"github.com/clinsim/osce-grader/internal/types"
)

// Resolver obtains the text to grade for a job.
type Resolver struct {
	store       objectstore.Store
	transcriber Transcriber
	invoker     *llm.Invoker
}

// NewResolver creates a resolver. The invoker wraps every transcription
// call with the standard transient-retry policy.
func NewResolver(store objectstore.Store, transcriber Transcriber, invoker *llm.Invoker) *Resolver {
	if invoker == nil {
		invoker = llm.DefaultInvoker()
	}
	return &Resolver{store: store, transcriber: transcriber, invoker: invoker}
}

// Resolve returns the transcript for the job. A job with a transcript
// reference is fetched verbatim, with no segments; audio references are
// transcribed per part and stitched together. Failure here is fatal to the
// job: with no text there is nothing to grade.
func (r *Resolver) Resolve(ctx context.Context, job *types.Job) (*types.Transcript, error) {
	if !job.HasInput() {
		return nil, &types.InputError{Message: "job has neither audio references nor a transcript reference"}
	}

	if job.TranscriptRef != "" {
		data, err := r.store.Get(ctx, job.TranscriptRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transcript %s: %w", job.TranscriptRef, err)
		}
		return &types.Transcript{Text: string(data)}, nil
	}

	return r.transcribeParts(ctx, job.AudioRefs)
}

// transcribeParts transcribes every audio reference in order and re-bases
// each part's segment timestamps by the accumulated end time of the parts
// before it, so times stay globally monotonic across multi-file recordings.
// Segment text is collapsed onto a single line and empty segments are
// dropped, keeping segments aligned one-to-one with transcript turns.
func (r *Resolver) transcribeParts(ctx context.Context, refs []string) (*types.Transcript, error) {
	var (
		all    []types.Segment
		texts  []string
		offset float64
	)

	for i, ref := range refs {
		audio, err := r.store.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audio part %d (%s): %w", i, ref, err)
		}

		var segments []types.Segment
		err = r.invoker.Do(ctx, func(ctx context.Context) error {
			var callErr error
			segments, callErr = r.transcriber.Transcribe(ctx, audio, MIMETypeForRef(ref))
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("transcription failed for part %d: %w", i, err)
		}

		partEnd := offset
		for _, seg := range segments {
			rebased := types.Segment{
				StartSec: seg.StartSec + offset,
				EndSec:   seg.EndSec + offset,
				Text:     flattenSegmentText(seg.Text),
			}
			if rebased.EndSec > partEnd {
				partEnd = rebased.EndSec
			}
			if rebased.Text == "" {
				continue
			}
			all = append(all, rebased)
			texts = append(texts, rebased.Text)
		}
		offset = partEnd
	}

	return &types.Transcript{
		Text:     strings.Join(texts, "\n"),
		Segments: all,
	}, nil
}

// flattenSegmentText collapses all whitespace in a segment's text, including
// embedded newlines, into single spaces. A segment that survives flattening
// occupies exactly one line of the stitched transcript.
func flattenSegmentText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
