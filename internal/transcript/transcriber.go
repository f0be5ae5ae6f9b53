// Package transcript resolves the text a grading job is scored against:
// either a pre-recorded transcript fetched from object storage, or audio
// references transcribed through the reasoning service.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/clinsim/osce-grader/internal/llm"
	"github.com/clinsim/osce-grader/internal/prompts"
	"github.com/clinsim/osce-grader/internal/types"
)

// Transcriber converts one recording into timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) ([]types.Segment, error)
}

// GeminiTranscriber implements Transcriber through the LLM client's audio
// input support.
type GeminiTranscriber struct {
	client llm.Client
	tier   llm.ModelTier
}

// NewGeminiTranscriber creates a transcriber on the standard model tier.
func NewGeminiTranscriber(client llm.Client) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, tier: llm.TierStandard}
}

// transcribeResponse is the JSON shape the transcription prompt requests.
type transcribeResponse struct {
	Segments []types.Segment `json:"segments"`
}

// Transcribe sends the audio to the model and parses the timed segments.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) ([]types.Segment, error) {
	prompt := prompts.MustGet("transcribe.json", "transcribe-audio")

	raw, err := t.client.GenerateFromAudio(ctx, prompt, audio, mimeType, t.tier)
	if err != nil {
		return nil, fmt.Errorf("transcription call failed: %w", err)
	}

	var resp transcribeResponse
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &resp); err != nil {
		return nil, &types.UpstreamFatalError{
			Message: "failed to parse transcription response",
			Cause:   err,
		}
	}
	if len(resp.Segments) == 0 {
		return nil, &types.UpstreamFatalError{Message: "transcription returned no segments"}
	}
	return resp.Segments, nil
}

// MIMETypeForRef guesses the audio MIME type from the reference's extension.
func MIMETypeForRef(ref string) string {
	switch strings.ToLower(path.Ext(strings.SplitN(ref, "?", 2)[0])) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".m4a", ".aac":
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}
