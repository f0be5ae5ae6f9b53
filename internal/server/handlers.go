package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinsim/osce-grader/internal/server/middleware"
	"github.com/clinsim/osce-grader/internal/store"
	"github.com/clinsim/osce-grader/internal/types"
	"github.com/clinsim/osce-grader/internal/worker"
)

var validate = validator.New()

// SubmitRequest is the request body for POST /jobs.
type SubmitRequest struct {
	CaseID        string    `json:"case_id" validate:"required"`
	Origin        string    `json:"origin" validate:"omitempty,oneof=voice_agent upload"`
	AudioRefs     []string  `json:"audio_refs,omitempty"`
	TranscriptRef string    `json:"transcript_ref,omitempty"`
	RubricRef     string    `json:"rubric_ref,omitempty"`
	TurnTimes     []float64 `json:"turn_times,omitempty"`
	TotalDuration float64   `json:"total_duration,omitempty" validate:"gte=0"`
}

// SubmitResponse is the response for POST /jobs.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// handleSubmit accepts a grading job and returns immediately.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	jobID, err := s.worker.Submit(r.Context(), worker.SubmitSpec{
		CaseID:        req.CaseID,
		Origin:        types.Origin(req.Origin),
		AudioRefs:     req.AudioRefs,
		TranscriptRef: req.TranscriptRef,
		RubricRef:     req.RubricRef,
		OwnerID:       ownerID,
		TurnTimes:     req.TurnTimes,
		TotalDuration: req.TotalDuration,
	})
	if err != nil {
		var inputErr *types.InputError
		if errors.As(err, &inputErr) {
			s.errorResponse(w, http.StatusBadRequest, inputErr.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: jobID.String()})
}

// handlePoll returns the current state of a job.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	status, err := s.worker.PollStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			s.errorResponse(w, http.StatusNotFound, "Job not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load job")
		return
	}

	s.jsonResponse(w, http.StatusOK, status)
}

// handleResult returns the persisted audit copy of a job's score payload.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	rows, err := s.db.ListScoreResults(r.Context(), jobID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load result")
		return
	}
	if len(rows) == 0 {
		s.errorResponse(w, http.StatusNotFound, "No persisted result for job")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rows[0].Payload)
}
