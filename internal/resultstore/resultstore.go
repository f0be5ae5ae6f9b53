// Package resultstore persists final grading results: an object-storage
// backup, a durable relational row, and a short-lived recovery cache for
// the case where the durable store is unreachable.
package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/clinsim/osce-grader/internal/db"
	"github.com/clinsim/osce-grader/internal/objectstore"
	"github.com/clinsim/osce-grader/internal/types"
)

// Relational is the slice of the database layer the result store needs.
type Relational interface {
	InsertScoreResult(ctx context.Context, row *db.ScoreRow) error
	CompleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// Store writes results durably with retry and degraded recovery.
type Store struct {
	rel      Relational
	blobs    objectstore.Store
	recovery *RecoveryCache

	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Outcome reports how a save ended up. When Persisted is false, Err holds
// the persistence failure that sent the payload to the recovery cache.
type Outcome struct {
	Persisted bool
	BackupKey string
	Err       error
}

// New creates a result store with the standard 3-attempt linear-backoff
// policy.
func New(rel Relational, blobs objectstore.Store, recovery *RecoveryCache) *Store {
	if recovery == nil {
		recovery = NewRecoveryCache(DefaultRecoveryTTL)
	}
	return &Store{
		rel:      rel,
		blobs:    blobs,
		recovery: recovery,
		attempts: 3,
		backoff:  2 * time.Second,
		now:      time.Now,
	}
}

// WithSleeper replaces the backoff sleep. Tests use this to avoid delays.
func (s *Store) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Store {
	s.sleep = sleep
	return s
}

// Recovery exposes the cache for operator reconciliation tooling.
func (s *Store) Recovery() *RecoveryCache {
	return s.recovery
}

// Save persists the result. The backup upload is best-effort; the
// relational write is retried with linear backoff, and on exhaustion the
// full payload goes to the recovery cache instead of being lost. Save only
// returns an error for a payload that cannot even be serialized.
func (s *Store) Save(ctx context.Context, job *types.Job, result *types.ScoreResult) (*Outcome, error) {
	payload, err := MarshalPayload(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize score payload: %w", err)
	}

	backupKey := s.uploadBackup(ctx, job, payload)

	row := &db.ScoreRow{
		ID:         result.ID,
		SessionID:  job.ID,
		CaseID:     job.CaseID,
		TotalScore: result.TotalScore(),
		BackupKey:  backupKey,
		Payload:    payload,
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			if err := s.doSleep(ctx, time.Duration(attempt-1)*s.backoff); err != nil {
				lastErr = err
				break
			}
		}

		if lastErr = s.rel.InsertScoreResult(ctx, row); lastErr != nil {
			continue
		}
		if lastErr = s.rel.CompleteSession(ctx, job.ID); lastErr != nil {
			continue
		}
		return &Outcome{Persisted: true, BackupKey: backupKey}, nil
	}

	// The computed result is never silently discarded: park it for manual
	// reconciliation.
	s.recovery.Put(job.ID, payload)
	perr := &types.PersistenceError{
		Message: fmt.Sprintf("durable write failed after %d attempts", s.attempts),
		Cause:   lastErr,
	}
	log.Printf("Warning: [resultstore] %v for job %s, payload cached for recovery", perr, job.ID)

	return &Outcome{Persisted: false, BackupKey: backupKey, Err: perr}, nil
}

// uploadBackup writes the payload to object storage under a timestamped
// key. Upload failure is non-fatal.
func (s *Store) uploadBackup(ctx context.Context, job *types.Job, payload []byte) string {
	key := fmt.Sprintf("score-backups/%s/%s.json", s.now().UTC().Format("2006/01/02"), job.ID)
	stored, err := s.blobs.Put(ctx, key, payload, "application/json")
	if err != nil {
		log.Printf("Warning: [resultstore] backup upload failed for job %s, proceeding without backup: %v", job.ID, err)
		return ""
	}
	return stored
}

func (s *Store) doSleep(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MarshalPayload serializes a result to the persisted wire format: a flat
// object keyed by section id, each an array of grade items, plus an
// optional timingBySection key.
func MarshalPayload(result *types.ScoreResult) ([]byte, error) {
	flat := make(map[string]any, len(result.GradesBySection)+1)
	for section, items := range result.GradesBySection {
		flat[string(section)] = items
	}
	if len(result.TimingBySection) > 0 {
		flat["timingBySection"] = result.TimingBySection
	}
	return json.Marshal(flat)
}
