// Package tracestore persists PipelineExecution traces for later
// inspection — the optional, ambient audit trail around spec §3's
// PipelineExecution ("this execution is the user-visible explanation
// of failure (§7)"). It is a thin adapter over the generic
// storage.Store key-value engine, which stays untouched and
// domain-agnostic while this package gives it a concrete caller.
package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gradekit/gradesvc/internal/pipeline"
	"github.com/gradekit/gradesvc/internal/storage"
)

// Store persists and retrieves PipelineExecution traces, keyed by
// execution ID, with assignment/user metadata for prefix-scoped listing.
type Store struct {
	backend storage.Store
}

// New wraps a storage.Store (typically a *storage.SQLiteStore) as a
// trace store.
func New(backend storage.Store) *Store {
	return &Store{backend: backend}
}

func executionKey(id string) string {
	return "execution:" + id
}

// submissionPrefix is the key prefix all executions for one
// (assignment_id, user_id) pair share, enabling List-by-submission.
func submissionPrefix(assignmentID, userID string) string {
	return fmt.Sprintf("execution-by-submission:%s:%s:", assignmentID, userID)
}

// Save persists one execution's full trace and a secondary index entry
// keyed by its submission.
func (s *Store) Save(ctx context.Context, exec *pipeline.PipelineExecution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal pipeline execution %s: %w", exec.ID, err)
	}

	now := time.Now()
	rec := storage.Record{
		Key:   executionKey(exec.ID),
		Value: payload,
		Metadata: map[string]string{
			"assignment_id": exec.Submission.AssignmentID,
			"user_id":       exec.Submission.UserID,
			"status":        string(exec.Status),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("store execution %s: %w", exec.ID, err)
	}

	indexRec := storage.Record{
		Key:       submissionPrefix(exec.Submission.AssignmentID, exec.Submission.UserID) + exec.ID,
		Value:     []byte(exec.ID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.backend.Put(ctx, indexRec); err != nil {
		return fmt.Errorf("index execution %s: %w", exec.ID, err)
	}
	return nil
}

// Get retrieves one execution by ID. Returns nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.PipelineExecution, error) {
	rec, err := s.backend.Get(ctx, executionKey(id))
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	var exec pipeline.PipelineExecution
	if err := json.Unmarshal(rec.Value, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", id, err)
	}
	return &exec, nil
}

// ListForSubmission returns every execution ID previously saved for a
// given (assignment_id, user_id), most-recently-indexed first is not
// guaranteed — callers needing order should sort on the returned
// executions' StartedAt.
func (s *Store) ListForSubmission(ctx context.Context, assignmentID, userID string, limit int) ([]string, error) {
	keys, err := s.backend.List(ctx, submissionPrefix(assignmentID, userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for %s/%s: %w", assignmentID, userID, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		rec, err := s.backend.Get(ctx, k)
		if err != nil || rec == nil {
			continue
		}
		ids = append(ids, string(rec.Value))
	}
	return ids, nil
}
