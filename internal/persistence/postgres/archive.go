// Package postgres archives completed analysis sessions and records their outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/repcount/internal/domain"
	"example.com/repcount/internal/events"
	"example.com/repcount/internal/recorder"
)

const eventVersion = "v1"

// Archive provides Postgres-backed persistence for completed sessions and outbox events.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive constructs an Archive.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Archive stores the session summary, its frame records and the completion event inside a
// single transaction. Archiving the same session twice is a no-op.
func (a *Archive) Archive(ctx context.Context, completed domain.CompletedSession) (err error) {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", completed.TenantID); err != nil {
		return err
	}

	summary := completed.Outcome.Summary
	feedbackCounts, err := json.Marshal(summary.FeedbackCounts)
	if err != nil {
		return err
	}

	const insertSession = `INSERT INTO exercise_sessions (session_id, tenant_id, user_id, exercise, mode, end_reason,
            total_frames, total_reps, duration_ms,
            avg_elbow_angle, min_elbow_angle, max_elbow_angle,
            avg_hip_angle, min_hip_angle, max_hip_angle,
            hip_warning_frames, go_lower_frames, good_form_frames,
            feedback_counts, last_feedback, dataset_path, started_at, completed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
        ON CONFLICT (session_id) DO NOTHING`

	tag, err := tx.Exec(ctx, insertSession,
		completed.SessionID,
		completed.TenantID,
		completed.UserID,
		string(completed.Exercise),
		string(completed.Mode),
		string(completed.End),
		summary.TotalFrames,
		summary.TotalReps,
		summary.DurationMS,
		summary.AvgElbowAngle,
		summary.MinElbowAngle,
		summary.MaxElbowAngle,
		summary.AvgHipAngle,
		summary.MinHipAngle,
		summary.MaxHipAngle,
		summary.HipWarningFrames,
		summary.GoLowerFrames,
		summary.GoodFormFrames,
		feedbackCounts,
		summary.LastFeedback,
		nullIfEmpty(completed.Outcome.DatasetPath),
		completed.StartedAt,
		completed.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if err = a.copyFrames(ctx, tx, completed); err != nil {
		return err
	}

	if err = a.insertOutbox(ctx, tx, completed, events.EventSessionCompleted, events.ExerciseSessionCompleted{
		SessionID:     completed.SessionID,
		TenantID:      completed.TenantID,
		UserID:        completed.UserID,
		Exercise:      string(completed.Exercise),
		Mode:          string(completed.Mode),
		EndReason:     string(completed.End),
		TotalFrames:   summary.TotalFrames,
		TotalReps:     summary.TotalReps,
		DurationMS:    summary.DurationMS,
		AvgElbowAngle: summary.AvgElbowAngle,
		AvgHipAngle:   summary.AvgHipAngle,
		LastFeedback:  summary.LastFeedback,
		DatasetReady:  completed.Outcome.DatasetPath != "",
		CompletedAt:   completed.CompletedAt,
		Version:       eventVersion,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (a *Archive) copyFrames(ctx context.Context, tx pgx.Tx, completed domain.CompletedSession) error {
	records := completed.Outcome.Records
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{completed.SessionID, r.Frame, completed.TenantID, r.TimestampMS, r.ElbowAngle, r.HipAngle, string(r.Stage), r.Count, r.Feedback}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"session_frames"},
		[]string{"session_id", "frame", "tenant_id", "timestamp_ms", "elbow_angle", "hip_angle", "stage", "count", "feedback"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy frames: %w", err)
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy frames: wrote %d of %d rows", n, len(records))
	}
	return nil
}

func (a *Archive) insertOutbox(ctx context.Context, tx pgx.Tx, completed domain.CompletedSession, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		completed.TenantID,
		"exercise_session",
		completed.SessionID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(completed),
		body,
		fmt.Sprintf("%s:%s", completed.SessionID, eventType),
	)
	return err
}

// LoadSummary returns the archived summary of a session, or nil when the tenant has no such session.
func (a *Archive) LoadSummary(ctx context.Context, tenantID, sessionID string) (*recorder.Summary, error) {
	const query = `SELECT total_frames, total_reps, duration_ms,
            avg_elbow_angle, min_elbow_angle, max_elbow_angle,
            avg_hip_angle, min_hip_angle, max_hip_angle,
            hip_warning_frames, go_lower_frames, good_form_frames,
            feedback_counts, last_feedback
        FROM exercise_sessions WHERE tenant_id=$1 AND session_id=$2`

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return nil, err
	}

	var (
		s              recorder.Summary
		feedbackCounts []byte
	)
	err = tx.QueryRow(ctx, query, tenantID, sessionID).Scan(
		&s.TotalFrames, &s.TotalReps, &s.DurationMS,
		&s.AvgElbowAngle, &s.MinElbowAngle, &s.MaxElbowAngle,
		&s.AvgHipAngle, &s.MinHipAngle, &s.MaxHipAngle,
		&s.HipWarningFrames, &s.GoLowerFrames, &s.GoodFormFrames,
		&feedbackCounts, &s.LastFeedback,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := json.Unmarshal(feedbackCounts, &s.FeedbackCounts); err != nil {
		return nil, fmt.Errorf("decode feedback counts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &s, nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.CompletedSession) string
}

var eventCatalog = map[string]EventMetadata{
	events.EventSessionCompleted: {
		Topic:         "exercise_sessions",
		SchemaSubject: "exercise_sessions-value",
		PartitionKeyFn: func(c domain.CompletedSession) string {
			return fmt.Sprintf("%s:%s", c.TenantID, c.UserID)
		},
	},
}
