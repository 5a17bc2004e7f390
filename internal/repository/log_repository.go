package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"brickcache-api/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertRefreshRun appends a run to the refresh_runs table.
func (r *sqlMetadataRepository) InsertRefreshRun(ctx context.Context, run *model.RefreshRun) error {
	query := r.d.rebind(fmt.Sprintf(`INSERT INTO %s
		(run_id, trigger_name, started_at, duration_ms, attempted, succeeded, failed, batches, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, r.tables.Runs))
	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.Trigger, run.StartedAt.UnixMilli(), run.DurationMs,
		run.Attempted, run.Succeeded, run.Failed, run.Batches, model.StringPtr(run.Error))
	if err != nil {
		return fmt.Errorf("failed to insert refresh run: %w", err)
	}
	return nil
}

// ListRefreshRuns returns runs newest first with pagination.
func (r *sqlMetadataRepository) ListRefreshRuns(ctx context.Context, limit, offset int) ([]model.RefreshRun, int64, error) {
	query := r.d.rebind(fmt.Sprintf(`SELECT run_id, trigger_name, started_at, duration_ms,
		attempted, succeeded, failed, batches, error_message
		FROM %s ORDER BY started_at DESC LIMIT ? OFFSET ?`, r.tables.Runs))

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query refresh runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RefreshRun{}
	for rows.Next() {
		var (
			run       model.RefreshRun
			startedAt int64
			errMsg    sql.NullString
		)
		if err := rows.Scan(&run.RunID, &run.Trigger, &startedAt, &run.DurationMs,
			&run.Attempted, &run.Succeeded, &run.Failed, &run.Batches, &errMsg); err != nil {
			return nil, 0, fmt.Errorf("failed to scan refresh run: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+r.tables.Runs).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count refresh runs: %w", err)
	}
	return runs, total, nil
}

// InsertRefreshRun appends a run document.
func (r *MongoDBMetadataRepository) InsertRefreshRun(ctx context.Context, run *model.RefreshRun) error {
	if _, err := r.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to insert refresh run: %w", err)
	}
	return nil
}

// ListRefreshRuns returns runs newest first with pagination.
func (r *MongoDBMetadataRepository) ListRefreshRuns(ctx context.Context, limit, offset int) ([]model.RefreshRun, int64, error) {
	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "started_at", Value: -1}})
	findOptions.SetLimit(int64(limit))
	findOptions.SetSkip(int64(offset))

	cursor, err := r.runs.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	var runs []model.RefreshRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, 0, err
	}

	// Ensure not nil slice for JSON
	if runs == nil {
		runs = []model.RefreshRun{}
	}

	count, err := r.runs.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, err
	}
	return runs, count, nil
}
