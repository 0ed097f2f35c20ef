package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/modelwatch/modelwatch/pkg/errors"
	"github.com/modelwatch/modelwatch/pkg/types"
)

// PredictionRepository archives prediction metrics for offline analysis
type PredictionRepository struct {
	db *DB
}

// NewPredictionRepository creates a prediction metrics repository
func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// Insert archives a prediction metric
func (r *PredictionRepository) Insert(ctx context.Context, metric *types.PredictionMetric) error {
	query := `
		INSERT INTO prediction_metrics
			(prediction_id, sentiment, confidence, inference_time_ms, input_length, model_version, created_at)
		VALUES
			(:prediction_id, :sentiment, :confidence, :inference_time_ms, :input_length, :model_version, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, metric); err != nil {
		return errors.NewInternalError("failed to insert prediction metric").WithCause(err)
	}
	return nil
}

// ListRange returns archived metrics recorded inside [start, end],
// oldest first.
func (r *PredictionRepository) ListRange(ctx context.Context, start, end time.Time) ([]types.PredictionMetric, error) {
	query := `
		SELECT prediction_id, sentiment, confidence, inference_time_ms, input_length, model_version, created_at
		FROM prediction_metrics
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC`

	var metrics []types.PredictionMetric
	if err := r.db.SelectContext(ctx, &metrics, query, start, end); err != nil {
		return nil, errors.NewInternalError("failed to list prediction metrics").WithCause(err)
	}
	return metrics, nil
}

// AggregateRange computes windowed aggregates in SQL. Percentiles and
// sentiment distribution are computed by the Redis tracker; this is the
// durable cross-check.
func (r *PredictionRepository) AggregateRange(ctx context.Context, start, end time.Time) (*types.AggregatedMetrics, error) {
	query := `
		SELECT
			COUNT(*)                          AS total,
			COALESCE(AVG(confidence), 0)      AS avg_confidence,
			COALESCE(AVG(inference_time_ms), 0) AS avg_latency,
			COALESCE(MIN(inference_time_ms), 0) AS min_latency,
			COALESCE(MAX(inference_time_ms), 0) AS max_latency
		FROM prediction_metrics
		WHERE created_at >= $1 AND created_at <= $2`

	var row struct {
		Total         int     `db:"total"`
		AvgConfidence float64 `db:"avg_confidence"`
		AvgLatency    float64 `db:"avg_latency"`
		MinLatency    float64 `db:"min_latency"`
		MaxLatency    float64 `db:"max_latency"`
	}
	if err := r.db.GetContext(ctx, &row, query, start, end); err != nil {
		return nil, errors.NewInternalError("failed to aggregate prediction metrics").WithCause(err)
	}

	return &types.AggregatedMetrics{
		TotalPredictions:       row.Total,
		AverageConfidence:      row.AvgConfidence,
		AverageInferenceTimeMs: row.AvgLatency,
		MinInferenceTimeMs:     row.MinLatency,
		MaxInferenceTimeMs:     row.MaxLatency,
		SentimentDistribution:  map[types.Sentiment]int{},
		Status:                 types.StatusNormal,
		TimeWindowStart:        start,
		TimeWindowEnd:          end,
	}, nil
}

// DeleteBefore prunes archived metrics older than the cutoff, returning
// the number of rows removed.
func (r *PredictionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM prediction_metrics WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.NewInternalError("failed to prune prediction metrics").WithCause(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to read prune result").WithCause(err)
	}
	return count, nil
}

// ModelVersionRepository tracks registered model versions
type ModelVersionRepository struct {
	db *DB
}

// NewModelVersionRepository creates a model version repository
func NewModelVersionRepository(db *DB) *ModelVersionRepository {
	return &ModelVersionRepository{db: db}
}

// Register inserts a model version if it is not already known
func (r *ModelVersionRepository) Register(ctx context.Context, version string) error {
	if err := types.ValidateModelVersion(version); err != nil {
		return errors.NewValidationError(err.Error())
	}

	query := `
		INSERT INTO model_versions (version, created_at)
		VALUES ($1, now())
		ON CONFLICT (version) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, version); err != nil {
		return errors.NewInternalError("failed to register model version").WithCause(err)
	}
	return nil
}

// SetActive marks one version active and deactivates the rest
func (r *ModelVersionRepository) SetActive(ctx context.Context, version string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewInternalError("failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE model_versions SET active = false WHERE active = true`); err != nil {
		return errors.NewInternalError("failed to deactivate model versions").WithCause(err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE model_versions SET active = true WHERE version = $1`, version)
	if err != nil {
		return errors.NewInternalError("failed to activate model version").WithCause(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternalError("failed to read activation result").WithCause(err)
	}
	if count == 0 {
		return errors.NewNotFoundError("model version")
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternalError("failed to commit transaction").WithCause(err)
	}
	return nil
}

// GetActive returns the currently active model version, if any
func (r *ModelVersionRepository) GetActive(ctx context.Context) (*types.ModelVersion, error) {
	query := `
		SELECT id, version, active, created_at
		FROM model_versions
		WHERE active = true
		ORDER BY created_at DESC
		LIMIT 1`

	var mv types.ModelVersion
	if err := r.db.GetContext(ctx, &mv, query); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("active model version")
		}
		return nil, errors.NewInternalError("failed to get active model version").WithCause(err)
	}
	return &mv, nil
}

// List returns all registered model versions, newest first
func (r *ModelVersionRepository) List(ctx context.Context) ([]types.ModelVersion, error) {
	query := `
		SELECT id, version, active, created_at
		FROM model_versions
		ORDER BY created_at DESC`

	var versions []types.ModelVersion
	if err := r.db.SelectContext(ctx, &versions, query); err != nil {
		return nil, errors.NewInternalError("failed to list model versions").WithCause(err)
	}
	return versions, nil
}
