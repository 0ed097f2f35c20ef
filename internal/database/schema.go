package database

import (
	"context"

	"github.com/modelwatch/modelwatch/pkg/errors"
)

// schema is applied idempotently at startup. The service owns its
// tables; there is no separate migration pipeline.
const schema = `
CREATE TABLE IF NOT EXISTS prediction_metrics (
    id                BIGSERIAL PRIMARY KEY,
    prediction_id     TEXT NOT NULL,
    sentiment         TEXT NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL,
    inference_time_ms DOUBLE PRECISION NOT NULL,
    input_length      INTEGER NOT NULL,
    model_version     TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_prediction_metrics_created_at
    ON prediction_metrics (created_at);

CREATE TABLE IF NOT EXISTS model_versions (
    id         BIGSERIAL PRIMARY KEY,
    version    TEXT NOT NULL UNIQUE,
    active     BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables and indexes if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.NewInternalError("failed to apply database schema").WithCause(err)
	}
	return nil
}
