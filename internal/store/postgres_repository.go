/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the `affiliate_bindings` table and the append-only
 * `affiliate_sync_runs` log table.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBindingNotFound  = errors.New("binding not found")
	ErrDuplicateBinding = errors.New("binding already exists for program and uid")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBinding inserts a new pending binding. The (program, external_uid)
// pair is unique; a duplicate submission surfaces as ErrDuplicateBinding.
func (r *PostgresRepository) CreateBinding(ctx context.Context, binding *domain.Binding) error {
	query := `
		INSERT INTO affiliate_bindings (id, user_id, program, external_uid, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`

	_, err := r.db.Exec(ctx, query, binding.ID, binding.UserID, binding.Program, binding.ExternalUID, binding.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateBinding
		}
		return fmt.Errorf("failed to insert binding: %w", err)
	}
	return nil
}

// GetBindingsByProgramAndStatus loads the candidate set for one sync run.
func (r *PostgresRepository) GetBindingsByProgramAndStatus(ctx context.Context, program, status string) ([]domain.Binding, error) {
	query := `
		SELECT id, user_id, program, external_uid, status,
		       total_deposit, total_fee, total_commission, monthly_volume,
		       partner_level, rebate_rate, first_trade_at, kyc_verified_at, joined_at,
		       last_synced_at, raw_payload, created_at, updated_at
		FROM affiliate_bindings
		WHERE program = $1 AND status = $2
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, program, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.Binding
	for rows.Next() {
		var b domain.Binding
		var rawPayload []byte
		err := rows.Scan(
			&b.ID, &b.UserID, &b.Program, &b.ExternalUID, &b.Status,
			&b.Metrics.TotalDeposit, &b.Metrics.TotalFee, &b.Metrics.TotalCommission, &b.Metrics.MonthlyVolume,
			&b.Metrics.PartnerLevel, &b.Metrics.RebateRate, &b.Metrics.FirstTradeAt, &b.Metrics.KYCVerifiedAt, &b.Metrics.JoinedAt,
			&b.LastSyncedAt, &rawPayload, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding row: %w", err)
		}
		if len(rawPayload) > 0 {
			if err := json.Unmarshal(rawPayload, &b.RawPayload); err != nil {
				b.RawPayload = nil
			}
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read binding rows: %w", err)
	}
	return bindings, nil
}

// UpdateBindingSyncedMetrics persists the reconciled partner metrics onto one
// binding. Bindings are never deleted by the sync engine, only updated in place.
func (r *PostgresRepository) UpdateBindingSyncedMetrics(ctx context.Context, bindingID uuid.UUID, metrics domain.AffiliateMetrics, rawPayload map[string]any, syncedAt time.Time) error {
	rawJSON, err := json.Marshal(rawPayload)
	if err != nil {
		return fmt.Errorf("failed to encode raw payload: %w", err)
	}

	query := `
		UPDATE affiliate_bindings
		SET total_deposit = $2,
		    total_fee = $3,
		    total_commission = $4,
		    monthly_volume = $5,
		    partner_level = $6,
		    rebate_rate = $7,
		    first_trade_at = $8,
		    kyc_verified_at = $9,
		    joined_at = $10,
		    last_synced_at = $11,
		    raw_payload = $12,
		    updated_at = now()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		bindingID,
		metrics.TotalDeposit, metrics.TotalFee, metrics.TotalCommission, metrics.MonthlyVolume,
		metrics.PartnerLevel, metrics.RebateRate, metrics.FirstTradeAt, metrics.KYCVerifiedAt, metrics.JoinedAt,
		syncedAt, rawJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update binding metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// InsertSyncRun appends one run summary to the system log table. Rows are
// immutable once written; there is no update path.
func (r *PostgresRepository) InsertSyncRun(ctx context.Context, run *domain.SyncRun) error {
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	query := `
		INSERT INTO affiliate_sync_runs (id, program, started_at, finished_at, total, updated, skipped, failed, errors, duration_ms, nothing_to_sync)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.Program, run.StartedAt, run.FinishedAt,
		run.Total, run.Updated, run.Skipped, run.Failed,
		errorsJSON, run.DurationMS, run.NothingToSync,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns the most recent run summaries for a program.
func (r *PostgresRepository) ListSyncRuns(ctx context.Context, program string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, program, started_at, finished_at, total, updated, skipped, failed, errors, duration_ms, nothing_to_sync
		FROM affiliate_sync_runs
		WHERE program = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, program, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		var errorsJSON []byte
		err := rows.Scan(
			&run.ID, &run.Program, &run.StartedAt, &run.FinishedAt,
			&run.Total, &run.Updated, &run.Skipped, &run.Failed,
			&errorsJSON, &run.DurationMS, &run.NothingToSync,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}
		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
				run.Errors = nil
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync run rows: %w", err)
	}
	return runs, nil
}
