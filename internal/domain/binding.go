/**
 * @description
 * This file defines the core domain models for the affiliate-service.
 * These structs represent the persisted membership bindings, the outcome of a
 * reconciliation pass, and the immutable per-run summary record.
 *
 * @notes
 * - Financial metrics are written exclusively by the sync engine
 *   (see store.Repository.UpdateBindingSyncedMetrics); user-facing code paths
 *   only ever create a binding or read it.
 * - Partner APIs return decimal amounts as strings; they are parsed into
 *   float64 during reconciliation, defaulting to zero on malformed input.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Binding statuses. A binding is created as pending when a user submits their
// external UID and is promoted to verified by an out-of-band approval step.
const (
	BindingStatusPending  = "pending"
	BindingStatusVerified = "verified"
	BindingStatusRejected = "rejected"
)

// Binding links an internal user to one partner-program membership.
// This struct maps directly to the `affiliate_bindings` table.
type Binding struct {
	ID           uuid.UUID        `json:"id"`
	UserID       uuid.UUID        `json:"user_id"`
	Program      string           `json:"program"`      // partner program name, e.g. 'okx'
	ExternalUID  string           `json:"external_uid"` // partner-side member identifier
	Status       string           `json:"status"`       // 'pending', 'verified', 'rejected'
	Metrics      AffiliateMetrics `json:"metrics"`
	LastSyncedAt *time.Time       `json:"last_synced_at,omitempty"`
	RawPayload   map[string]any   `json:"raw_payload,omitempty"` // last partner payload, kept for audit
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// AffiliateMetrics is the set of partner-reported financial figures synced
// onto a binding. All values reflect the partner's view at the last sync.
type AffiliateMetrics struct {
	TotalDeposit    float64    `json:"total_deposit"`
	TotalFee        float64    `json:"total_fee"`
	TotalCommission float64    `json:"total_commission"`
	MonthlyVolume   float64    `json:"monthly_volume"`
	PartnerLevel    string     `json:"partner_level"` // partner-assigned tier, passed through verbatim
	RebateRate      float64    `json:"rebate_rate"`
	FirstTradeAt    *time.Time `json:"first_trade_at,omitempty"`
	KYCVerifiedAt   *time.Time `json:"kyc_verified_at,omitempty"`
	JoinedAt        *time.Time `json:"joined_at,omitempty"`
}

// CreateBindingRequest is the DTO for the binding submission endpoint.
type CreateBindingRequest struct {
	Program     string `json:"program"`
	ExternalUID string `json:"external_uid"`
}

// SyncError records one failed binding update within a run.
type SyncError struct {
	ExternalUID string `json:"external_uid"`
	Message     string `json:"message"`
}

// SyncOutcome aggregates the per-binding results of one reconciliation pass.
// Updated + Skipped + Failed always equals Total.
type SyncOutcome struct {
	Total   int
	Updated int
	Skipped int
	Failed  int
	Errors  []SyncError
}

// SyncRun is the immutable summary of one orchestrator execution. It maps to
// the append-only `affiliate_sync_runs` table.
type SyncRun struct {
	ID            uuid.UUID   `json:"id"`
	Program       string      `json:"program"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Total         int         `json:"total"`
	Updated       int         `json:"updated"`
	Skipped       int         `json:"skipped"`
	Failed        int         `json:"failed"`
	Errors        []SyncError `json:"errors,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
	NothingToSync bool        `json:"nothing_to_sync"`
}

// Finalize stamps the end time, duration and outcome counts onto the run.
func (r *SyncRun) Finalize(outcome SyncOutcome, finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.DurationMS = finishedAt.Sub(r.StartedAt).Milliseconds()
	r.Total = outcome.Total
	r.Updated = outcome.Updated
	r.Skipped = outcome.Skipped
	r.Failed = outcome.Failed
	r.Errors = outcome.Errors
}
