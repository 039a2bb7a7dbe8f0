/**
 * @description
 * Reconciliation engine: matches fetched partner records to persisted bindings
 * by external UID, maps partner fields into the internal schema, and persists
 * the update per binding. Each binding is classified as updated, skipped
 * (no remote record) or failed (persistence error); per-binding failures are
 * swallowed locally so one bad record never aborts the run.
 *
 * @dependencies
 * - context, log/slog, strconv, time: Standard Go libraries.
 * - internal/domain, pkg/partnerclient: Domain models and the partner wire types.
 */
package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coinatlas/affiliate-service/internal/domain"
	"github.com/coinatlas/affiliate-service/pkg/partnerclient"
	"github.com/google/uuid"
)

// BindingUpdater is the single store write the reconciler needs.
type BindingUpdater interface {
	UpdateBindingSyncedMetrics(ctx context.Context, bindingID uuid.UUID, metrics domain.AffiliateMetrics, rawPayload map[string]any, syncedAt time.Time) error
}

// Reconciler applies fetched partner records to stored bindings.
type Reconciler struct {
	repo   BindingUpdater
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler backed by the given store.
func NewReconciler(repo BindingUpdater, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Reconcile processes every binding against the UID-to-record map produced by
// the batch fetcher. Re-running with an unchanged record set persists the same
// metrics and yields the same counts. Updated + Skipped + Failed == Total.
func (r *Reconciler) Reconcile(ctx context.Context, bindings []domain.Binding, records map[string]*partnerclient.AffiliateRecord) domain.SyncOutcome {
	outcome := domain.SyncOutcome{Total: len(bindings)}
	syncedAt := r.now().UTC()

	for _, binding := range bindings {
		record := records[binding.ExternalUID]
		if record == nil {
			// The member may no longer be valid on the partner side.
			// Existing metrics are left untouched.
			outcome.Skipped++
			continue
		}

		metrics := r.mapRecord(binding.ExternalUID, record)
		if err := r.repo.UpdateBindingSyncedMetrics(ctx, binding.ID, metrics, record.Raw, syncedAt); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, domain.SyncError{
				ExternalUID: binding.ExternalUID,
				Message:     err.Error(),
			})
			r.logger.Error("binding update failed", "uid", binding.ExternalUID, "binding_id", binding.ID, "error", err)
			continue
		}
		outcome.Updated++
	}

	return outcome
}

// mapRecord converts the partner's loosely typed payload into the internal
// schema. Missing or malformed numeric fields default to zero with a warning
// rather than failing the binding.
func (r *Reconciler) mapRecord(uid string, record *partnerclient.AffiliateRecord) domain.AffiliateMetrics {
	return domain.AffiliateMetrics{
		TotalDeposit:    r.parseDecimal(uid, "depositAmount", record.DepositAmount),
		TotalFee:        r.parseDecimal(uid, "accumulatedFee", record.TotalFee),
		TotalCommission: r.parseDecimal(uid, "totalCommission", record.TotalCommission),
		MonthlyVolume:   r.parseDecimal(uid, "volMonth", record.MonthlyVolume),
		PartnerLevel:    record.Level,
		RebateRate:      r.parseDecimal(uid, "affiliateRebateRate", record.RebateRate),
		FirstTradeAt:    r.parseEpochMillis(uid, "firstTradeTime", record.FirstTradeTime),
		KYCVerifiedAt:   r.parseEpochMillis(uid, "kycTime", record.KYCTime),
		JoinedAt:        r.parseEpochMillis(uid, "joinTime", record.JoinTime),
	}
}

func (r *Reconciler) parseDecimal(uid, field, value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.logger.Warn("non-numeric partner field; defaulting to zero", "uid", uid, "field", field, "value", value)
		return 0
	}
	return parsed
}

func (r *Reconciler) parseEpochMillis(uid, field, value string) *time.Time {
	if value == "" || value == "0" {
		return nil
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil || millis <= 0 {
		r.logger.Warn("malformed partner timestamp; leaving unset", "uid", uid, "field", field, "value", value)
		return nil
	}
	t := time.UnixMilli(millis).UTC()
	return &t
}
