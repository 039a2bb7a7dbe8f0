/**
 * @description
 * Rate-limited batch fetcher for partner affiliate records. The partner
 * enforces a strict request quota, so identifiers are fetched in fixed-size
 * chunks: every lookup within a chunk runs concurrently, the whole chunk
 * settles before the next one starts, and a fixed delay separates chunks.
 * That wave discipline is the quota enforcement; there is no token bucket.
 *
 * @dependencies
 * - context, log/slog, sync, time: Standard Go libraries.
 * - pkg/partnerclient: The signed partner API client.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coinatlas/affiliate-service/pkg/partnerclient"
)

// MemberLookup is the single partner call the fetcher needs.
type MemberLookup interface {
	GetAffiliateMember(ctx context.Context, uid string) (*partnerclient.AffiliateRecord, error)
}

// FetchProgress is emitted once per completed chunk.
type FetchProgress struct {
	Completed int
	Total     int
}

// BatchFetcher pulls affiliate records for a set of external UIDs under the
// partner's request quota.
type BatchFetcher struct {
	client     MemberLookup
	chunkSize  int
	chunkDelay time.Duration
	logger     *slog.Logger
}

// NewBatchFetcher creates a fetcher with the given chunk size and inter-chunk
// delay. Both are quota-derived; the delay is deliberately padded above the
// partner's nominal window to absorb clock skew.
func NewBatchFetcher(client MemberLookup, chunkSize int, chunkDelay time.Duration, logger *slog.Logger) *BatchFetcher {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	return &BatchFetcher{
		client:     client,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		logger:     logger,
	}
}

// FetchAll looks up every UID and returns a map from UID to its record, or
// nil where the partner had no record or the lookup failed. One member's
// failure never blocks the others. If progress is non-nil the fetcher sends
// one event per completed chunk and closes the channel when done.
func (f *BatchFetcher) FetchAll(ctx context.Context, uids []string, progress chan<- FetchProgress) map[string]*partnerclient.AffiliateRecord {
	if progress != nil {
		defer close(progress)
	}

	results := make(map[string]*partnerclient.AffiliateRecord, len(uids))
	var mu sync.Mutex

	for start := 0; start < len(uids); start += f.chunkSize {
		end := start + f.chunkSize
		if end > len(uids) {
			end = len(uids)
		}
		chunk := uids[start:end]

		var wg sync.WaitGroup
		for _, uid := range chunk {
			wg.Add(1)
			go func(uid string) {
				defer wg.Done()

				record, err := f.client.GetAffiliateMember(ctx, uid)
				if err != nil {
					f.logger.Warn("affiliate lookup failed", "uid", uid, "error", err)
					record = nil
				}

				mu.Lock()
				results[uid] = record
				mu.Unlock()
			}(uid)
		}
		wg.Wait()

		if progress != nil {
			progress <- FetchProgress{Completed: end, Total: len(uids)}
		}

		// No delay after the final chunk. A cancelled context aborts the
		// sleep and returns whatever has been fetched so far.
		if end < len(uids) && f.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				f.logger.Warn("batch fetch cancelled between chunks", "completed", end, "total", len(uids))
				return results
			case <-time.After(f.chunkDelay):
			}
		}
	}

	return results
}
