package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coinatlas/affiliate-service/pkg/partnerclient"
)

type lookupStub struct {
	mu           sync.Mutex
	calls        int
	inFlight     int
	maxInFlight  int
	missingUIDs  map[string]bool
	failingUIDs  map[string]bool
	perCallDelay time.Duration
}

func (s *lookupStub) GetAffiliateMember(ctx context.Context, uid string) (*partnerclient.AffiliateRecord, error) {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	if s.perCallDelay > 0 {
		time.Sleep(s.perCallDelay)
	}

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	if s.failingUIDs[uid] {
		return nil, errors.New("partner api unavailable")
	}
	if s.missingUIDs[uid] {
		return nil, nil
	}
	return &partnerclient.AffiliateRecord{UID: uid}, nil
}

func testUIDs(n int) []string {
	uids := make([]string, n)
	for i := range uids {
		uids[i] = fmt.Sprintf("uid-%03d", i)
	}
	return uids
}

func newTestFetcher(client MemberLookup, chunkSize int) *BatchFetcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBatchFetcher(client, chunkSize, time.Millisecond, logger)
}

func TestFetchAll_ChunkWaveCountAndConcurrencyBound(t *testing.T) {
	stub := &lookupStub{perCallDelay: 5 * time.Millisecond}
	fetcher := newTestFetcher(stub, 20)

	progress := make(chan FetchProgress, 3)
	results := fetcher.FetchAll(context.Background(), testUIDs(45), progress)

	if stub.calls != 45 {
		t.Fatalf("expected 45 lookups, got %d", stub.calls)
	}
	if len(results) != 45 {
		t.Fatalf("expected 45 results, got %d", len(results))
	}
	if stub.maxInFlight > 20 {
		t.Fatalf("concurrency exceeded the chunk size: %d in flight", stub.maxInFlight)
	}

	var events []FetchProgress
	for p := range progress {
		events = append(events, p)
	}
	want := []FetchProgress{{20, 45}, {40, 45}, {45, 45}}
	if len(events) != len(want) {
		t.Fatalf("expected %d progress events (one per chunk wave), got %d", len(want), len(events))
	}
	for i, event := range events {
		if event != want[i] {
			t.Errorf("progress event %d = %+v, want %+v", i, event, want[i])
		}
	}
}

func TestFetchAll_FailedAndMissingLookupsYieldNil(t *testing.T) {
	stub := &lookupStub{
		missingUIDs: map[string]bool{"uid-001": true},
		failingUIDs: map[string]bool{"uid-002": true},
	}
	fetcher := newTestFetcher(stub, 2)

	results := fetcher.FetchAll(context.Background(), testUIDs(4), nil)

	if len(results) != 4 {
		t.Fatalf("expected an entry for every uid, got %d", len(results))
	}
	if results["uid-001"] != nil {
		t.Error("expected nil for a missing member")
	}
	if results["uid-002"] != nil {
		t.Error("expected nil for a failed lookup; one member must never block others")
	}
	if results["uid-000"] == nil || results["uid-003"] == nil {
		t.Error("expected healthy lookups to succeed alongside failures")
	}
}

func TestFetchAll_SingleChunkEmitsOneEvent(t *testing.T) {
	stub := &lookupStub{}
	fetcher := newTestFetcher(stub, 20)

	progress := make(chan FetchProgress, 1)
	fetcher.FetchAll(context.Background(), testUIDs(5), progress)

	var events []FetchProgress
	for p := range progress {
		events = append(events, p)
	}
	if len(events) != 1 || events[0] != (FetchProgress{5, 5}) {
		t.Fatalf("expected a single {5,5} progress event, got %v", events)
	}
}

func TestFetchAll_CancelledContextStopsBetweenChunks(t *testing.T) {
	stub := &lookupStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fetcher := NewBatchFetcher(stub, 10, time.Hour, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := fetcher.FetchAll(ctx, testUIDs(25), nil)

	// The first chunk completes; the cancelled inter-chunk sleep stops the rest.
	if stub.calls != 10 {
		t.Fatalf("expected only the first chunk to run, got %d lookups", stub.calls)
	}
	if len(results) != 10 {
		t.Fatalf("expected partial results for the completed chunk, got %d", len(results))
	}
}

func TestFetchAll_EmptyInput(t *testing.T) {
	stub := &lookupStub{}
	fetcher := newTestFetcher(stub, 20)

	progress := make(chan FetchProgress, 1)
	results := fetcher.FetchAll(context.Background(), nil, progress)

	if len(results) != 0 {
		t.Fatalf("expected empty result map, got %d entries", len(results))
	}
	if _, open := <-progress; open {
		t.Fatal("expected progress channel to be closed without events")
	}
}
