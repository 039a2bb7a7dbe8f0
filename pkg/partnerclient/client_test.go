package partnerclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(baseURL, "key", "secret", "passphrase")
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	client.now = func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	return client
}

func TestNewClient_MissingCredentials(t *testing.T) {
	cases := []struct {
		name       string
		key        string
		secret     string
		passphrase string
	}{
		{"missing key", "", "secret", "pass"},
		{"missing secret", "key", "", "pass"},
		{"missing passphrase", "key", "secret", ""},
		{"blank passphrase", "key", "secret", "   "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient("https://partner.example", tc.key, tc.secret, tc.passphrase)
			if !errors.Is(err, ErrAuthConfiguration) {
				t.Fatalf("expected ErrAuthConfiguration, got %v", err)
			}
		})
	}
}

func TestGetAffiliateMember_SendsSignedHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotPath = r.URL.RequestURI()
		w.Write([]byte(`{"code":"0","data":[{"uid":"123"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	record, err := client.GetAffiliateMember(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetAffiliateMember returned error: %v", err)
	}
	if record == nil || record.UID != "123" {
		t.Fatalf("expected record for uid 123, got %+v", record)
	}

	if gotPath != "/api/affiliate/member?uid=123" {
		t.Fatalf("unexpected request path: %q", gotPath)
	}
	if gotHeaders.Get("ACCESS-KEY") != "key" {
		t.Errorf("missing ACCESS-KEY header")
	}
	if gotHeaders.Get("ACCESS-PASSPHRASE") != "passphrase" {
		t.Errorf("missing ACCESS-PASSPHRASE header")
	}

	timestamp := gotHeaders.Get("ACCESS-TIMESTAMP")
	if timestamp != "2026-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected ACCESS-TIMESTAMP: %q", timestamp)
	}
	expectedSig := Sign("secret", timestamp, http.MethodGet, "/api/affiliate/member?uid=123", "")
	if gotHeaders.Get("ACCESS-SIGN") != expectedSig {
		t.Errorf("ACCESS-SIGN does not match the canonical signature")
	}
}

func TestGetAffiliateMember_NonZeroCodeMeansNoRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"51000","msg":"member not found","data":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	record, err := client.GetAffiliateMember(context.Background(), "999")
	if err != nil {
		t.Fatalf("expected no error for a no-record response, got %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record, got %+v", record)
	}
}

func TestGetAffiliateMember_EmptyDataMeansNoRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	record, err := client.GetAffiliateMember(context.Background(), "999")
	if err != nil {
		t.Fatalf("expected no error for empty data, got %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record, got %+v", record)
	}
}

func TestGetAffiliateMember_Non2xxReturnsUpstreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"msg":"rate limited"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetAffiliateMember(context.Background(), "123")

	var upstreamErr *UpstreamHTTPError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamHTTPError, got %v", err)
	}
	if upstreamErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", upstreamErr.StatusCode)
	}
	if upstreamErr.Snippet == "" {
		t.Error("expected body snippet in error")
	}
}

func TestGetAffiliateMember_KeepsRawPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[{"uid":"123","depositAmount":"42.5","region":"EU"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	record, err := client.GetAffiliateMember(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetAffiliateMember returned error: %v", err)
	}

	if record.DepositAmount != "42.5" {
		t.Errorf("expected typed depositAmount, got %q", record.DepositAmount)
	}
	if record.Raw["region"] != "EU" {
		t.Errorf("expected raw payload to keep fields outside the typed schema, got %v", record.Raw)
	}
}
