/**
 * @description
 * This package provides a client for the partner exchange's affiliate API.
 * It encapsulates the logic for making signed HTTP requests, handling the
 * partner's response envelope, and surfacing transport/HTTP errors.
 *
 * @dependencies
 * - context, encoding/json, fmt, io, net/http, net/url, time: Standard Go libraries.
 */
package partnerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAuthConfiguration indicates missing signing credentials. It is fatal:
// a client cannot be constructed without a full credential set, so no
// network call is ever attempted.
var ErrAuthConfiguration = errors.New("partner api credentials not configured")

const (
	affiliateMemberPath = "/api/affiliate/member"
	maxErrorBodySnippet = 512
)

// UpstreamHTTPError is returned when the partner responds with a non-2xx
// status. It is a per-call error; callers treat it as "no record" for the
// affected identifier and keep the batch going.
type UpstreamHTTPError struct {
	StatusCode int
	Snippet    string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("partner api returned status %d: %s", e.StatusCode, e.Snippet)
}

// envelope is the partner's standard response wrapper.
// code != "0" or an empty data array means "no record", not an error.
type envelope struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg,omitempty"`
	Data []json.RawMessage `json:"data"`
}

// AffiliateRecord is the partner's view of one affiliate member. Amounts
// arrive as decimal strings and timestamps as epoch milliseconds; parsing
// into the internal schema happens during reconciliation. Raw holds the
// untouched payload for the binding's audit field.
type AffiliateRecord struct {
	UID             string `json:"uid"`
	DepositAmount   string `json:"depositAmount"`
	TotalFee        string `json:"accumulatedFee"`
	TotalCommission string `json:"totalCommission"`
	MonthlyVolume   string `json:"volMonth"`
	Level           string `json:"level"`
	RebateRate      string `json:"affiliateRebateRate"`
	FirstTradeTime  string `json:"firstTradeTime"` // epoch ms
	KYCTime         string `json:"kycTime"`        // epoch ms
	JoinTime        string `json:"joinTime"`       // epoch ms

	Raw map[string]any `json:"-"`
}

// Client is a signed-request client for the partner affiliate API.
type Client struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	HTTPClient *http.Client

	// now is swappable in tests so signatures are reproducible.
	now func() time.Time
}

// NewClient creates a new partner API client. All three credentials must be
// present; a partial credential set aborts before any network call.
func NewClient(baseURL, apiKey, apiSecret, passphrase string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" || strings.TrimSpace(passphrase) == "" {
		return nil, ErrAuthConfiguration
	}

	return &Client{
		BaseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		APIKey:     apiKey,
		APISecret:  apiSecret,
		Passphrase: passphrase,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}, nil
}

// GetAffiliateMember fetches the partner's record for one external UID.
// A (nil, nil) return means the partner has no record for the identifier.
func (c *Client) GetAffiliateMember(ctx context.Context, uid string) (*AffiliateRecord, error) {
	requestPath := affiliateMemberPath + "?uid=" + url.QueryEscape(uid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+requestPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build partner request: %w", err)
	}

	timestamp := SignTimestamp(c.now())
	req.Header.Set("ACCESS-KEY", c.APIKey)
	req.Header.Set("ACCESS-SIGN", Sign(c.APISecret, timestamp, http.MethodGet, requestPath, ""))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.Passphrase)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("partner request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read partner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > maxErrorBodySnippet {
			snippet = snippet[:maxErrorBodySnippet]
		}
		return nil, &UpstreamHTTPError{StatusCode: resp.StatusCode, Snippet: snippet}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode partner response: %w", err)
	}
	if env.Code != "0" || len(env.Data) == 0 {
		return nil, nil
	}

	var record AffiliateRecord
	if err := json.Unmarshal(env.Data[0], &record); err != nil {
		return nil, fmt.Errorf("failed to decode affiliate record: %w", err)
	}
	// Keep the untouched payload alongside the typed fields for audit.
	if err := json.Unmarshal(env.Data[0], &record.Raw); err != nil {
		record.Raw = nil
	}

	return &record, nil
}
