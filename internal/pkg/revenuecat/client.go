package revenuecat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonasWeigert/PromptGate/internal/pkg/env"
	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

const defaultAPIBaseURL = "https://api.revenuecat.com/v1"

// ErrLedgerUnavailable marks remote reads/writes that failed for a reason
// other than "subscriber unknown". Admission fails closed on it; the display
// path degrades to the zero-credit default instead.
var ErrLedgerUnavailable = errors.New("billing ledger unavailable")

// Client talks to the RevenueCat REST API, which is the source of truth for
// entitlement state and for the usage counters this engine owns.
type Client struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		APIKey:     strings.TrimSpace(env.GetEnv("REVENUECAT_API_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("REVENUECAT_API_BASE_URL", defaultAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// subscriberResponse mirrors the slice of the GET /subscribers payload we
// consume: entitlement state plus our namespaced string attributes.
type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ExpiresDate       *time.Time `json:"expires_date"`
			ProductIdentifier string     `json:"product_identifier"`
		} `json:"entitlements"`
		SubscriberAttributes map[string]struct {
			Value string `json:"value"`
		} `json:"subscriber_attributes"`
	} `json:"subscriber"`
}

// FetchUsageRecord loads entitlements and usage counters for a user. An
// unknown subscriber is not an error: it yields a fresh zero-state record.
func (c *Client) FetchUsageRecord(ctx context.Context, userID string) (usage.Record, error) {
	now := time.Now()
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return usage.Record{}, errors.New("user id is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return usage.Record{}, fmt.Errorf("%w: REVENUECAT_API_KEY is not configured", ErrLedgerUnavailable)
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/subscribers/" + url.PathEscape(uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return usage.Record{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return usage.Record{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		// Subscriber does not exist yet; synthesize the default record.
		return usage.NewRecord(uid, now), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return usage.Record{}, fmt.Errorf("%w: subscriber fetch failed: status=%d body=%s", ErrLedgerUnavailable, resp.StatusCode, string(body))
	}

	var raw subscriberResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return usage.Record{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	attrs := make(map[string]string, len(raw.Subscriber.SubscriberAttributes))
	for k, v := range raw.Subscriber.SubscriberAttributes {
		attrs[k] = v.Value
	}
	rec := usage.ParseAttributes(uid, attrs, now)

	// Highest-ranked active entitlement wins when a user holds several.
	for _, ent := range raw.Subscriber.Entitlements {
		if ent.ExpiresDate != nil && !ent.ExpiresDate.After(now) {
			continue
		}
		tier := usage.ParseSubscriptionType(ent.ProductIdentifier)
		if !rec.IsSubscribed || usage.TierRank(tier) > usage.TierRank(rec.SubscriptionType) {
			rec.IsSubscribed = true
			rec.SubscriptionType = tier
			rec.ExpiresAt = ent.ExpiresDate
		}
	}

	return rec, nil
}

// SaveUsageRecord writes the four owned counters back as subscriber
// attributes. Derived entitlement fields are never persisted.
func (c *Client) SaveUsageRecord(ctx context.Context, userID string, rec usage.Record) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: REVENUECAT_API_KEY is not configured", ErrLedgerUnavailable)
	}

	attrs := make(map[string]map[string]string)
	for k, v := range rec.Attributes() {
		attrs[k] = map[string]string{"value": v}
	}
	payload, err := json.Marshal(map[string]interface{}{"attributes": attrs})
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/subscribers/" + url.PathEscape(uid) + "/attributes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: attribute write failed: status=%d body=%s", ErrLedgerUnavailable, resp.StatusCode, string(body))
	}
	return nil
}
