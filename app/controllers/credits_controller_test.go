package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasWeigert/PromptGate/internal/pkg/admission"
	"github.com/JonasWeigert/PromptGate/internal/pkg/reconciler"
	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

type fakeLedger struct {
	mu       sync.Mutex
	records  map[string]usage.Record
	fetchErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]usage.Record)}
}

func (f *fakeLedger) FetchUsageRecord(ctx context.Context, userID string) (usage.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return usage.Record{}, f.fetchErr
	}
	rec, ok := f.records[userID]
	if !ok {
		return usage.NewRecord(userID, time.Now()), nil
	}
	return rec, nil
}

func (f *fakeLedger) SaveUsageRecord(ctx context.Context, userID string, rec usage.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = rec
	return nil
}

func setupCreditsApp(ledger *fakeLedger) *fiber.App {
	snapshots := usage.NewSnapshotCache(usage.DefaultCacheTTL)
	SetCreditControllerDeps(
		admission.NewService(ledger, snapshots),
		reconciler.New(ledger, snapshots),
		nil,
	)

	app := fiber.New()
	app.Get("/api/v1/credits", HandleGetCredits)
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestCreditGateBypassRequiresDevMode(t *testing.T) {
	t.Setenv("DISABLE_CREDIT_GATE", "true")

	t.Setenv("APP_ENV", "prod")
	InitializeCreditControllers()
	assert.False(t, AdmissionService().Bypass, "bypass must be inert outside dev")

	t.Setenv("APP_ENV", "dev")
	InitializeCreditControllers()
	assert.True(t, AdmissionService().Bypass)
}

func TestHandleGetCreditsMissingUserID(t *testing.T) {
	app := setupCreditsApp(newFakeLedger())

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "bad_request", body["error"])
}

func TestHandleGetCreditsSubscriber(t *testing.T) {
	ledger := newFakeLedger()
	weekStart := usage.CurrentWeekStart(time.Now())
	ledger.records["u1"] = usage.Record{
		UserID:           "u1",
		WeeklyUsed:       4,
		WeekStart:        weekStart,
		PurchasedCredits: 2,
		DemoUsed:         true,
		IsSubscribed:     true,
		SubscriptionType: usage.SubscriptionMonthly,
	}
	app := setupCreditsApp(ledger)

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, float64(58), body["creditsRemaining"])
	assert.Equal(t, float64(62), body["creditsTotal"])
	assert.Equal(t, "active", body["subscriptionStatus"])
	assert.Equal(t, "monthly", body["subscriptionType"])
	assert.Equal(t, weekStart.Add(7*24*time.Hour).UTC().Format(time.RFC3339), body["resetsAt"])
	assert.Equal(t, true, body["demoUsed"])
}

func TestHandleGetCreditsQueryParamFallback(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records["u2"] = usage.Record{
		UserID:           "u2",
		WeekStart:        usage.CurrentWeekStart(time.Now()),
		PurchasedCredits: 3,
	}
	app := setupCreditsApp(ledger)

	req := httptest.NewRequest("GET", "/api/v1/credits?user_id=u2", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, float64(3), body["creditsRemaining"])
	assert.Equal(t, "none", body["subscriptionStatus"])
	assert.Nil(t, body["subscriptionType"])
	assert.Nil(t, body["resetsAt"])
}

func TestHandleGetCreditsLedgerFailureDegradesToZero(t *testing.T) {
	ledger := newFakeLedger()
	ledger.fetchErr = errors.New("upstream down")
	app := setupCreditsApp(ledger)

	req := httptest.NewRequest("GET", "/api/v1/credits", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "display path must not surface upstream failures")

	body := decodeBody(t, resp.Body)
	assert.Equal(t, float64(0), body["creditsRemaining"])
	assert.Equal(t, float64(0), body["creditsTotal"])
	assert.Equal(t, "none", body["subscriptionStatus"])
}
