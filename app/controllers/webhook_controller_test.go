package controllers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonasWeigert/PromptGate/internal/pkg/admission"
	"github.com/JonasWeigert/PromptGate/internal/pkg/reconciler"
	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

func setupWebhookApp(ledger *fakeLedger) (*fiber.App, *usage.SnapshotCache) {
	snapshots := usage.NewSnapshotCache(usage.DefaultCacheTTL)
	SetCreditControllerDeps(
		admission.NewService(ledger, snapshots),
		reconciler.New(ledger, snapshots),
		nil,
	)

	app := fiber.New()
	app.Post("/webhooks/revenuecat", HandleBillingWebhook)
	return app, snapshots
}

func TestHandleBillingWebhookNoSecretConfigured(t *testing.T) {
	app, _ := setupWebhookApp(newFakeLedger())

	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "webhook_not_configured", body["error"])
}

func TestHandleBillingWebhookRejectsBadSecret(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	app, _ := setupWebhookApp(newFakeLedger())

	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBillingWebhookRejectsMissingAuth(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	app, _ := setupWebhookApp(newFakeLedger())

	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleBillingWebhookAppliesPurchase(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	ledger := newFakeLedger()
	ledger.records["u1"] = usage.Record{
		UserID:    "u1",
		WeekStart: usage.CurrentWeekStart(time.Now()),
	}
	app, snapshots := setupWebhookApp(ledger)
	snapshots.Put("u1", ledger.records["u1"])

	payload := `{"event": {"id": "ev1", "type": "NON_RENEWING_PURCHASE", "app_user_id": "u1", "product_id": "credits_25"}}`
	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer hush")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["ok"])

	assert.Equal(t, 25, ledger.records["u1"].PurchasedCredits)
	_, cached := snapshots.Get("u1")
	assert.False(t, cached, "snapshot must be invalidated after a billing event")
}

func TestHandleBillingWebhookAcknowledgesMalformedPayload(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	app, _ := setupWebhookApp(newFakeLedger())

	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(`not json at all`))
	req.Header.Set("Authorization", "Bearer hush")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, true, body["ignored"])
}

func TestHandleBillingWebhookAcknowledgesUnprocessableEvent(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	ledger := newFakeLedger()
	app, _ := setupWebhookApp(ledger)

	// Missing app_user_id fails validation inside the reconciler; the
	// provider still gets a 200 so it does not retry a hopeless payload.
	payload := `{"event": {"id": "ev2", "type": "RENEWAL"}}`
	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer hush")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandleBillingWebhookSecretWithoutBearerPrefix(t *testing.T) {
	t.Setenv("REVENUECAT_WEBHOOK_SECRET", "hush")
	app, _ := setupWebhookApp(newFakeLedger())

	payload := `{"event": {"id": "ev3", "type": "RENEWAL", "app_user_id": "u1"}}`
	req := httptest.NewRequest("POST", "/webhooks/revenuecat", strings.NewReader(payload))
	req.Header.Set("Authorization", "hush")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
