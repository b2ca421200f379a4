package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeigert/PromptGate/internal/pkg/admission"
	"github.com/JonasWeigert/PromptGate/internal/pkg/database"
	"github.com/JonasWeigert/PromptGate/internal/pkg/env"
	"github.com/JonasWeigert/PromptGate/internal/pkg/reconciler"
	"github.com/JonasWeigert/PromptGate/internal/pkg/revenuecat"
	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

var (
	admissionService *admission.Service
	hookReconciler   *reconciler.Reconciler
	webhookEvents    reconciler.EventStore
)

// InitializeCreditControllers wires the accounting engine from environment
// configuration. Called once during router installation.
func InitializeCreditControllers() {
	client := revenuecat.NewClientFromEnv()
	snapshots := usage.NewSnapshotCache(usage.DefaultCacheTTL)

	svc := admission.NewService(client, snapshots)
	// The bypass is a dev-only escape hatch; it is ignored outside dev so a
	// stray env var can never switch off metering in production.
	svc.Bypass = env.IsDev() && env.GetEnv("DISABLE_CREDIT_GATE", "false") == "true"
	if svc.Bypass {
		fiberlog.Warn("credit gate disabled via DISABLE_CREDIT_GATE, all requests admitted")
	}

	var store reconciler.EventStore
	if db := database.GetDB(); db != nil {
		store = reconciler.NewEventStore(db)
	}

	SetCreditControllerDeps(svc, reconciler.New(client, snapshots), store)
}

// SetCreditControllerDeps injects the engine dependencies; tests use it to
// substitute fakes.
func SetCreditControllerDeps(svc *admission.Service, rec *reconciler.Reconciler, store reconciler.EventStore) {
	admissionService = svc
	hookReconciler = rec
	webhookEvents = store
}

// AdmissionService exposes the shared admission engine for the
// credit-consuming action endpoints.
func AdmissionService() *admission.Service {
	return admissionService
}

// HandleGetCredits reports the caller's current credit balance. Internal
// failures degrade to the zero-credit default instead of an error so the app
// never renders fabricated credits.
func HandleGetCredits(c *fiber.Ctx) error {
	userID := userIDFromRequest(c)
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing user identifier"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := admissionService.Summary(ctx, userID)
	if err != nil {
		fiberlog.Errorf("credits summary for user %s failed: %v", userID, err)
		return c.JSON(creditsResponse(usage.Record{UserID: userID, SubscriptionType: usage.SubscriptionNone}))
	}

	return c.JSON(creditsResponse(rec))
}

func creditsResponse(rec usage.Record) fiber.Map {
	status := "none"
	var subType interface{}
	var resetsAt interface{}
	if rec.IsSubscribed {
		status = "active"
		subType = string(rec.SubscriptionType)
		resetsAt = rec.WeekStart.Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339)
	}

	return fiber.Map{
		"creditsRemaining":   usage.CreditsRemaining(rec),
		"creditsTotal":       usage.CreditsTotal(rec),
		"subscriptionStatus": status,
		"subscriptionType":   subType,
		"resetsAt":           resetsAt,
		"demoUsed":           rec.DemoUsed,
	}
}

func userIDFromRequest(c *fiber.Ctx) string {
	if uid := strings.TrimSpace(c.Get("X-User-ID")); uid != "" {
		return uid
	}
	return strings.TrimSpace(c.Query("user_id"))
}
