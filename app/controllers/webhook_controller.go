package controllers

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeigert/PromptGate/app/models"
	"github.com/JonasWeigert/PromptGate/internal/pkg/env"
	"github.com/JonasWeigert/PromptGate/internal/pkg/reconciler"
)

// HandleBillingWebhook ingests billing-provider events. Once the shared
// secret checks out the handler always acknowledges with 200, whatever
// happens during processing, so the provider never enters a retry storm.
func HandleBillingWebhook(c *fiber.Ctx) error {
	secret := strings.TrimSpace(env.GetEnv("REVENUECAT_WEBHOOK_SECRET", ""))
	if secret == "" {
		// Misconfiguration, distinct from an authentication failure.
		fiberlog.Error("billing webhook received but REVENUECAT_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
	}
	if !webhookAuthorized(c, secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)

	ev, err := reconciler.ParseEvent(rawBody)
	if err != nil {
		// Malformed payloads are acknowledged anyway; there is nothing to retry.
		fiberlog.Errorf("billing webhook payload not parseable: %v", err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var stored *models.WebhookEvent
	if webhookEvents != nil {
		created, record, storeErr := webhookEvents.CreateIfNotExists(&models.WebhookEvent{
			ProviderEventID: reconciler.EventDedupID(ev.ID, rawBody),
			EventType:       ev.Type,
			AppUserID:       ev.AppUserID,
			ProductID:       ev.ProductID,
			PayloadJSON:     string(rawBody),
		})
		if storeErr != nil {
			fiberlog.Errorf("billing webhook event persist failed: %v", storeErr)
		} else if !created {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
		} else {
			stored = record
		}
	}

	procErr := hookReconciler.Process(ctx, ev)
	if procErr != nil {
		fiberlog.Errorf("billing webhook %s for user %s not applied: %v", ev.Type, ev.AppUserID, procErr)
	}
	if stored != nil {
		errMsg := ""
		if procErr != nil {
			errMsg = procErr.Error()
		}
		if err := webhookEvents.MarkProcessed(stored.ID, errMsg); err != nil {
			fiberlog.Errorf("billing webhook event update failed: %v", err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func webhookAuthorized(c *fiber.Ctx, secret string) bool {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		auth = strings.TrimSpace(auth[7:])
	}
	if auth == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(auth), []byte(secret)) == 1
}
