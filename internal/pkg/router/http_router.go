package router

import (
	"github.com/JonasWeigert/PromptGate/app/controllers"
	"github.com/JonasWeigert/PromptGate/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Wire the accounting engine before any route can be hit.
	controllers.InitializeCreditControllers()

	app.Get(constants.PingRoute, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
	})

	// Billing-provider webhook ingress stays outside the API rate limiter so
	// provider deliveries are never throttled into retries.
	app.Post(constants.WebhookRoute, controllers.HandleBillingWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
