package router

import (
	"github.com/JonasWeigert/PromptGate/app/controllers"
	"github.com/JonasWeigert/PromptGate/internal/pkg/constants"
	"github.com/JonasWeigert/PromptGate/internal/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, ratelimit.NewAPILimiter())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	v1.Get(constants.CreditsRoute, controllers.HandleGetCredits)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
