package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/postlane/publish-engine/internal/service"
)

// Runners groups the periodic jobs exposed as manual trigger endpoints.
// A scheduler normally drives these; the endpoints exist for operators and
// for external cron services.
type Runners struct {
	Dispatcher *service.Dispatcher
	Retries    *service.RetryRunner
	Sweeper    *service.Sweeper
	Reconciler *service.Reconciler
}

func RegisterTriggerRoutes(app fiber.Router, runners Runners) {
	app.Post("/internal/run/dispatch", runTrigger(func(c *fiber.Ctx) (service.RunSummary, error) {
		return runners.Dispatcher.RunDueDispatch(c.UserContext())
	}))
	app.Post("/internal/run/retries", runTrigger(func(c *fiber.Ctx) (service.RunSummary, error) {
		return runners.Retries.RunRetries(c.UserContext())
	}))
	app.Post("/internal/run/sweep", runTrigger(func(c *fiber.Ctx) (service.RunSummary, error) {
		return runners.Sweeper.RunStuckSweep(c.UserContext())
	}))
	app.Post("/internal/run/reconcile", runTrigger(func(c *fiber.Ctx) (service.RunSummary, error) {
		return runners.Reconciler.RunReconciliation(c.UserContext())
	}))
}

func runTrigger(run func(c *fiber.Ctx) (service.RunSummary, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		summary, err := run(c)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusOK).JSON(summary)
	}
}
