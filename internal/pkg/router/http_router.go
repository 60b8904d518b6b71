package router

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/sheetgenius/sheetgenius/app/controllers"
	"github.com/sheetgenius/sheetgenius/app/repository"
	"github.com/sheetgenius/sheetgenius/internal/pkg/billing"
	"github.com/sheetgenius/sheetgenius/internal/pkg/database"
	"github.com/sheetgenius/sheetgenius/internal/pkg/formula"
	"github.com/sheetgenius/sheetgenius/internal/pkg/mail"
	"github.com/sheetgenius/sheetgenius/internal/pkg/openai"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Wire the billing and formula services once; the controllers hold the
	// injected collaborators for the process lifetime.
	stripeAPI, err := billing.NewStripeAPIFromEnv()
	if err != nil {
		log.Fatalf("stripe client setup failed: %v", err)
	}
	billingSvc := billing.NewServiceFromDB(database.GetDB(), stripeAPI)
	billingSvc.Notifier = func(email, plan string) {
		if err := mail.SendPlanChangedMail(email, plan); err != nil {
			log.Printf("plan change mail to %s failed: %v", email, err)
		}
	}
	controllers.InitBillingController(billingSvc, stripeAPI)

	// A missing OPENAI_API_KEY is surfaced per request, not at boot: the
	// billing endpoints keep working while generation reports 500.
	llm := openai.NewClientFromEnv()
	gens := repository.GetGlobalFactory().GetGenerationRepository()
	controllers.InitFormulaController(formula.NewService(database.GetDB(), llm, gens))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"name": "sheetgenius", "docs": "/api/v1"})
	})
	app.Get("/health", controllers.HandleHealth)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
